package services

import (
	"context"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
)

// InviteService invites users who do not follow a channel yet.
type InviteService struct {
	deps     Deps
	guardian *Guardian
}

type invitationData struct {
	ChatChannelID     int    `json:"chat_channel_id"`
	ChatChannelTitle  string `json:"chat_channel_title"`
	ChatMessageID     int    `json:"chat_message_id,omitempty"`
	InvitedByUsername string `json:"invited_by_username"`
}

// Invite notifies every listed user that can see ch and does not follow
// it. It returns the ids of the users that were invited.
func (s *InviteService) Invite(ctx context.Context, actor models.User, ch models.Channel, userIDs []int, messageID int) ([]int, error) {
	if !s.guardian.CanChat(actor) || !s.guardian.CanSeeChannel(ctx, actor, ch) {
		return nil, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot invite to this channel")
	}
	if messageID != 0 {
		msg, err := s.deps.Store.Messages.GetMessage(ctx, messageID)
		if err != nil {
			return nil, lookupErr(err, "message")
		}
		if msg.ChatChannelID != ch.ID {
			return nil, apperrors.NotFound("message not found")
		}
	}
	if len(userIDs) == 0 {
		return []int{}, nil
	}

	users, err := s.deps.Store.Users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, apperrors.Internal("load users", err)
	}
	memberships, err := s.deps.Store.Memberships.ListForUsers(ctx, ch.ID, userIDs)
	if err != nil {
		return nil, apperrors.Internal("load memberships", err)
	}
	following := make(map[int]bool, len(memberships))
	for _, m := range memberships {
		following[m.UserID] = m.Following
	}

	data := invitationData{
		ChatChannelID:     ch.ID,
		ChatChannelTitle:  ch.Name,
		ChatMessageID:     messageID,
		InvitedByUsername: actor.Username,
	}
	invited := []int{}
	for _, u := range users {
		if u.ID == actor.ID || following[u.ID] {
			continue
		}
		if !s.guardian.CanChat(u) || !s.guardian.CanSeeChannel(ctx, u, ch) {
			continue
		}
		if _, err := s.deps.Store.Notifications.CreateNotification(ctx, u.ID, models.NotificationChatInvitation, data); err != nil {
			s.deps.Logger.ErrorContext(ctx, "create invitation", "user_id", u.ID, "chat_channel_id", ch.ID, "error", err)
			continue
		}
		s.deps.Publisher.Publish(ctx, NotificationAlertTopic(u.ID), models.NotificationAlert{
			NotificationType: models.NotificationChatInvitation,
			ChatChannelID:    ch.ID,
			ChatMessageID:    messageID,
			Username:         actor.Username,
		}, []int{u.ID})
		invited = append(invited, u.ID)
	}
	observability.AddNotifications("invitation", "created", len(invited))
	return invited, nil
}
