package services

import (
	"context"
	"errors"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/validation"
)

// ReactionService toggles emoji reactions on messages.
type ReactionService struct {
	deps      Deps
	guardian  *Guardian
	validator *validation.Validator
}

func newReactionService(d Deps, g *Guardian) *ReactionService {
	return &ReactionService{deps: d, guardian: g, validator: validation.New()}
}

// ReactRequest is one reaction toggle.
type ReactRequest struct {
	Emoji  string             `validate:"required,max=60,chat_emoji"`
	Action models.ReactAction `validate:"required,oneof=add remove"`
}

// React adds or removes user's emoji on a message. Adding an existing
// reaction and removing a missing one change nothing and publish nothing.
// It reports whether anything changed.
func (s *ReactionService) React(ctx context.Context, user models.User, ch models.Channel, messageID int, req ReactRequest) (bool, error) {
	if errs := s.validator.ValidateStruct(req); errs != nil {
		reason := apperrors.ReasonInvalidEmoji
		for _, e := range errs {
			if e.Field == "Action" {
				reason = apperrors.ReasonInvalidReactAction
			}
		}
		return false, apperrors.InvalidArg(reason, validation.Summary(errs))
	}

	msg, err := s.deps.Store.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return false, lookupErr(err, "message")
	}
	if msg.ChatChannelID != ch.ID || msg.Deleted() {
		return false, apperrors.NotFound("message not found")
	}
	if !s.guardian.CanChat(user) || !s.guardian.CanSeeChannel(ctx, user, ch) {
		return false, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot react in this channel")
	}
	m, err := s.deps.Store.Memberships.GetMembership(ctx, user.ID, ch.ID)
	if errors.Is(err, repositories.ErrMembershipNotFound) || (err == nil && !m.Following) {
		return false, apperrors.Forbidden(apperrors.ReasonNotFollowing, "you must follow the channel to react")
	}
	if err != nil {
		return false, apperrors.Internal("load membership", err)
	}
	if !s.guardian.CanModifyChannel(user, ch) {
		return false, apperrors.Forbidden(apperrors.ReasonChannelNotModifiable, "channel is "+string(ch.Status))
	}

	var changed bool
	switch req.Action {
	case models.ReactAdd:
		changed, err = s.deps.Store.Reactions.AddReaction(ctx, msg.ID, user.ID, req.Emoji, s.deps.Limits.MaxReactions)
	case models.ReactRemove:
		changed, err = s.deps.Store.Reactions.RemoveReaction(ctx, msg.ID, user.ID, req.Emoji)
	}
	if errors.Is(err, repositories.ErrTooManyReactions) {
		return false, apperrors.FailedPrecondition(apperrors.ReasonTooManyReactions, "message has reached the reaction limit")
	}
	if err != nil {
		return false, apperrors.Internal("store reaction", err)
	}
	if !changed {
		return false, nil
	}

	observability.IncReaction(string(req.Action))
	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{
		Type:      models.EventReaction,
		MessageID: msg.ID,
		Action:    req.Action,
		Emoji:     req.Emoji,
		UserID:    user.ID,
	}, nil)
	return true, nil
}
