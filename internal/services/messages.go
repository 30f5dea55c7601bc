package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/repositories"
)

// MessageService creates, edits, deletes and lists channel messages.
type MessageService struct {
	deps     Deps
	guardian *Guardian
	notifier *Notifier
}

// CreateParams is the body of a new message.
type CreateParams struct {
	Message     string
	StagedID    string
	UploadIDs   []int
	InReplyToID *int
}

// Create appends a message to ch. Once the row is stored the call
// succeeds; publishing and notification failures are only logged.
func (s *MessageService) Create(ctx context.Context, user models.User, ch models.Channel, p CreateParams) (models.MessageView, error) {
	if err := s.checkWritable(ctx, user, ch); err != nil {
		return models.MessageView{}, err
	}
	if err := s.validateContent(p.Message, p.UploadIDs); err != nil {
		return models.MessageView{}, err
	}

	var reply *models.Message
	if p.InReplyToID != nil {
		target, err := s.deps.Store.Messages.GetMessage(ctx, *p.InReplyToID)
		if err != nil && !errors.Is(err, repositories.ErrMessageNotFound) {
			return models.MessageView{}, apperrors.Internal("load reply target", err)
		}
		if err != nil || target.ChatChannelID != ch.ID {
			return models.MessageView{}, apperrors.InvalidArg(apperrors.ReasonInvalidReply, "reply target must be a message of this channel")
		}
		reply = &target
	}

	cooked, err := s.deps.Cooker.Cook(ctx, p.Message)
	if err != nil {
		return models.MessageView{}, apperrors.Internal("cook message", err)
	}
	msg, err := s.deps.Store.Messages.CreateMessage(ctx, models.Message{
		ChatChannelID: ch.ID,
		UserID:        user.ID,
		Message:       p.Message,
		Cooked:        cooked,
		InReplyToID:   p.InReplyToID,
		UploadIDs:     toInt64s(p.UploadIDs),
	})
	if err != nil {
		return models.MessageView{}, apperrors.Internal("store message", err)
	}
	observability.IncMessage("create")

	if _, err := s.deps.Store.Memberships.AdvanceLastRead(ctx, user.ID, ch.ID, msg.ID); err != nil {
		s.deps.Logger.WarnContext(ctx, "advance author read cursor", "chat_message_id", msg.ID, "error", err)
	}

	view := models.MessageView{Message: msg, Reactions: []models.ReactionSummary{}}
	if reply != nil {
		view.InReplyTo = snapshot(*reply)
	}
	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{
		Type:     models.EventSent,
		StagedID: p.StagedID,
		Message:  &view,
	}, nil)
	s.deps.Publisher.Publish(ctx, NewMessagesTopic(ch.ID), models.NewMessageEvent{
		MessageID: msg.ID,
		UserID:    user.ID,
	}, nil)
	s.notifier.NotifyNew(ctx, user, ch, msg)
	return view, nil
}

// Edit replaces the content of a message. Unchanged content is a no-op.
func (s *MessageService) Edit(ctx context.Context, user models.User, ch models.Channel, messageID int, raw string, uploadIDs []int) (models.MessageView, error) {
	msg, err := s.load(ctx, ch, messageID)
	if err != nil {
		return models.MessageView{}, err
	}
	if !s.guardian.CanSeeChannel(ctx, user, ch) || !s.guardian.CanEditMessage(user, msg, ch) {
		return models.MessageView{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot edit this message")
	}
	if err := s.validateContent(raw, uploadIDs); err != nil {
		return models.MessageView{}, err
	}
	if raw == msg.Message && slices.Equal(toInt64s(uploadIDs), []int64(msg.UploadIDs)) {
		return s.View(ctx, msg), nil
	}

	cooked, err := s.deps.Cooker.Cook(ctx, raw)
	if err != nil {
		return models.MessageView{}, apperrors.Internal("cook message", err)
	}
	updated, err := s.deps.Store.Messages.UpdateContent(ctx, msg.ID, user.ID, raw, cooked, toInt64s(uploadIDs))
	if err != nil {
		return models.MessageView{}, lookupErr(err, "message")
	}
	observability.IncMessage("edit")

	view := s.View(ctx, updated)
	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{Type: models.EventEdit, Message: &view}, nil)
	s.notifier.NotifyChanged(ctx, user, ch, updated)
	return view, nil
}

// Delete soft-deletes a message. Non-staff users are limited in how many of
// their own messages they can delete per day.
func (s *MessageService) Delete(ctx context.Context, actor models.User, ch models.Channel, messageID int) error {
	msg, err := s.load(ctx, ch, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted() {
		return apperrors.NotFound("message not found")
	}
	if !s.guardian.CanSeeChannel(ctx, actor, ch) || !s.guardian.CanDeleteMessage(actor, msg, ch) {
		return apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot delete this message")
	}
	if !actor.IsStaff() {
		count, err := s.deps.Store.Messages.CountDeletedBy(ctx, actor.ID, s.deps.Now().Add(-24*time.Hour))
		if err != nil {
			return apperrors.Internal("count deletions", err)
		}
		if count >= s.deps.Limits.MaxDeletesPerDay {
			return apperrors.RateLimited(apperrors.ReasonDeleteQuotaExceeded, "you have deleted too many messages today")
		}
	}

	deleted, err := s.deps.Store.Messages.SoftDelete(ctx, msg.ID, actor.ID)
	if err != nil {
		return lookupErr(err, "message")
	}
	observability.IncMessage("delete")

	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{
		Type:      models.EventDelete,
		DeletedID: deleted.ID,
		DeletedAt: deleted.DeletedAt,
	}, nil)
	s.notifier.NotifyDeleted(ctx, deleted)
	return nil
}

// Restore brings a soft-deleted message back and re-resolves its mentions.
func (s *MessageService) Restore(ctx context.Context, actor models.User, ch models.Channel, messageID int) (models.MessageView, error) {
	msg, err := s.load(ctx, ch, messageID)
	if err != nil {
		return models.MessageView{}, err
	}
	if !s.guardian.CanSeeChannel(ctx, actor, ch) || !s.guardian.CanRestoreMessage(actor, msg, ch) {
		return models.MessageView{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot restore this message")
	}
	restored, err := s.deps.Store.Messages.Restore(ctx, msg.ID)
	if err != nil {
		return models.MessageView{}, lookupErr(err, "message")
	}
	observability.IncMessage("restore")

	view := s.View(ctx, restored)
	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), models.ChatEvent{Type: models.EventRestore, Message: &view}, nil)
	s.notifier.NotifyChanged(ctx, actor, ch, restored)
	return view, nil
}

// PageParams selects a window of a channel's history.
type PageParams struct {
	TargetMessageID int
	Direction       models.Direction
	PageSize        int
}

// ListPage returns messages in ascending id order around an optional anchor.
func (s *MessageService) ListPage(ctx context.Context, viewer models.User, ch models.Channel, p PageParams) ([]models.MessageView, models.PageMeta, error) {
	if !s.guardian.CanSeeChannel(ctx, viewer, ch) {
		return nil, models.PageMeta{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot see this channel")
	}
	size := p.PageSize
	switch {
	case size <= 0:
		size = s.deps.Limits.DefaultPageSize
	case size > s.deps.Limits.MaxPageSize:
		size = s.deps.Limits.MaxPageSize
	}
	dir := p.Direction
	switch dir {
	case "":
		dir = models.DirectionPast
	case models.DirectionPast, models.DirectionFuture, models.DirectionAround:
	default:
		return nil, models.PageMeta{}, apperrors.InvalidArg("", "direction must be past, future or around")
	}

	msgs, meta, err := s.deps.Store.Messages.ListPage(ctx, models.PageQuery{
		ChannelID:      ch.ID,
		AnchorID:       p.TargetMessageID,
		Direction:      dir,
		PageSize:       size,
		ViewerID:       viewer.ID,
		IncludeDeleted: viewer.IsStaff(),
	})
	if err != nil {
		return nil, models.PageMeta{}, apperrors.Internal("list messages", err)
	}
	views, err := s.Views(ctx, msgs)
	if err != nil {
		return nil, models.PageMeta{}, apperrors.Internal("load message details", err)
	}
	return views, meta, nil
}

// UpdateReadCursor moves the user's read cursor forward to messageID and
// marks mentions up to it read. Moving it backwards is ignored.
func (s *MessageService) UpdateReadCursor(ctx context.Context, user models.User, ch models.Channel, messageID int) (models.TrackingUpdate, error) {
	membership, err := s.deps.Store.Memberships.GetMembership(ctx, user.ID, ch.ID)
	if errors.Is(err, repositories.ErrMembershipNotFound) || (err == nil && !membership.Following) {
		return models.TrackingUpdate{}, apperrors.FailedPrecondition(apperrors.ReasonNotFollowing, "you are not following this channel")
	}
	if err != nil {
		return models.TrackingUpdate{}, apperrors.Internal("load membership", err)
	}
	if _, err := s.load(ctx, ch, messageID); err != nil {
		return models.TrackingUpdate{}, err
	}

	moved, err := s.deps.Store.Memberships.AdvanceLastRead(ctx, user.ID, ch.ID, messageID)
	if err != nil {
		return models.TrackingUpdate{}, apperrors.Internal("advance read cursor", err)
	}
	if moved {
		if _, err := s.deps.Store.Notifications.MarkMentionsRead(ctx, user.ID, ch.ID, messageID); err != nil {
			return models.TrackingUpdate{}, apperrors.Internal("mark mentions read", err)
		}
	}

	tracking, err := s.deps.Store.Memberships.ChannelTracking(ctx, user.ID, ch.ID)
	if err != nil {
		return models.TrackingUpdate{}, lookupErr(err, "membership")
	}
	update := trackingUpdate(tracking)
	if moved {
		s.deps.Publisher.Publish(ctx, TrackingStateTopic(user.ID), update, []int{user.ID})
	}
	return update, nil
}

// TrackingState reports unread counters for every channel the user
// follows, keyed by channel id. Muted channels report zero.
func (s *MessageService) TrackingState(ctx context.Context, user models.User) (map[int]models.TrackingUpdate, error) {
	rows, err := s.deps.Store.Memberships.TrackingState(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Internal("load tracking state", err)
	}
	out := make(map[int]models.TrackingUpdate, len(rows))
	for _, row := range rows {
		out[row.ChatChannelID] = trackingUpdate(row)
	}
	return out, nil
}

func trackingUpdate(t models.ChannelTracking) models.TrackingUpdate {
	u := models.TrackingUpdate{ChatChannelID: t.ChatChannelID, ChatMessageID: t.LastReadID}
	if !t.Muted {
		u.UnreadCount = t.UnreadCount
		u.Mentions = t.UnreadMentions
	}
	return u
}

// Views attaches reactions and reply snapshots to msgs.
func (s *MessageService) Views(ctx context.Context, msgs []models.Message) ([]models.MessageView, error) {
	if len(msgs) == 0 {
		return []models.MessageView{}, nil
	}
	ids := make([]int, 0, len(msgs))
	var replyIDs []int
	for _, m := range msgs {
		ids = append(ids, m.ID)
		if m.InReplyToID != nil {
			replyIDs = append(replyIDs, *m.InReplyToID)
		}
	}
	reactions, err := s.deps.Store.Reactions.ListReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	summaries := models.SummarizeReactions(reactions)

	targets := map[int]models.Message{}
	if len(replyIDs) > 0 {
		replies, err := s.deps.Store.Messages.GetMessages(ctx, replyIDs)
		if err != nil {
			return nil, err
		}
		for _, r := range replies {
			targets[r.ID] = r
		}
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := models.MessageView{Message: m, Reactions: summaries[m.ID]}
		if v.Reactions == nil {
			v.Reactions = []models.ReactionSummary{}
		}
		if m.InReplyToID != nil {
			if target, ok := targets[*m.InReplyToID]; ok {
				v.InReplyTo = snapshot(target)
			}
		}
		views = append(views, v)
	}
	return views, nil
}

// View is Views for one message. Lookup failures degrade to a bare view.
func (s *MessageService) View(ctx context.Context, msg models.Message) models.MessageView {
	views, err := s.Views(ctx, []models.Message{msg})
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "load message details", "chat_message_id", msg.ID, "error", err)
		return models.MessageView{Message: msg, Reactions: []models.ReactionSummary{}}
	}
	return views[0]
}

func snapshot(target models.Message) *models.ReplySnapshot {
	snap := &models.ReplySnapshot{ID: target.ID, UserID: target.UserID}
	if !target.Deleted() {
		snap.Excerpt = Excerpt(target.Message)
	}
	return snap
}

// load returns a message of ch, hiding messages of other channels.
func (s *MessageService) load(ctx context.Context, ch models.Channel, messageID int) (models.Message, error) {
	msg, err := s.deps.Store.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, lookupErr(err, "message")
	}
	if msg.ChatChannelID != ch.ID {
		return models.Message{}, apperrors.NotFound("message not found")
	}
	return msg, nil
}

func (s *MessageService) checkWritable(ctx context.Context, user models.User, ch models.Channel) error {
	if !s.guardian.CanChat(user) || !s.guardian.CanSeeChannel(ctx, user, ch) {
		return apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot chat in this channel")
	}
	if !s.guardian.CanPost(user) {
		return apperrors.Forbidden(apperrors.ReasonSilenced, "you are silenced")
	}
	if !s.guardian.CanModifyChannel(user, ch) {
		return apperrors.Forbidden(apperrors.ReasonChannelNotModifiable, "channel is "+string(ch.Status))
	}
	m, err := s.deps.Store.Memberships.GetMembership(ctx, user.ID, ch.ID)
	if errors.Is(err, repositories.ErrMembershipNotFound) || (err == nil && !m.Following) {
		return apperrors.Forbidden(apperrors.ReasonNotFollowing, "you must follow the channel to post")
	}
	if err != nil {
		return apperrors.Internal("load membership", err)
	}
	return nil
}

func (s *MessageService) validateContent(raw string, uploadIDs []int) error {
	if strings.TrimSpace(raw) == "" && len(uploadIDs) == 0 {
		return apperrors.InvalidArg(apperrors.ReasonMessageBlank, "message cannot be blank")
	}
	if utf8.RuneCountInString(raw) > s.deps.Limits.MaxMessageLength {
		return apperrors.InvalidArg(apperrors.ReasonMessageTooLong, "message is too long")
	}
	return nil
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
