package services

import (
	"context"
	"errors"
	"time"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/telemetry"
	"chat-plugin/internal/validation"
)

// ReviewService runs the flag queue for chat messages.
type ReviewService struct {
	deps      Deps
	guardian  *Guardian
	notifier  *Notifier
	validator *validation.Validator
}

func newReviewService(d Deps, g *Guardian, n *Notifier) *ReviewService {
	return &ReviewService{deps: d, guardian: g, notifier: n, validator: validation.New()}
}

// FlagRequest is one user's flag on a message.
type FlagRequest struct {
	MessageID int             `json:"chat_message_id" validate:"required,gt=0"`
	FlagType  models.FlagType `json:"flag_type" validate:"required,oneof=spam inappropriate off_topic notify_moderators"`
}

// Flag queues a message for review. Staff flags weigh more; a reviewable
// crossing the silence threshold silences the author.
func (s *ReviewService) Flag(ctx context.Context, user models.User, req FlagRequest) (models.Reviewable, error) {
	if errs := s.validator.ValidateStruct(req); errs != nil {
		return models.Reviewable{}, apperrors.InvalidArg("", validation.Summary(errs))
	}
	msg, err := s.deps.Store.Messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return models.Reviewable{}, lookupErr(err, "message")
	}
	ch, err := s.deps.Store.Channels.GetChannel(ctx, msg.ChatChannelID)
	if err != nil {
		return models.Reviewable{}, lookupErr(err, "channel")
	}
	if !s.guardian.CanFlagMessage(ctx, user, msg, ch) {
		return models.Reviewable{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot flag this message")
	}

	weight := 1.0
	if user.IsStaff() {
		weight = s.deps.Limits.StaffFlagWeight
	}
	rv, err := s.deps.Store.Reviewables.AddFlag(ctx, msg, user.ID, req.FlagType, weight)
	if errors.Is(err, repositories.ErrAlreadyFlagged) {
		return models.Reviewable{}, apperrors.FailedPrecondition(apperrors.ReasonAlreadyFlagged, "you already flagged this message")
	}
	if err != nil {
		return models.Reviewable{}, apperrors.Internal("store flag", err)
	}

	event := models.ChatEvent{
		Type:         models.EventSelfFlagged,
		MessageID:    msg.ID,
		ReviewableID: rv.ID,
		FlagType:     req.FlagType,
		UserID:       user.ID,
	}
	s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), event, []int{user.ID})
	if staff, err := s.deps.Store.Users.StaffIDs(ctx); err != nil {
		s.deps.Logger.WarnContext(ctx, "load staff for flag event", "reviewable_id", rv.ID, "error", err)
	} else if len(staff) > 0 {
		event.Type = models.EventFlag
		s.deps.Publisher.Publish(ctx, ChannelTopic(ch.ID), event, staff)
	}

	s.maybeSilence(ctx, user, msg, rv, req.FlagType)
	return rv, nil
}

func (s *ReviewService) maybeSilence(ctx context.Context, flagger models.User, msg models.Message, rv models.Reviewable, flagType models.FlagType) {
	author, err := s.deps.Store.Users.GetUser(ctx, msg.UserID)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "load flagged author", "user_id", msg.UserID, "error", err)
		return
	}
	if author.IsStaff() {
		return
	}
	spam := flagType == models.FlagSpam && flagger.TrustLevel >= s.deps.Limits.SpamSilenceTrust && author.TrustLevel == 0
	if rv.Score < s.deps.Limits.AutoSilenceScore && !spam {
		return
	}
	until := s.deps.Now().Add(s.deps.Limits.AutoSilenceFor)
	if err := s.deps.Store.Users.Silence(ctx, author.ID, until); err != nil {
		s.deps.Logger.ErrorContext(ctx, "auto silence failed", "user_id", author.ID, "error", err)
		return
	}
	s.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditUserSilenced,
		ActorID:   flagger.ID,
		ChannelID: msg.ChatChannelID,
		TargetID:  author.ID,
		Detail:    "auto silenced until " + until.UTC().Format(time.RFC3339),
	})
}

// ReviewAction is a moderator decision on a reviewable.
type ReviewAction string

const (
	ActionAgreeAndDelete ReviewAction = "agree_and_delete"
	ActionAgreeAndKeep   ReviewAction = "agree_and_keep"
	ActionDisagree       ReviewAction = "disagree"
	ActionIgnore         ReviewAction = "ignore"
)

type reviewOutcome struct {
	status        models.ReviewableStatus
	deleteMessage bool
}

var reviewActions = map[ReviewAction]reviewOutcome{
	ActionAgreeAndDelete: {status: models.ReviewApproved, deleteMessage: true},
	ActionAgreeAndKeep:   {status: models.ReviewApproved},
	ActionDisagree:       {status: models.ReviewRejected},
	ActionIgnore:         {status: models.ReviewIgnored},
}

// Perform applies a moderator decision to a pending reviewable.
func (s *ReviewService) Perform(ctx context.Context, moderator models.User, reviewableID int, action ReviewAction) (models.Reviewable, error) {
	if !s.guardian.CanModerate(moderator) {
		return models.Reviewable{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "only staff can review flags")
	}
	outcome, ok := reviewActions[action]
	if !ok {
		return models.Reviewable{}, apperrors.InvalidArg("", "unknown review action "+string(action))
	}
	rv, err := s.deps.Store.Reviewables.GetReviewable(ctx, reviewableID)
	if err != nil {
		return models.Reviewable{}, lookupErr(err, "reviewable")
	}
	if rv.Status != models.ReviewPending {
		return models.Reviewable{}, apperrors.FailedPrecondition("", "reviewable is already "+string(rv.Status))
	}

	if outcome.deleteMessage {
		if err := s.deleteMessage(ctx, moderator, rv.ChatMessageID); err != nil {
			return models.Reviewable{}, err
		}
	}
	rv, err = s.deps.Store.Reviewables.SetStatus(ctx, rv.ID, outcome.status)
	if err != nil {
		return models.Reviewable{}, lookupErr(err, "reviewable")
	}
	s.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditReviewPerformed,
		ActorID:   moderator.ID,
		ChannelID: rv.ChatChannelID,
		TargetID:  rv.ID,
		Detail:    string(action),
	})
	return rv, nil
}

func (s *ReviewService) deleteMessage(ctx context.Context, moderator models.User, messageID int) error {
	deleted, err := s.deps.Store.Messages.SoftDelete(ctx, messageID, moderator.ID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Internal("delete flagged message", err)
	}
	observability.IncMessage("delete")
	s.deps.Publisher.Publish(ctx, ChannelTopic(deleted.ChatChannelID), models.ChatEvent{
		Type:      models.EventDelete,
		DeletedID: deleted.ID,
		DeletedAt: deleted.DeletedAt,
	}, nil)
	s.notifier.NotifyDeleted(ctx, deleted)
	return nil
}
