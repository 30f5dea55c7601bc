// Package services implements the chat operations on top of the
// repositories: membership, messages, mentions, reactions, archiving and
// moderation.
package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/config"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/telemetry"
)

// Store groups the repositories the services read and write.
type Store struct {
	Channels      repositories.ChannelRepository
	Memberships   repositories.MembershipRepository
	Messages      repositories.MessageRepository
	Mentions      repositories.MentionRepository
	Notifications repositories.NotificationRepository
	Reactions     repositories.ReactionRepository
	Users         repositories.UserRepository
	Archives      repositories.ArchiveRepository
	Reviewables   repositories.ReviewableRepository
}

// Presence answers which users were recently active.
type Presence interface {
	Touch(ctx context.Context, userID int, at time.Time) error
	SeenSince(ctx context.Context, userIDs []int, since time.Time) ([]int, error)
}

// Auditor records moderation actions.
type Auditor interface {
	Emit(ctx context.Context, ev telemetry.AuditEvent)
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store     Store
	Publisher Publisher
	Jobs      jobs.Queue
	Presence  Presence
	Cooker    Cooker
	Audit     Auditor
	Limits    config.Chat
	Logger    *slog.Logger
	Now       func() time.Time
}

// Services bundles the chat services over one set of dependencies.
type Services struct {
	Guardian    *Guardian
	Memberships *MembershipService
	Messages    *MessageService
	Notifier    *Notifier
	Reactions   *ReactionService
	Archiver    *Archiver
	Reviews     *ReviewService
	Invites     *InviteService
}

// New wires the services together.
func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = NopPublisher{}
	}
	if d.Cooker == nil {
		d.Cooker = NewCooker(d.Store.Users)
	}
	if d.Audit == nil {
		d.Audit = nopAuditor{}
	}

	guardian := NewGuardian(d.Store.Channels, d.Logger, d.Now)
	notifier := &Notifier{deps: d, guardian: guardian}
	memberships := &MembershipService{deps: d, guardian: guardian}
	return &Services{
		Guardian:    guardian,
		Memberships: memberships,
		Messages:    &MessageService{deps: d, guardian: guardian, notifier: notifier},
		Notifier:    notifier,
		Reactions:   newReactionService(d, guardian),
		Archiver:    &Archiver{deps: d, guardian: guardian, store: d.Store.Archives},
		Reviews:     newReviewService(d, guardian, notifier),
		Invites:     &InviteService{deps: d, guardian: guardian},
	}
}

// RegisterJobs binds every job handler into reg.
func (s *Services) RegisterJobs(reg *jobs.Registry) error {
	handlers := map[jobs.Kind]jobs.Handler{
		jobs.KindNotifyMentioned: jobs.Decode(s.Notifier.HandleNotifyMentioned),
		jobs.KindNotifyWatching:  jobs.Decode(s.Notifier.HandleNotifyWatching),
		jobs.KindUpdateUserCount: jobs.Decode(s.Memberships.HandleUpdateUserCount),
		jobs.KindArchiveChannel:  jobs.Decode(s.Archiver.HandleArchiveChannel),
	}
	for kind, h := range handlers {
		if err := reg.Register(kind, h); err != nil {
			return err
		}
	}
	return nil
}

type nopAuditor struct{}

func (nopAuditor) Emit(context.Context, telemetry.AuditEvent) {}

func isNotFound(err error) bool {
	return errors.Is(err, repositories.ErrChannelNotFound) ||
		errors.Is(err, repositories.ErrMembershipNotFound) ||
		errors.Is(err, repositories.ErrMessageNotFound) ||
		errors.Is(err, repositories.ErrUserNotFound) ||
		errors.Is(err, repositories.ErrArchiveNotFound) ||
		errors.Is(err, repositories.ErrTopicNotFound) ||
		errors.Is(err, repositories.ErrReviewableNotFound)
}

// lookupErr maps repository sentinels to NOT_FOUND and anything else to
// INTERNAL.
func lookupErr(err error, what string) error {
	if isNotFound(err) {
		return apperrors.NotFound(what + " not found")
	}
	return apperrors.Internal("load "+what, err)
}

// GetChannel loads a live channel.
func (s *Services) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	ch, err := s.Memberships.deps.Store.Channels.GetChannel(ctx, channelID)
	if err != nil {
		return models.Channel{}, lookupErr(err, "channel")
	}
	return ch, nil
}

// GetUser loads a user with its groups.
func (s *Services) GetUser(ctx context.Context, userID int) (models.User, error) {
	u, err := s.Memberships.deps.Store.Users.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, lookupErr(err, "user")
	}
	return u, nil
}
