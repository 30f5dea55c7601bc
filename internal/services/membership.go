package services

import (
	"context"
	"errors"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/models"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/telemetry"
)

// MembershipService manages following, preferences and channel status.
type MembershipService struct {
	deps     Deps
	guardian *Guardian
}

// FindMembership returns the membership of userID in the channel given
// either as channel or as channelID, or nil when there is none. Calling it
// with neither is a programming error and panics.
func (s *MembershipService) FindMembership(ctx context.Context, userID int, channel *models.Channel, channelID int) (*models.Membership, error) {
	if channel == nil && channelID == 0 {
		panic("services: FindMembership needs a channel or a channel id")
	}
	if channel != nil {
		channelID = channel.ID
	}
	m, err := s.deps.Store.Memberships.GetMembership(ctx, userID, channelID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("load membership", err)
	}
	return &m, nil
}

// Follow makes user follow ch. A first follow creates the membership with
// notification levels "always" and the read cursor at the channel tail; a
// re-follow keeps the stored preferences. Following twice changes nothing.
func (s *MembershipService) Follow(ctx context.Context, user models.User, ch models.Channel) (models.Membership, error) {
	if !s.guardian.CanSeeChannel(ctx, user, ch) {
		return models.Membership{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "you cannot join this channel")
	}

	existing, err := s.FindMembership(ctx, user.ID, &ch, 0)
	if err != nil {
		return models.Membership{}, err
	}
	if existing != nil && existing.Following {
		return *existing, nil
	}

	var m models.Membership
	if existing == nil {
		tail, err := s.deps.Store.Messages.LastMessageID(ctx, ch.ID)
		if err != nil {
			return models.Membership{}, apperrors.Internal("load channel tail", err)
		}
		m, err = s.deps.Store.Memberships.CreateMembership(ctx, models.Membership{
			UserID:                   user.ID,
			ChatChannelID:            ch.ID,
			Following:                true,
			DesktopNotificationLevel: models.NotifyAlways,
			MobileNotificationLevel:  models.NotifyAlways,
			LastReadMessageID:        tail,
		})
		if err != nil {
			return models.Membership{}, apperrors.Internal("create membership", err)
		}
	} else {
		m, err = s.deps.Store.Memberships.SetFollowing(ctx, existing.ID, true)
		if err != nil {
			return models.Membership{}, lookupErr(err, "membership")
		}
	}

	s.RecalculateUserCount(ctx, ch.ID)
	return m, nil
}

// Unfollow stops user following ch. It returns nil when the user never had
// a membership. The row is kept so preferences survive a later re-follow.
func (s *MembershipService) Unfollow(ctx context.Context, user models.User, ch models.Channel) (*models.Membership, error) {
	existing, err := s.FindMembership(ctx, user.ID, &ch, 0)
	if err != nil || existing == nil {
		return nil, err
	}
	if !existing.Following {
		return existing, nil
	}
	m, err := s.deps.Store.Memberships.SetFollowing(ctx, existing.ID, false)
	if err != nil {
		return nil, lookupErr(err, "membership")
	}
	s.RecalculateUserCount(ctx, ch.ID)
	return &m, nil
}

// UnfollowAll unfollows every member of ch, stamping their read cursor to
// the channel tail.
func (s *MembershipService) UnfollowAll(ctx context.Context, ch models.Channel) error {
	tail, err := s.deps.Store.Messages.LastMessageID(ctx, ch.ID)
	if err != nil {
		return apperrors.Internal("load channel tail", err)
	}
	n, err := s.deps.Store.Memberships.UnfollowAll(ctx, ch.ID, tail)
	if err != nil {
		return apperrors.Internal("unfollow members", err)
	}
	if n > 0 {
		s.RecalculateUserCount(ctx, ch.ID)
	}
	return nil
}

// RecalculateUserCount schedules a follower recount. The user_count_stale
// column debounces: only the caller that flips it from false to true
// enqueues, so a burst of follows yields one recount. If the job cannot be
// enqueued the recount runs inline so the flag is not left set.
func (s *MembershipService) RecalculateUserCount(ctx context.Context, channelID int) {
	won, err := s.deps.Store.Channels.MarkUserCountStale(ctx, channelID)
	if err != nil {
		s.deps.Logger.Error("mark user count stale", "chat_channel_id", channelID, "error", err)
		return
	}
	if !won {
		return
	}
	payload := jobs.UpdateUserCount{ChannelID: channelID}
	job, err := jobs.New(jobs.KindUpdateUserCount, payload, s.deps.Limits.UserCountDelay)
	if err == nil {
		err = s.deps.Jobs.Enqueue(ctx, job)
	}
	if err != nil {
		s.deps.Logger.Warn("enqueue user count recount failed, running inline", "chat_channel_id", channelID, "error", err)
		if err := s.HandleUpdateUserCount(ctx, payload); err != nil {
			s.deps.Logger.Error("inline user count recount", "chat_channel_id", channelID, "error", err)
		}
	}
}

// HandleUpdateUserCount recounts followers and publishes the new count.
func (s *MembershipService) HandleUpdateUserCount(ctx context.Context, p jobs.UpdateUserCount) error {
	count, err := s.deps.Store.Channels.RefreshUserCount(ctx, p.ChannelID)
	if errors.Is(err, repositories.ErrChannelNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.deps.Publisher.Publish(ctx, ChannelMetadataTopic, models.ChannelMetadataEvent{
		ChatChannelID:    p.ChannelID,
		MembershipsCount: count,
	}, nil)
	return nil
}

// NotificationSettings is a partial update of membership preferences.
type NotificationSettings struct {
	Muted   *bool                     `json:"muted"`
	Desktop *models.NotificationLevel `json:"desktop_notification_level"`
	Mobile  *models.NotificationLevel `json:"mobile_notification_level"`
}

// UpdateNotificationSettings changes mute and notification levels of an
// existing membership.
func (s *MembershipService) UpdateNotificationSettings(ctx context.Context, user models.User, ch models.Channel, in NotificationSettings) (models.Membership, error) {
	existing, err := s.FindMembership(ctx, user.ID, &ch, 0)
	if err != nil {
		return models.Membership{}, err
	}
	if existing == nil {
		return models.Membership{}, apperrors.NotFound("membership not found")
	}

	muted, desktop, mobile := existing.Muted, existing.DesktopNotificationLevel, existing.MobileNotificationLevel
	if in.Muted != nil {
		muted = *in.Muted
	}
	if in.Desktop != nil {
		desktop = *in.Desktop
	}
	if in.Mobile != nil {
		mobile = *in.Mobile
	}
	if !desktop.Valid() || !mobile.Valid() {
		return models.Membership{}, apperrors.InvalidArg("", "notification level must be never, mention or always")
	}

	m, err := s.deps.Store.Memberships.UpdateSettings(ctx, existing.ID, muted, desktop, mobile)
	if err != nil {
		return models.Membership{}, lookupErr(err, "membership")
	}
	return m, nil
}

// ChangeStatus moves ch between open, closed and read_only. Archiving goes
// through the Archiver and cannot be undone.
func (s *MembershipService) ChangeStatus(ctx context.Context, actor models.User, ch models.Channel, status models.ChannelStatus) (models.Channel, error) {
	if !s.guardian.CanModerate(actor) {
		return models.Channel{}, apperrors.Forbidden(apperrors.ReasonNotAllowed, "only staff can change channel status")
	}
	if !models.StatusTransitionAllowed(ch.Status, status) {
		return models.Channel{}, apperrors.FailedPrecondition(apperrors.ReasonInvalidStatus,
			"cannot change channel status from "+string(ch.Status)+" to "+string(status))
	}
	archive, err := s.deps.Store.Archives.GetArchiveByChannel(ctx, ch.ID)
	switch {
	case err == nil && archive.Status() != models.ArchiveComplete:
		return models.Channel{}, apperrors.FailedPrecondition(apperrors.ReasonInvalidStatus, "channel is being archived")
	case err != nil && !errors.Is(err, repositories.ErrArchiveNotFound):
		return models.Channel{}, apperrors.Internal("load archive", err)
	}
	if err := s.deps.Store.Channels.UpdateStatus(ctx, ch.ID, status); err != nil {
		return models.Channel{}, lookupErr(err, "channel")
	}
	ch.Status = status
	publishStatus(ctx, s.deps.Publisher, ch)
	s.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditChannelStatus,
		ActorID:   actor.ID,
		ChannelID: ch.ID,
		Detail:    string(status),
	})
	return ch, nil
}

// DeleteChannel soft-deletes ch and unfollows all its members.
func (s *MembershipService) DeleteChannel(ctx context.Context, actor models.User, ch models.Channel) error {
	if !s.guardian.CanModerate(actor) {
		return apperrors.Forbidden(apperrors.ReasonNotAllowed, "only staff can delete channels")
	}
	if err := s.deps.Store.Channels.SoftDeleteChannel(ctx, ch.ID); err != nil {
		return lookupErr(err, "channel")
	}
	if err := s.UnfollowAll(ctx, ch); err != nil {
		return err
	}
	s.deps.Audit.Emit(ctx, telemetry.AuditEvent{
		Action:    telemetry.AuditChannelDeleted,
		ActorID:   actor.ID,
		ChannelID: ch.ID,
	})
	return nil
}

func publishStatus(ctx context.Context, p Publisher, ch models.Channel) {
	p.Publish(ctx, ChannelStatusTopic, models.ChannelStatusEvent{
		ChatChannelID: ch.ID,
		Status:        ch.Status,
	}, nil)
}
