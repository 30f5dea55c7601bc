package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-plugin/internal/models"
	"chat-plugin/internal/services"
)

type ChannelsMock struct {
	mock.Mock
}

func (m *ChannelsMock) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	args := m.Called(ctx, channelID)
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Error(1)
}

type MessagesMock struct {
	mock.Mock
}

func (m *MessagesMock) Create(ctx context.Context, user models.User, ch models.Channel, p services.CreateParams) (models.MessageView, error) {
	args := m.Called(ctx, user, ch, p)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessagesMock) Edit(ctx context.Context, user models.User, ch models.Channel, messageID int, raw string, uploadIDs []int) (models.MessageView, error) {
	args := m.Called(ctx, user, ch, messageID, raw, uploadIDs)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessagesMock) Delete(ctx context.Context, actor models.User, ch models.Channel, messageID int) error {
	args := m.Called(ctx, actor, ch, messageID)
	return args.Error(0)
}

func (m *MessagesMock) Restore(ctx context.Context, actor models.User, ch models.Channel, messageID int) (models.MessageView, error) {
	args := m.Called(ctx, actor, ch, messageID)
	return messageView(args.Get(0)), args.Error(1)
}

func (m *MessagesMock) ListPage(ctx context.Context, viewer models.User, ch models.Channel, p services.PageParams) ([]models.MessageView, models.PageMeta, error) {
	args := m.Called(ctx, viewer, ch, p)
	var views []models.MessageView
	if val := args.Get(0); val != nil {
		views = val.([]models.MessageView)
	}
	var meta models.PageMeta
	if val := args.Get(1); val != nil {
		meta = val.(models.PageMeta)
	}
	return views, meta, args.Error(2)
}

func (m *MessagesMock) UpdateReadCursor(ctx context.Context, user models.User, ch models.Channel, messageID int) (models.TrackingUpdate, error) {
	args := m.Called(ctx, user, ch, messageID)
	var update models.TrackingUpdate
	if val := args.Get(0); val != nil {
		update = val.(models.TrackingUpdate)
	}
	return update, args.Error(1)
}

func (m *MessagesMock) TrackingState(ctx context.Context, user models.User) (map[int]models.TrackingUpdate, error) {
	args := m.Called(ctx, user)
	var state map[int]models.TrackingUpdate
	if val := args.Get(0); val != nil {
		state = val.(map[int]models.TrackingUpdate)
	}
	return state, args.Error(1)
}

func messageView(val any) models.MessageView {
	if val == nil {
		return models.MessageView{}
	}
	return val.(models.MessageView)
}

type ReactionsMock struct {
	mock.Mock
}

func (m *ReactionsMock) React(ctx context.Context, user models.User, ch models.Channel, messageID int, req services.ReactRequest) (bool, error) {
	args := m.Called(ctx, user, ch, messageID, req)
	return args.Bool(0), args.Error(1)
}

type InvitesMock struct {
	mock.Mock
}

func (m *InvitesMock) Invite(ctx context.Context, actor models.User, ch models.Channel, userIDs []int, messageID int) ([]int, error) {
	args := m.Called(ctx, actor, ch, userIDs, messageID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type MembershipsMock struct {
	mock.Mock
}

func (m *MembershipsMock) Follow(ctx context.Context, user models.User, ch models.Channel) (models.Membership, error) {
	args := m.Called(ctx, user, ch)
	var mem models.Membership
	if val := args.Get(0); val != nil {
		mem = val.(models.Membership)
	}
	return mem, args.Error(1)
}

func (m *MembershipsMock) Unfollow(ctx context.Context, user models.User, ch models.Channel) (*models.Membership, error) {
	args := m.Called(ctx, user, ch)
	var mem *models.Membership
	if val := args.Get(0); val != nil {
		mem = val.(*models.Membership)
	}
	return mem, args.Error(1)
}

func (m *MembershipsMock) UpdateNotificationSettings(ctx context.Context, user models.User, ch models.Channel, in services.NotificationSettings) (models.Membership, error) {
	args := m.Called(ctx, user, ch, in)
	var mem models.Membership
	if val := args.Get(0); val != nil {
		mem = val.(models.Membership)
	}
	return mem, args.Error(1)
}

func (m *MembershipsMock) ChangeStatus(ctx context.Context, actor models.User, ch models.Channel, status models.ChannelStatus) (models.Channel, error) {
	args := m.Called(ctx, actor, ch, status)
	var out models.Channel
	if val := args.Get(0); val != nil {
		out = val.(models.Channel)
	}
	return out, args.Error(1)
}

func (m *MembershipsMock) DeleteChannel(ctx context.Context, actor models.User, ch models.Channel) error {
	args := m.Called(ctx, actor, ch)
	return args.Error(0)
}

type ArchivesMock struct {
	mock.Mock
}

func (m *ArchivesMock) BeginArchive(ctx context.Context, actor models.User, ch models.Channel, p models.ArchiveParams) (models.ChannelArchive, error) {
	args := m.Called(ctx, actor, ch, p)
	return channelArchive(args.Get(0)), args.Error(1)
}

func (m *ArchivesMock) RetryArchive(ctx context.Context, actor models.User, ch models.Channel) (models.ChannelArchive, error) {
	args := m.Called(ctx, actor, ch)
	return channelArchive(args.Get(0)), args.Error(1)
}

func channelArchive(val any) models.ChannelArchive {
	if val == nil {
		return models.ChannelArchive{}
	}
	return val.(models.ChannelArchive)
}

type ReviewsMock struct {
	mock.Mock
}

func (m *ReviewsMock) Flag(ctx context.Context, user models.User, req services.FlagRequest) (models.Reviewable, error) {
	args := m.Called(ctx, user, req)
	var rv models.Reviewable
	if val := args.Get(0); val != nil {
		rv = val.(models.Reviewable)
	}
	return rv, args.Error(1)
}

func (m *ReviewsMock) Perform(ctx context.Context, moderator models.User, reviewableID int, action services.ReviewAction) (models.Reviewable, error) {
	args := m.Called(ctx, moderator, reviewableID, action)
	var rv models.Reviewable
	if val := args.Get(0); val != nil {
		rv = val.(models.Reviewable)
	}
	return rv, args.Error(1)
}

type IdentityMock struct {
	mock.Mock
}

func (m *IdentityMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type UsersMock struct {
	mock.Mock
}

func (m *UsersMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) Touch(ctx context.Context, userID int, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}
