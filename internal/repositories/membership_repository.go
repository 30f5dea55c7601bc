package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

const membershipColumns = `id, user_id, chat_channel_id, following, muted, desktop_notification_level,
        mobile_notification_level, last_read_message_id, created_at, updated_at`

// MembershipRepository abstracts user/channel membership persistence.
type MembershipRepository interface {
	GetMembership(ctx context.Context, userID int, channelID int) (models.Membership, error)
	CreateMembership(ctx context.Context, m models.Membership) (models.Membership, error)
	SetFollowing(ctx context.Context, membershipID int, following bool) (models.Membership, error)
	UpdateSettings(ctx context.Context, membershipID int, muted bool, desktop, mobile models.NotificationLevel) (models.Membership, error)
	UnfollowAll(ctx context.Context, channelID int, lastMessageID *int) (int64, error)
	ListFollowing(ctx context.Context, channelID int) ([]models.Membership, error)
	ListForUsers(ctx context.Context, channelID int, userIDs []int) ([]models.Membership, error)
	AdvanceLastRead(ctx context.Context, userID int, channelID int, messageID int) (bool, error)
	TrackingState(ctx context.Context, userID int) ([]models.ChannelTracking, error)
	ChannelTracking(ctx context.Context, userID int, channelID int) (models.ChannelTracking, error)
}

// MembershipRepo is a sqlx implementation of MembershipRepository.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// GetMembership fetches the membership of a user in a channel.
func (r *MembershipRepo) GetMembership(ctx context.Context, userID int, channelID int) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `SELECT `+membershipColumns+` FROM user_chat_channel_memberships WHERE user_id=$1 AND chat_channel_id=$2`, userID, channelID)
	if isNoRows(err) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// CreateMembership inserts a membership, returning the existing row when a
// concurrent request created it first.
func (r *MembershipRepo) CreateMembership(ctx context.Context, m models.Membership) (models.Membership, error) {
	var out models.Membership
	err := r.db.GetContext(ctx, &out, `INSERT INTO user_chat_channel_memberships
            (user_id, chat_channel_id, following, muted, desktop_notification_level, mobile_notification_level, last_read_message_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id, chat_channel_id) DO NOTHING
        RETURNING `+membershipColumns,
		m.UserID, m.ChatChannelID, m.Following, m.Muted, m.DesktopNotificationLevel, m.MobileNotificationLevel, m.LastReadMessageID)
	if isNoRows(err) {
		return r.GetMembership(ctx, m.UserID, m.ChatChannelID)
	}
	return out, err
}

// SetFollowing toggles the following flag.
func (r *MembershipRepo) SetFollowing(ctx context.Context, membershipID int, following bool) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `UPDATE user_chat_channel_memberships SET following=$2, updated_at=NOW() WHERE id=$1 RETURNING `+membershipColumns, membershipID, following)
	if isNoRows(err) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// UpdateSettings stores mute and notification preferences.
func (r *MembershipRepo) UpdateSettings(ctx context.Context, membershipID int, muted bool, desktop, mobile models.NotificationLevel) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m, `UPDATE user_chat_channel_memberships
        SET muted=$2, desktop_notification_level=$3, mobile_notification_level=$4, updated_at=NOW()
        WHERE id=$1 RETURNING `+membershipColumns, membershipID, muted, desktop, mobile)
	if isNoRows(err) {
		return models.Membership{}, ErrMembershipNotFound
	}
	return m, err
}

// UnfollowAll unfollows every member and stamps their read cursor to
// lastMessageID so a resurrected membership carries no backlog.
func (r *MembershipRepo) UnfollowAll(ctx context.Context, channelID int, lastMessageID *int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE user_chat_channel_memberships
        SET following=FALSE, last_read_message_id=COALESCE($2, last_read_message_id), updated_at=NOW()
        WHERE chat_channel_id=$1 AND following`, channelID, lastMessageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListFollowing returns every following membership of a channel.
func (r *MembershipRepo) ListFollowing(ctx context.Context, channelID int) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.SelectContext(ctx, &ms, `SELECT `+membershipColumns+` FROM user_chat_channel_memberships
        WHERE chat_channel_id=$1 AND following ORDER BY user_id`, channelID)
	return ms, err
}

// ListForUsers returns memberships of the given users, following or not.
func (r *MembershipRepo) ListForUsers(ctx context.Context, channelID int, userIDs []int) ([]models.Membership, error) {
	if len(userIDs) == 0 {
		return []models.Membership{}, nil
	}
	var ms []models.Membership
	err := r.db.SelectContext(ctx, &ms, `SELECT `+membershipColumns+` FROM user_chat_channel_memberships
        WHERE chat_channel_id=$1 AND user_id = ANY($2) ORDER BY user_id`, channelID, pq.Array(userIDs))
	return ms, err
}

// AdvanceLastRead moves the read cursor forward only.
func (r *MembershipRepo) AdvanceLastRead(ctx context.Context, userID int, channelID int, messageID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE user_chat_channel_memberships
        SET last_read_message_id=$3, updated_at=NOW()
        WHERE user_id=$1 AND chat_channel_id=$2 AND (last_read_message_id IS NULL OR last_read_message_id < $3)`, userID, channelID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const trackingQuery = `SELECT m.chat_channel_id, m.muted, m.last_read_message_id,
        (SELECT COUNT(*) FROM chat_messages cm
            WHERE cm.chat_channel_id = m.chat_channel_id AND cm.deleted_at IS NULL
            AND cm.user_id <> m.user_id AND cm.id > COALESCE(m.last_read_message_id, 0)) AS unread_count,
        (SELECT COUNT(*) FROM chat_mentions mn
            JOIN chat_messages cm ON cm.id = mn.chat_message_id
            JOIN notifications n ON n.id = mn.notification_id
            WHERE mn.user_id = m.user_id AND cm.chat_channel_id = m.chat_channel_id AND cm.deleted_at IS NULL
            AND NOT n.read AND cm.id > COALESCE(m.last_read_message_id, 0)) AS unread_mentions
    FROM user_chat_channel_memberships m
    JOIN chat_channels c ON c.id = m.chat_channel_id AND c.deleted_at IS NULL
    WHERE m.user_id = $1 AND m.following`

// TrackingState returns raw unread counters for every followed channel.
// Muted channels are included; callers decide what to surface.
func (r *MembershipRepo) TrackingState(ctx context.Context, userID int) ([]models.ChannelTracking, error) {
	var out []models.ChannelTracking
	err := r.db.SelectContext(ctx, &out, trackingQuery+` ORDER BY m.chat_channel_id`, userID)
	return out, err
}

// ChannelTracking returns the unread counters of one followed channel.
func (r *MembershipRepo) ChannelTracking(ctx context.Context, userID int, channelID int) (models.ChannelTracking, error) {
	var out models.ChannelTracking
	err := r.db.GetContext(ctx, &out, trackingQuery+` AND m.chat_channel_id = $2`, userID, channelID)
	if isNoRows(err) {
		return models.ChannelTracking{}, ErrMembershipNotFound
	}
	return out, err
}
