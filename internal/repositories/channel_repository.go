package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

const channelColumns = `id, chatable_type, chatable_id, name, description, status, read_restricted,
        allowed_group_ids, user_count, user_count_stale, created_at, updated_at, deleted_at`

// ChannelRepository abstracts channel persistence.
type ChannelRepository interface {
	GetChannel(ctx context.Context, channelID int) (models.Channel, error)
	CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error)
	UpdateStatus(ctx context.Context, channelID int, status models.ChannelStatus) error
	MarkUserCountStale(ctx context.Context, channelID int) (bool, error)
	RefreshUserCount(ctx context.Context, channelID int) (int, error)
	SoftDeleteChannel(ctx context.Context, channelID int) error
	IsDirectMessageUser(ctx context.Context, channelID int, userID int) (bool, error)
	AddDirectMessageUsers(ctx context.Context, channelID int, userIDs []int) error
}

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs a ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// GetChannel fetches a live channel by id.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID int) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `SELECT `+channelColumns+` FROM chat_channels WHERE id=$1 AND deleted_at IS NULL`, channelID)
	if isNoRows(err) {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, err
}

// CreateChannel inserts a channel.
func (r *ChannelRepo) CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error) {
	if channel.Status == "" {
		channel.Status = models.ChannelOpen
	}
	if channel.AllowedGroupIDs == nil {
		channel.AllowedGroupIDs = pq.Int64Array{}
	}
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `INSERT INTO chat_channels (chatable_type, chatable_id, name, description, status, read_restricted, allowed_group_ids)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+channelColumns,
		channel.ChatableType, channel.ChatableID, channel.Name, channel.Description, channel.Status, channel.ReadRestricted, channel.AllowedGroupIDs)
	return ch, err
}

// UpdateStatus sets the channel status.
func (r *ChannelRepo) UpdateStatus(ctx context.Context, channelID int, status models.ChannelStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_channels SET status=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, channelID, status)
	if err != nil {
		return err
	}
	return requireRow(res, ErrChannelNotFound)
}

// MarkUserCountStale flips the stale flag and reports whether this caller
// won the flip. Losers must not enqueue another recount.
func (r *ChannelRepo) MarkUserCountStale(ctx context.Context, channelID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_channels SET user_count_stale=TRUE WHERE id=$1 AND user_count_stale=FALSE`, channelID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RefreshUserCount recounts following members and clears the stale flag.
func (r *ChannelRepo) RefreshUserCount(ctx context.Context, channelID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `UPDATE chat_channels SET
            user_count = (SELECT COUNT(*) FROM user_chat_channel_memberships WHERE chat_channel_id=$1 AND following),
            user_count_stale = FALSE,
            updated_at = NOW()
        WHERE id=$1 RETURNING user_count`, channelID)
	if isNoRows(err) {
		return 0, ErrChannelNotFound
	}
	return count, err
}

// SoftDeleteChannel marks the channel deleted.
func (r *ChannelRepo) SoftDeleteChannel(ctx context.Context, channelID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_channels SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, channelID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrChannelNotFound)
}

// IsDirectMessageUser checks whether the user is a party of a DM channel.
func (r *ChannelRepo) IsDirectMessageUser(ctx context.Context, channelID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM direct_message_users WHERE chat_channel_id=$1 AND user_id=$2)`, channelID, userID)
	return exists, err
}

// AddDirectMessageUsers registers the parties of a DM channel.
func (r *ChannelRepo) AddDirectMessageUsers(ctx context.Context, channelID int, userIDs []int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO direct_message_users (chat_channel_id, user_id)
        SELECT $1, UNNEST($2::int[]) ON CONFLICT DO NOTHING`, channelID, pq.Array(userIDs))
	return err
}

func requireRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
