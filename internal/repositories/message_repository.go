package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

const messageColumns = `id, chat_channel_id, user_id, message, cooked, in_reply_to_id, post_id, upload_ids,
        revision, created_at, updated_at, deleted_at, deleted_by_id`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []int) ([]models.Message, error)
	ListPage(ctx context.Context, q models.PageQuery) ([]models.Message, models.PageMeta, error)
	UpdateContent(ctx context.Context, messageID int, editorID int, raw, cooked string, uploadIDs []int64) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, actorID int) (models.Message, error)
	Restore(ctx context.Context, messageID int) (models.Message, error)
	CountDeletedBy(ctx context.Context, userID int, since time.Time) (int, error)
	LastMessageID(ctx context.Context, channelID int) (*int, error)
	CountLive(ctx context.Context, channelID int) (int, error)
	NextLiveBatch(ctx context.Context, channelID int, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage appends a message to its channel. The id comes from the
// table sequence, so append order is id order.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.UploadIDs == nil {
		msg.UploadIDs = pq.Int64Array{}
	}
	var out models.Message
	err := r.db.GetContext(ctx, &out, `INSERT INTO chat_messages (chat_channel_id, user_id, message, cooked, in_reply_to_id, post_id, upload_ids)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+messageColumns,
		msg.ChatChannelID, msg.UserID, msg.Message, msg.Cooked, msg.InReplyToID, msg.PostID, msg.UploadIDs)
	return out, err
}

// GetMessage retrieves a single message, deleted or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, messageID)
	if isNoRows(err) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessages retrieves messages by id in id order.
func (r *MessageRepo) GetMessages(ctx context.Context, messageIDs []int) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return []models.Message{}, nil
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ANY($1) ORDER BY id`, pq.Array(messageIDs))
	return msgs, err
}

// ListPage reads one keyset page of a channel in ascending id order.
func (r *MessageRepo) ListPage(ctx context.Context, q models.PageQuery) ([]models.Message, models.PageMeta, error) {
	var meta models.PageMeta
	switch {
	case q.AnchorID == 0:
		msgs, more, err := r.fetch(ctx, q, "", 0, q.PageSize)
		meta.CanLoadMorePast = more
		return reverse(msgs), meta, err

	case q.Direction == models.DirectionPast:
		msgs, more, err := r.fetch(ctx, q, "<", q.AnchorID, q.PageSize)
		if err != nil {
			return nil, meta, err
		}
		meta.CanLoadMorePast = more
		meta.CanLoadMoreFuture, err = r.exists(ctx, q, ">=", q.AnchorID)
		return reverse(msgs), meta, err

	case q.Direction == models.DirectionFuture:
		msgs, more, err := r.fetch(ctx, q, ">", q.AnchorID, q.PageSize)
		if err != nil {
			return nil, meta, err
		}
		meta.CanLoadMoreFuture = more
		meta.CanLoadMorePast, err = r.exists(ctx, q, "<=", q.AnchorID)
		return msgs, meta, err

	default:
		before := q.PageSize / 2
		past, morePast, err := r.fetch(ctx, q, "<", q.AnchorID, before)
		if err != nil {
			return nil, meta, err
		}
		future, moreFuture, err := r.fetch(ctx, q, ">=", q.AnchorID, q.PageSize-before)
		if err != nil {
			return nil, meta, err
		}
		meta.CanLoadMorePast = morePast
		meta.CanLoadMoreFuture = moreFuture
		return append(reverse(past), future...), meta, nil
	}
}

// fetch reads up to limit messages on one side of anchor. Descending order is
// used for "<" and the tail read so the newest rows are taken first.
func (r *MessageRepo) fetch(ctx context.Context, q models.PageQuery, op string, anchor int, limit int) ([]models.Message, bool, error) {
	if limit <= 0 {
		return []models.Message{}, false, nil
	}
	order := "DESC"
	if op == ">" || op == ">=" {
		order = "ASC"
	}
	args := []any{q.ChannelID, limit + 1}
	where := "chat_channel_id=$1"
	if op != "" {
		args = append(args, anchor)
		where += fmt.Sprintf(" AND id %s $%d", op, len(args))
	}
	where, args = visibility(where, args, q)

	var msgs []models.Message
	query := fmt.Sprintf(`SELECT %s FROM chat_messages WHERE %s ORDER BY id %s LIMIT $2`, messageColumns, where, order)
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, false, err
	}
	more := len(msgs) > limit
	if more {
		msgs = msgs[:limit]
	}
	return msgs, more, nil
}

func (r *MessageRepo) exists(ctx context.Context, q models.PageQuery, op string, anchor int) (bool, error) {
	args := []any{q.ChannelID, anchor}
	where, args := visibility(fmt.Sprintf("chat_channel_id=$1 AND id %s $2", op), args, q)
	var found bool
	err := r.db.GetContext(ctx, &found, `SELECT EXISTS(SELECT 1 FROM chat_messages WHERE `+where+`)`, args...)
	return found, err
}

func visibility(where string, args []any, q models.PageQuery) (string, []any) {
	if q.IncludeDeleted {
		return where, args
	}
	args = append(args, q.ViewerID)
	return where + fmt.Sprintf(" AND (deleted_at IS NULL OR user_id = $%d)", len(args)), args
}

func reverse(msgs []models.Message) []models.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// UpdateContent stores an edit and its revision row atomically.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, editorID int, raw, cooked string, uploadIDs []int64) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var old string
	if err = tx.GetContext(ctx, &old, `SELECT message FROM chat_messages WHERE id=$1 FOR UPDATE`, messageID); err != nil {
		if isNoRows(err) {
			err = ErrMessageNotFound
		}
		return models.Message{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_message_revisions (chat_message_id, old_message, new_message, user_id) VALUES ($1, $2, $3, $4)`,
		messageID, old, raw, editorID); err != nil {
		return models.Message{}, err
	}
	if uploadIDs == nil {
		uploadIDs = []int64{}
	}
	var msg models.Message
	if err = tx.GetContext(ctx, &msg, `UPDATE chat_messages SET message=$2, cooked=$3, upload_ids=$4, revision=revision+1, updated_at=NOW()
        WHERE id=$1 RETURNING `+messageColumns, messageID, raw, cooked, pq.Int64Array(uploadIDs)); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// SoftDelete sets deleted_at on a live message. Deletion and restore bump
// the revision so mention jobs queued before them go stale.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, actorID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE chat_messages SET deleted_at=NOW(), deleted_by_id=$2, revision=revision+1, updated_at=NOW()
        WHERE id=$1 AND deleted_at IS NULL RETURNING `+messageColumns, messageID, actorID)
	if isNoRows(err) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Restore clears deleted_at on a deleted message.
func (r *MessageRepo) Restore(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE chat_messages SET deleted_at=NULL, deleted_by_id=NULL, revision=revision+1, updated_at=NOW()
        WHERE id=$1 AND deleted_at IS NOT NULL RETURNING `+messageColumns, messageID)
	if isNoRows(err) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// CountDeletedBy counts own messages the user deleted since the given time.
func (r *MessageRepo) CountDeletedBy(ctx context.Context, userID int, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages WHERE deleted_by_id=$1 AND user_id=$1 AND deleted_at >= $2`, userID, since)
	return count, err
}

// LastMessageID returns the newest message id of a channel, nil when empty.
func (r *MessageRepo) LastMessageID(ctx context.Context, channelID int) (*int, error) {
	var id sql.NullInt64
	if err := r.db.GetContext(ctx, &id, `SELECT MAX(id) FROM chat_messages WHERE chat_channel_id=$1`, channelID); err != nil {
		return nil, err
	}
	if !id.Valid {
		return nil, nil
	}
	v := int(id.Int64)
	return &v, nil
}

// CountLive counts non-deleted messages in a channel.
func (r *MessageRepo) CountLive(ctx context.Context, channelID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages WHERE chat_channel_id=$1 AND deleted_at IS NULL`, channelID)
	return count, err
}

// NextLiveBatch returns the oldest non-deleted messages of a channel.
func (r *MessageRepo) NextLiveBatch(ctx context.Context, channelID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM chat_messages
        WHERE chat_channel_id=$1 AND deleted_at IS NULL ORDER BY id ASC LIMIT $2`, channelID, limit)
	return msgs, err
}
