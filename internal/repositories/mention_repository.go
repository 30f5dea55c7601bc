package repositories

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

// MentionReconcile is one desired mention set computed against a message
// revision. Types and Data give the notification written for each new user.
type MentionReconcile struct {
	MessageID int
	Revision  int
	Desired   []int
	Types     map[int]models.NotificationType
	Data      json.RawMessage
}

// MentionRepository persists chat mentions and their notifications.
type MentionRepository interface {
	ListMentionedUserIDs(ctx context.Context, messageID int) ([]int, error)
	Reconcile(ctx context.Context, rec MentionReconcile) (models.MentionDiff, []models.Notification, error)
}

// MentionRepo is a sqlx implementation of MentionRepository.
type MentionRepo struct {
	db *sqlx.DB
}

// NewMentionRepo constructs a MentionRepo.
func NewMentionRepo(db *sqlx.DB) *MentionRepo {
	return &MentionRepo{db: db}
}

// ListMentionedUserIDs returns the users currently holding a mention row.
func (r *MentionRepo) ListMentionedUserIDs(ctx context.Context, messageID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_mentions WHERE chat_message_id=$1 ORDER BY user_id`, messageID)
	return ids, err
}

// Reconcile brings the mention rows of a message to rec.Desired. Concurrent
// reconciliations of one message serialise on an advisory lock, and a stale
// revision aborts with ErrStaleRevision. A deleted message reconciles to the
// empty set. Deleting a notification cascades to its mention row.
func (r *MentionRepo) Reconcile(ctx context.Context, rec MentionReconcile) (models.MentionDiff, []models.Notification, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.MentionDiff{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lockMentions, rec.MessageID); err != nil {
		return models.MentionDiff{}, nil, err
	}

	var state struct {
		Revision int  `db:"revision"`
		Deleted  bool `db:"deleted"`
	}
	if err = tx.GetContext(ctx, &state, `SELECT revision, deleted_at IS NOT NULL AS deleted FROM chat_messages WHERE id=$1`, rec.MessageID); err != nil {
		if isNoRows(err) {
			err = ErrMessageNotFound
		}
		return models.MentionDiff{}, nil, err
	}
	if state.Revision != rec.Revision {
		err = ErrStaleRevision
		return models.MentionDiff{}, nil, err
	}

	existing := []int{}
	if err = tx.SelectContext(ctx, &existing, `SELECT user_id FROM chat_mentions WHERE chat_message_id=$1 ORDER BY user_id`, rec.MessageID); err != nil {
		return models.MentionDiff{}, nil, err
	}
	desired := rec.Desired
	if state.Deleted {
		desired = nil
	}
	diff := models.DiffMentions(existing, desired)

	if len(diff.Destroy) > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM notifications WHERE id IN (
                SELECT notification_id FROM chat_mentions WHERE chat_message_id=$1 AND user_id = ANY($2))`,
			rec.MessageID, pq.Array(diff.Destroy)); err != nil {
			return models.MentionDiff{}, nil, err
		}
	}

	data := rec.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	created := make([]models.Notification, 0, len(diff.Create))
	for _, userID := range diff.Create {
		kind, ok := rec.Types[userID]
		if !ok {
			kind = models.NotificationChatMention
		}
		var n models.Notification
		if err = tx.GetContext(ctx, &n, `INSERT INTO notifications (user_id, notification_type, data) VALUES ($1, $2, $3)
                RETURNING id, user_id, notification_type, data, read, created_at`, userID, kind, []byte(data)); err != nil {
			return models.MentionDiff{}, nil, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_mentions (chat_message_id, user_id, notification_id) VALUES ($1, $2, $3)`,
			rec.MessageID, userID, n.ID); err != nil {
			return models.MentionDiff{}, nil, err
		}
		created = append(created, n)
	}

	if err = tx.Commit(); err != nil {
		return models.MentionDiff{}, nil, err
	}
	return diff, created, nil
}
