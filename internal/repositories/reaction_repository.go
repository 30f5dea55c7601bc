package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

// ReactionRepository persists message reactions.
type ReactionRepository interface {
	ListReactions(ctx context.Context, messageIDs []int) ([]models.Reaction, error)
	AddReaction(ctx context.Context, messageID int, userID int, emoji string, maxDistinct int) (bool, error)
	RemoveReaction(ctx context.Context, messageID int, userID int, emoji string) (bool, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// ListReactions returns reactions of the given messages in creation order.
func (r *ReactionRepo) ListReactions(ctx context.Context, messageIDs []int) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return []models.Reaction{}, nil
	}
	var out []models.Reaction
	err := r.db.SelectContext(ctx, &out, `SELECT id, chat_message_id, user_id, emoji, created_at FROM chat_message_reactions
        WHERE chat_message_id = ANY($1) ORDER BY id`, pq.Array(messageIDs))
	return out, err
}

// AddReaction inserts a reaction unless the user already reacted with the
// emoji. A new distinct emoji beyond maxDistinct returns ErrTooManyReactions.
func (r *ReactionRepo) AddReaction(ctx context.Context, messageID int, userID int, emoji string, maxDistinct int) (bool, error) {
	changed := false
	err := r.withMessageLock(ctx, messageID, func(tx *sqlx.Tx) error {
		var present bool
		if err := tx.GetContext(ctx, &present, `SELECT EXISTS(SELECT 1 FROM chat_message_reactions
                WHERE chat_message_id=$1 AND user_id=$2 AND emoji=$3)`, messageID, userID, emoji); err != nil {
			return err
		}
		if present {
			return nil
		}
		var stats struct {
			Distinct int  `db:"distinct_count"`
			Known    bool `db:"known"`
		}
		if err := tx.GetContext(ctx, &stats, `SELECT COUNT(DISTINCT emoji) AS distinct_count, COALESCE(BOOL_OR(emoji=$2), FALSE) AS known
                FROM chat_message_reactions WHERE chat_message_id=$1`, messageID, emoji); err != nil {
			return err
		}
		if !stats.Known && stats.Distinct >= maxDistinct {
			return ErrTooManyReactions
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_message_reactions (chat_message_id, user_id, emoji) VALUES ($1, $2, $3)`,
			messageID, userID, emoji); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// RemoveReaction deletes a reaction, reporting whether one existed.
func (r *ReactionRepo) RemoveReaction(ctx context.Context, messageID int, userID int, emoji string) (bool, error) {
	changed := false
	err := r.withMessageLock(ctx, messageID, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM chat_message_reactions WHERE chat_message_id=$1 AND user_id=$2 AND emoji=$3`,
			messageID, userID, emoji)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		changed = n > 0
		return err
	})
	return changed, err
}

func (r *ReactionRepo) withMessageLock(ctx context.Context, messageID int, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lockReactions, messageID); err != nil {
		tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
