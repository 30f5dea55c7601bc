package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-plugin/internal/models"
)

const reviewableColumns = `id, chat_message_id, chat_channel_id, target_created_by_id, status, score, created_at, updated_at`

// ReviewableRepository persists the moderation queue.
type ReviewableRepository interface {
	AddFlag(ctx context.Context, msg models.Message, userID int, flagType models.FlagType, weight float64) (models.Reviewable, error)
	GetReviewable(ctx context.Context, reviewableID int) (models.Reviewable, error)
	SetStatus(ctx context.Context, reviewableID int, status models.ReviewableStatus) (models.Reviewable, error)
}

// ReviewableRepo is a sqlx implementation of ReviewableRepository.
type ReviewableRepo struct {
	db *sqlx.DB
}

// NewReviewableRepo constructs a ReviewableRepo.
func NewReviewableRepo(db *sqlx.DB) *ReviewableRepo {
	return &ReviewableRepo{db: db}
}

// AddFlag records one user's flag on a message, creating or reopening its
// reviewable. A second flag by the same user returns ErrAlreadyFlagged.
func (r *ReviewableRepo) AddFlag(ctx context.Context, msg models.Message, userID int, flagType models.FlagType, weight float64) (models.Reviewable, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Reviewable{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var reviewableID int
	if err = tx.GetContext(ctx, &reviewableID, `INSERT INTO reviewables (chat_message_id, chat_channel_id, target_created_by_id)
            VALUES ($1, $2, $3)
            ON CONFLICT (chat_message_id) DO UPDATE SET status='pending', updated_at=NOW()
            RETURNING id`, msg.ID, msg.ChatChannelID, msg.UserID); err != nil {
		return models.Reviewable{}, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO reviewable_scores (reviewable_id, user_id, flag_type, score) VALUES ($1, $2, $3, $4)
        ON CONFLICT (reviewable_id, user_id) DO NOTHING`, reviewableID, userID, flagType, weight)
	if err != nil {
		return models.Reviewable{}, err
	}
	if err = requireRow(res, ErrAlreadyFlagged); err != nil {
		return models.Reviewable{}, err
	}

	var rv models.Reviewable
	if err = tx.GetContext(ctx, &rv, `UPDATE reviewables SET score=score+$2, updated_at=NOW() WHERE id=$1 RETURNING `+reviewableColumns,
		reviewableID, weight); err != nil {
		return models.Reviewable{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Reviewable{}, err
	}
	return rv, nil
}

// GetReviewable loads a reviewable by id.
func (r *ReviewableRepo) GetReviewable(ctx context.Context, reviewableID int) (models.Reviewable, error) {
	var rv models.Reviewable
	err := r.db.GetContext(ctx, &rv, `SELECT `+reviewableColumns+` FROM reviewables WHERE id=$1`, reviewableID)
	if isNoRows(err) {
		return models.Reviewable{}, ErrReviewableNotFound
	}
	return rv, err
}

// SetStatus moves a reviewable to a new status.
func (r *ReviewableRepo) SetStatus(ctx context.Context, reviewableID int, status models.ReviewableStatus) (models.Reviewable, error) {
	var rv models.Reviewable
	err := r.db.GetContext(ctx, &rv, `UPDATE reviewables SET status=$2, updated_at=NOW() WHERE id=$1 RETURNING `+reviewableColumns,
		reviewableID, status)
	if isNoRows(err) {
		return models.Reviewable{}, ErrReviewableNotFound
	}
	return rv, err
}
