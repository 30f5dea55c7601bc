package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-plugin/internal/models"
)

const archiveColumns = `id, chat_channel_id, archived_by_id, destination_topic_id, destination_topic_title,
        destination_category_id, destination_tags, total_messages, archived_messages, archive_error,
        completed_at, created_at, updated_at`

// ArchiveRepository persists channel archive progress and the forum posts it
// produces.
type ArchiveRepository interface {
	CreateArchive(ctx context.Context, a models.ChannelArchive) (models.ChannelArchive, bool, error)
	GetArchive(ctx context.Context, archiveID int) (models.ChannelArchive, error)
	GetArchiveByChannel(ctx context.Context, channelID int) (models.ChannelArchive, error)
	EnsureDestinationTopic(ctx context.Context, archiveID int, firstPost string) (models.ChannelArchive, error)
	ArchiveBatch(ctx context.Context, archiveID int, topicID int, userID int, messageIDs []int, transcript string) (int, error)
	CompleteArchive(ctx context.Context, archiveID int) (models.ChannelArchive, error)
	FailArchive(ctx context.Context, archiveID int, reason string) error
	ClearError(ctx context.Context, archiveID int) error
	TopicExists(ctx context.Context, topicID int) (bool, error)
}

// ArchiveRepo is a sqlx implementation of ArchiveRepository.
type ArchiveRepo struct {
	db *sqlx.DB
}

// NewArchiveRepo constructs an ArchiveRepo.
func NewArchiveRepo(db *sqlx.DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// CreateArchive inserts the archive record of a channel. When one exists the
// stored row is returned with created=false.
func (r *ArchiveRepo) CreateArchive(ctx context.Context, a models.ChannelArchive) (models.ChannelArchive, bool, error) {
	if a.DestinationTags == nil {
		a.DestinationTags = pq.StringArray{}
	}
	var out models.ChannelArchive
	err := r.db.GetContext(ctx, &out, `INSERT INTO chat_channel_archives
            (chat_channel_id, archived_by_id, destination_topic_id, destination_topic_title, destination_category_id, destination_tags, total_messages)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (chat_channel_id) DO NOTHING
        RETURNING `+archiveColumns,
		a.ChatChannelID, a.ArchivedByID, a.DestinationTopicID, a.DestinationTopicTitle, a.DestinationCategoryID, a.DestinationTags, a.TotalMessages)
	if isNoRows(err) {
		existing, err := r.GetArchiveByChannel(ctx, a.ChatChannelID)
		return existing, false, err
	}
	if err != nil {
		return models.ChannelArchive{}, false, err
	}
	return out, true, nil
}

// GetArchive loads an archive by id.
func (r *ArchiveRepo) GetArchive(ctx context.Context, archiveID int) (models.ChannelArchive, error) {
	var a models.ChannelArchive
	err := r.db.GetContext(ctx, &a, `SELECT `+archiveColumns+` FROM chat_channel_archives WHERE id=$1`, archiveID)
	if isNoRows(err) {
		return models.ChannelArchive{}, ErrArchiveNotFound
	}
	return a, err
}

// GetArchiveByChannel loads the archive of a channel.
func (r *ArchiveRepo) GetArchiveByChannel(ctx context.Context, channelID int) (models.ChannelArchive, error) {
	var a models.ChannelArchive
	err := r.db.GetContext(ctx, &a, `SELECT `+archiveColumns+` FROM chat_channel_archives WHERE chat_channel_id=$1`, channelID)
	if isNoRows(err) {
		return models.ChannelArchive{}, ErrArchiveNotFound
	}
	return a, err
}

// EnsureDestinationTopic creates the destination topic and its first post
// when the archive has none yet. The archive row is locked so two runs never
// create two topics. A supplied topic must exist.
func (r *ArchiveRepo) EnsureDestinationTopic(ctx context.Context, archiveID int, firstPost string) (models.ChannelArchive, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ChannelArchive{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var a models.ChannelArchive
	if err = tx.GetContext(ctx, &a, `SELECT `+archiveColumns+` FROM chat_channel_archives WHERE id=$1 FOR UPDATE`, archiveID); err != nil {
		if isNoRows(err) {
			err = ErrArchiveNotFound
		}
		return models.ChannelArchive{}, err
	}

	if a.DestinationTopicID != nil {
		var found bool
		if err = tx.GetContext(ctx, &found, `SELECT EXISTS(SELECT 1 FROM topics WHERE id=$1)`, *a.DestinationTopicID); err != nil {
			return models.ChannelArchive{}, err
		}
		if !found {
			err = ErrTopicNotFound
			return models.ChannelArchive{}, err
		}
		if err = tx.Commit(); err != nil {
			return models.ChannelArchive{}, err
		}
		return a, nil
	}

	var topicID int
	if err = tx.GetContext(ctx, &topicID, `INSERT INTO topics (title, category_id, tags, user_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		a.DestinationTopicTitle, a.DestinationCategoryID, a.DestinationTags, a.ArchivedByID); err != nil {
		return models.ChannelArchive{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO posts (topic_id, user_id, post_number, raw) VALUES ($1, $2, 1, $3)`,
		topicID, a.ArchivedByID, firstPost); err != nil {
		return models.ChannelArchive{}, err
	}
	if err = tx.GetContext(ctx, &a, `UPDATE chat_channel_archives SET destination_topic_id=$2, updated_at=NOW()
            WHERE id=$1 RETURNING `+archiveColumns, archiveID, topicID); err != nil {
		return models.ChannelArchive{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.ChannelArchive{}, err
	}
	return a, nil
}

// ArchiveBatch soft-deletes one batch of messages and appends its transcript
// post in a single transaction. Only rows that were still live count towards
// archived_messages, so a replayed batch adds nothing. It returns the number
// of messages archived by this call.
func (r *ArchiveRepo) ArchiveBatch(ctx context.Context, archiveID int, topicID int, userID int, messageIDs []int, transcript string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE chat_messages SET deleted_at=NOW(), deleted_by_id=$2, updated_at=NOW()
        WHERE id = ANY($1) AND deleted_at IS NULL`, pq.Array(messageIDs), userID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		err = tx.Commit()
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO posts (topic_id, user_id, post_number, raw)
            SELECT $1, $2, COALESCE(MAX(post_number), 0) + 1, $3 FROM posts WHERE topic_id=$1`,
		topicID, userID, transcript); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE chat_channel_archives SET archived_messages=archived_messages+$2, updated_at=NOW() WHERE id=$1`,
		archiveID, affected); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

// CompleteArchive stamps completed_at and clears any error.
func (r *ArchiveRepo) CompleteArchive(ctx context.Context, archiveID int) (models.ChannelArchive, error) {
	var a models.ChannelArchive
	err := r.db.GetContext(ctx, &a, `UPDATE chat_channel_archives SET completed_at=NOW(), archive_error=NULL, updated_at=NOW()
        WHERE id=$1 RETURNING `+archiveColumns, archiveID)
	if isNoRows(err) {
		return models.ChannelArchive{}, ErrArchiveNotFound
	}
	return a, err
}

// FailArchive persists the failure reason.
func (r *ArchiveRepo) FailArchive(ctx context.Context, archiveID int, reason string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_channel_archives SET archive_error=$2, updated_at=NOW() WHERE id=$1`, archiveID, reason)
	if err != nil {
		return err
	}
	return requireRow(res, ErrArchiveNotFound)
}

// ClearError resets a failed archive so it can be retried.
func (r *ArchiveRepo) ClearError(ctx context.Context, archiveID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_channel_archives SET archive_error=NULL, updated_at=NOW() WHERE id=$1`, archiveID)
	if err != nil {
		return err
	}
	return requireRow(res, ErrArchiveNotFound)
}

// TopicExists reports whether a forum topic exists.
func (r *ArchiveRepo) TopicExists(ctx context.Context, topicID int) (bool, error) {
	var found bool
	err := r.db.GetContext(ctx, &found, `SELECT EXISTS(SELECT 1 FROM topics WHERE id=$1)`, topicID)
	return found, err
}
