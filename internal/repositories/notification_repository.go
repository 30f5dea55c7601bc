package repositories

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"chat-plugin/internal/models"
)

// NotificationRepository writes host notifications outside of mentions.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, userID int, kind models.NotificationType, data any) (models.Notification, error)
	MarkMentionsRead(ctx context.Context, userID int, channelID int, upToMessageID int) (int64, error)
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// CreateNotification stores a notification with data encoded as JSON.
func (r *NotificationRepo) CreateNotification(ctx context.Context, userID int, kind models.NotificationType, data any) (models.Notification, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.Notification{}, err
	}
	var n models.Notification
	err = r.db.GetContext(ctx, &n, `INSERT INTO notifications (user_id, notification_type, data) VALUES ($1, $2, $3)
        RETURNING id, user_id, notification_type, data, read, created_at`, userID, kind, raw)
	return n, err
}

// MarkMentionsRead marks the mention notifications of a channel read up to
// and including upToMessageID.
func (r *NotificationRepo) MarkMentionsRead(ctx context.Context, userID int, channelID int, upToMessageID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications n SET read=TRUE
        FROM chat_mentions mn JOIN chat_messages cm ON cm.id = mn.chat_message_id
        WHERE n.id = mn.notification_id AND mn.user_id=$1 AND cm.chat_channel_id=$2 AND cm.id <= $3 AND NOT n.read`,
		userID, channelID, upToMessageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
