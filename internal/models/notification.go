package models

import (
	"encoding/json"
	"time"
)

// NotificationType mirrors the host notification type ids used by chat.
type NotificationType int

const (
	NotificationChatMention       NotificationType = 29
	NotificationChatMessage       NotificationType = 30
	NotificationChatInvitation    NotificationType = 31
	NotificationChatGroupMention  NotificationType = 32
	NotificationChatArchiveDone   NotificationType = 33
	NotificationChatArchiveFailed NotificationType = 34
)

// Notification is the host's generic notification row.
type Notification struct {
	ID               int              `db:"id" json:"id"`
	UserID           int              `db:"user_id" json:"user_id"`
	NotificationType NotificationType `db:"notification_type" json:"notification_type"`
	Data             json.RawMessage  `db:"data" json:"data"`
	Read             bool             `db:"read" json:"read"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// Mention links a message to the notification sent to a mentioned user.
type Mention struct {
	ID             int       `db:"id" json:"id"`
	ChatMessageID  int       `db:"chat_message_id" json:"chat_message_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	NotificationID int       `db:"notification_id" json:"notification_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// MentionDiff is the reconciliation of persisted mention notifications
// against the users a message currently mentions.
type MentionDiff struct {
	Create    []int
	Destroy   []int
	Unchanged []int
}

// Empty reports whether applying the diff would change nothing.
func (d MentionDiff) Empty() bool {
	return len(d.Create) == 0 && len(d.Destroy) == 0
}

// DiffMentions computes which users gain and lose a mention notification.
// Output slices follow the order of their input.
func DiffMentions(existing, desired []int) MentionDiff {
	existingSet := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}
	desiredSet := make(map[int]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}

	var diff MentionDiff
	seen := make(map[int]struct{}, len(desired))
	for _, id := range desired {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := existingSet[id]; ok {
			diff.Unchanged = append(diff.Unchanged, id)
		} else {
			diff.Create = append(diff.Create, id)
		}
	}
	for _, id := range existing {
		if _, ok := desiredSet[id]; !ok {
			diff.Destroy = append(diff.Destroy, id)
		}
	}
	return diff
}

// MentionNotificationData is the payload stored on mention notifications.
type MentionNotificationData struct {
	ChatMessageID   int    `json:"chat_message_id"`
	ChatChannelID   int    `json:"chat_channel_id"`
	ChatChannelName string `json:"chat_channel_title"`
	MentionedBy     string `json:"mentioned_by_username"`
	IdentifierType  string `json:"identifier,omitempty"`
}
