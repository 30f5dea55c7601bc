package models

import "time"

// NotificationLevel controls when a member is alerted about channel activity.
type NotificationLevel string

const (
	NotifyNever   NotificationLevel = "never"
	NotifyMention NotificationLevel = "mention"
	NotifyAlways  NotificationLevel = "always"
)

func (l NotificationLevel) Valid() bool {
	return l == NotifyNever || l == NotifyMention || l == NotifyAlways
}

// Membership is a user's subscription to a channel. Rows are never deleted on
// unfollow so preferences survive a re-join.
type Membership struct {
	ID                       int               `db:"id" json:"id"`
	UserID                   int               `db:"user_id" json:"user_id"`
	ChatChannelID            int               `db:"chat_channel_id" json:"chat_channel_id"`
	Following                bool              `db:"following" json:"following"`
	Muted                    bool              `db:"muted" json:"muted"`
	DesktopNotificationLevel NotificationLevel `db:"desktop_notification_level" json:"desktop_notification_level"`
	MobileNotificationLevel  NotificationLevel `db:"mobile_notification_level" json:"mobile_notification_level"`
	LastReadMessageID        *int              `db:"last_read_message_id" json:"last_read_message_id"`
	CreatedAt                time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time         `db:"updated_at" json:"updated_at"`
}

// WantsEveryMessage reports whether the member asked to hear about all messages.
func (m Membership) WantsEveryMessage() bool {
	if m.Muted {
		return false
	}
	return m.DesktopNotificationLevel == NotifyAlways || m.MobileNotificationLevel == NotifyAlways
}

// ChannelTracking is the unread state for one of a user's channels.
type ChannelTracking struct {
	ChatChannelID  int  `db:"chat_channel_id" json:"-"`
	Muted          bool `db:"muted" json:"-"`
	LastReadID     *int `db:"last_read_message_id" json:"chat_message_id"`
	UnreadCount    int  `db:"unread_count" json:"unread_count"`
	UnreadMentions int  `db:"unread_mentions" json:"unread_mentions"`
}
