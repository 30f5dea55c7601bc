package models

import "time"

// Event types published on a channel's message topic.
const (
	EventSent           = "sent"
	EventEdit           = "edit"
	EventDelete         = "delete"
	EventBulkDelete     = "bulk_delete"
	EventRestore        = "restore"
	EventReaction       = "reaction"
	EventSelfFlagged    = "self_flagged"
	EventFlag           = "flag"
	EventMentionWarning = "mention_warning"
)

// ChatEvent is broadcast to subscribers of a channel topic.
type ChatEvent struct {
	Type              string       `json:"type"`
	StagedID          string       `json:"staged_id,omitempty"`
	Message           *MessageView `json:"chat_message,omitempty"`
	MessageID         int          `json:"chat_message_id,omitempty"`
	DeletedID         int          `json:"deleted_id,omitempty"`
	DeletedIDs        []int        `json:"deleted_ids,omitempty"`
	DeletedAt         *time.Time   `json:"deleted_at,omitempty"`
	Action            ReactAction  `json:"action,omitempty"`
	Emoji             string       `json:"emoji,omitempty"`
	UserID            int          `json:"user_id,omitempty"`
	ReviewableID      int          `json:"reviewable_id,omitempty"`
	FlagType          FlagType     `json:"flag_type,omitempty"`
	CannotSee         []UserRef    `json:"cannot_see,omitempty"`
	WithoutMembership []UserRef    `json:"without_membership,omitempty"`
}

// UserRef is a compact user reference embedded in events.
type UserRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// ChannelStatusEvent announces a status change.
type ChannelStatusEvent struct {
	ChatChannelID int           `json:"chat_channel_id"`
	Status        ChannelStatus `json:"status"`
}

// ChannelMetadataEvent announces a recomputed member count.
type ChannelMetadataEvent struct {
	ChatChannelID    int `json:"chat_channel_id"`
	MembershipsCount int `json:"memberships_count"`
}

// NewMessageEvent drives unread counters on the client.
type NewMessageEvent struct {
	MessageID int `json:"message_id"`
	UserID    int `json:"user_id"`
}

// NotificationAlert is pushed to a single user's alert topic.
type NotificationAlert struct {
	NotificationType NotificationType `json:"notification_type"`
	ChatChannelID    int              `json:"chat_channel_id"`
	ChatMessageID    int              `json:"chat_message_id,omitempty"`
	Username         string           `json:"username,omitempty"`
	Excerpt          string           `json:"excerpt,omitempty"`
}

// TrackingUpdate is pushed after a read cursor moves.
type TrackingUpdate struct {
	ChatChannelID int  `json:"chat_channel_id"`
	ChatMessageID *int `json:"chat_message_id"`
	UnreadCount   int  `json:"unread_count"`
	Mentions      int  `json:"unread_mentions"`
}
