package models

import "time"

// FlagType is the reason a message was flagged.
type FlagType string

const (
	FlagSpam             FlagType = "spam"
	FlagInappropriate    FlagType = "inappropriate"
	FlagOffTopic         FlagType = "off_topic"
	FlagNotifyModerators FlagType = "notify_moderators"
)

func (f FlagType) Valid() bool {
	switch f {
	case FlagSpam, FlagInappropriate, FlagOffTopic, FlagNotifyModerators:
		return true
	}
	return false
}

// ReviewableStatus is the moderation state of a flagged message.
type ReviewableStatus string

const (
	ReviewPending  ReviewableStatus = "pending"
	ReviewApproved ReviewableStatus = "approved"
	ReviewRejected ReviewableStatus = "rejected"
	ReviewIgnored  ReviewableStatus = "ignored"
)

// Reviewable is a message queued for moderator attention.
type Reviewable struct {
	ID                int              `db:"id" json:"id"`
	ChatMessageID     int              `db:"chat_message_id" json:"chat_message_id"`
	ChatChannelID     int              `db:"chat_channel_id" json:"chat_channel_id"`
	TargetCreatedByID int              `db:"target_created_by_id" json:"target_created_by_id"`
	Status            ReviewableStatus `db:"status" json:"status"`
	Score             float64          `db:"score" json:"score"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}
