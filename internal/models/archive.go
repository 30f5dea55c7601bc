package models

import (
	"time"

	"github.com/lib/pq"
)

// ArchiveStatus is derived from an archive record's counters and error.
type ArchiveStatus string

const (
	ArchiveInProgress ArchiveStatus = "archiving"
	ArchiveFailed     ArchiveStatus = "failed"
	ArchiveComplete   ArchiveStatus = "archived"
)

// ChannelArchive tracks conversion of a channel into a forum topic. The
// counters double as the resume checkpoint.
type ChannelArchive struct {
	ID                    int            `db:"id" json:"id"`
	ChatChannelID         int            `db:"chat_channel_id" json:"chat_channel_id"`
	ArchivedByID          int            `db:"archived_by_id" json:"archived_by_id"`
	DestinationTopicID    *int           `db:"destination_topic_id" json:"destination_topic_id,omitempty"`
	DestinationTopicTitle string         `db:"destination_topic_title" json:"destination_topic_title,omitempty"`
	DestinationCategoryID *int           `db:"destination_category_id" json:"destination_category_id,omitempty"`
	DestinationTags       pq.StringArray `db:"destination_tags" json:"destination_tags"`
	TotalMessages         int            `db:"total_messages" json:"total_messages"`
	ArchivedMessages      int            `db:"archived_messages" json:"archived_messages"`
	ArchiveError          *string        `db:"archive_error" json:"archive_error,omitempty"`
	CompletedAt           *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// Status derives the archive state.
func (a ChannelArchive) Status() ArchiveStatus {
	switch {
	case a.CompletedAt != nil:
		return ArchiveComplete
	case a.ArchiveError != nil:
		return ArchiveFailed
	default:
		return ArchiveInProgress
	}
}

// NewTopic reports whether the archive has to create its destination topic.
func (a ChannelArchive) NewTopic() bool {
	return a.DestinationTopicTitle != ""
}

// ArchiveParams describes where a channel's history should go.
type ArchiveParams struct {
	TopicID    *int     `json:"topic_id"`
	Title      string   `json:"title"`
	CategoryID *int     `json:"category_id"`
	Tags       []string `json:"tags"`
}

// Topic is a host forum topic used as an archive destination.
type Topic struct {
	ID         int            `db:"id" json:"id"`
	Title      string         `db:"title" json:"title"`
	CategoryID *int           `db:"category_id" json:"category_id,omitempty"`
	Tags       pq.StringArray `db:"tags" json:"tags"`
	UserID     int            `db:"user_id" json:"user_id"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Post is a host forum post.
type Post struct {
	ID         int       `db:"id" json:"id"`
	TopicID    int       `db:"topic_id" json:"topic_id"`
	UserID     int       `db:"user_id" json:"user_id"`
	PostNumber int       `db:"post_number" json:"post_number"`
	Raw        string    `db:"raw" json:"raw"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
