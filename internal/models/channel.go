package models

import (
	"time"

	"github.com/lib/pq"
)

// ChannelStatus is the lifecycle state of a chat channel.
type ChannelStatus string

const (
	ChannelOpen     ChannelStatus = "open"
	ChannelClosed   ChannelStatus = "closed"
	ChannelReadOnly ChannelStatus = "read_only"
	ChannelArchived ChannelStatus = "archived"
)

// Valid reports whether s is one of the known statuses.
func (s ChannelStatus) Valid() bool {
	switch s {
	case ChannelOpen, ChannelClosed, ChannelReadOnly, ChannelArchived:
		return true
	}
	return false
}

// ChatableType names the host entity a channel hangs off.
type ChatableType string

const (
	ChatableCategory      ChatableType = "Category"
	ChatableTopic         ChatableType = "Topic"
	ChatableTag           ChatableType = "Tag"
	ChatableDirectMessage ChatableType = "DirectMessage"
	ChatableSite          ChatableType = "Site"
)

// Channel is a chat channel attached to a chatable.
type Channel struct {
	ID              int           `db:"id" json:"id"`
	ChatableType    ChatableType  `db:"chatable_type" json:"chatable_type"`
	ChatableID      int           `db:"chatable_id" json:"chatable_id"`
	Name            string        `db:"name" json:"name"`
	Description     string        `db:"description" json:"description"`
	Status          ChannelStatus `db:"status" json:"status"`
	ReadRestricted  bool          `db:"read_restricted" json:"read_restricted"`
	AllowedGroupIDs pq.Int64Array `db:"allowed_group_ids" json:"-"`
	UserCount       int           `db:"user_count" json:"memberships_count"`
	UserCountStale  bool          `db:"user_count_stale" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsDirectMessage reports whether the channel is a direct-message channel.
func (c Channel) IsDirectMessage() bool {
	return c.ChatableType == ChatableDirectMessage
}

// AllowsGroup reports whether members of groupID may read a restricted channel.
func (c Channel) AllowsGroup(groupID int) bool {
	for _, id := range c.AllowedGroupIDs {
		if int(id) == groupID {
			return true
		}
	}
	return false
}

// StatusTransitionAllowed reports whether a staff member may move a channel
// from one status to another outside the archive pipeline.
func StatusTransitionAllowed(from, to ChannelStatus) bool {
	if from == ChannelArchived || to == ChannelArchived || from == to {
		return false
	}
	return from.Valid() && to.Valid()
}
