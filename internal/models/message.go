package models

import (
	"time"

	"github.com/lib/pq"
)

// Message is one entry in a channel's append-only log.
type Message struct {
	ID            int           `db:"id" json:"id"`
	ChatChannelID int           `db:"chat_channel_id" json:"chat_channel_id"`
	UserID        int           `db:"user_id" json:"user_id"`
	Message       string        `db:"message" json:"message"`
	Cooked        string        `db:"cooked" json:"cooked"`
	InReplyToID   *int          `db:"in_reply_to_id" json:"in_reply_to_id,omitempty"`
	PostID        *int          `db:"post_id" json:"post_id,omitempty"`
	UploadIDs     pq.Int64Array `db:"upload_ids" json:"upload_ids"`
	Revision      int           `db:"revision" json:"revision"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedByID   *int          `db:"deleted_by_id" json:"deleted_by_id,omitempty"`
}

// Deleted reports whether the message is soft-deleted.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MessageRevision records one edit of a message.
type MessageRevision struct {
	ID            int       `db:"id" json:"id"`
	ChatMessageID int       `db:"chat_message_id" json:"chat_message_id"`
	OldMessage    string    `db:"old_message" json:"old_message"`
	NewMessage    string    `db:"new_message" json:"new_message"`
	UserID        int       `db:"user_id" json:"user_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Direction selects which side of an anchor message a page is read from.
type Direction string

const (
	DirectionPast   Direction = "past"
	DirectionFuture Direction = "future"
	DirectionAround Direction = "around"
)

// PageQuery is a keyset query against one channel's log. AnchorID of zero
// means the tail of the channel.
type PageQuery struct {
	ChannelID      int
	AnchorID       int
	Direction      Direction
	PageSize       int
	ViewerID       int
	IncludeDeleted bool
}

// PageMeta tells the client whether more history exists on each side.
type PageMeta struct {
	CanLoadMorePast   bool `json:"can_load_more_past"`
	CanLoadMoreFuture bool `json:"can_load_more_future"`
}

// ReplySnapshot is an inline copy of a reply target so clients can render it
// without having it loaded.
type ReplySnapshot struct {
	ID      int    `json:"id"`
	UserID  int    `json:"user_id"`
	Excerpt string `json:"excerpt"`
}

// ReactionSummary is the aggregate of one emoji on a message.
type ReactionSummary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIDs []int  `json:"user_ids"`
}

// MessageView is the serialized form of a message sent to clients.
type MessageView struct {
	Message
	InReplyTo *ReplySnapshot    `json:"in_reply_to,omitempty"`
	Reactions []ReactionSummary `json:"reactions"`
}
