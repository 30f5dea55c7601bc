package repositories

import (
	"database/sql"
	"errors"
)

var (
	ErrChannelNotFound    = errors.New("channel not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrArchiveNotFound    = errors.New("archive not found")
	ErrTopicNotFound      = errors.New("topic not found")
	ErrReviewableNotFound = errors.New("reviewable not found")

	// ErrTooManyReactions is returned when a new emoji would exceed the
	// per-message distinct emoji cap.
	ErrTooManyReactions = errors.New("too many distinct reactions")
	// ErrStaleRevision is returned when a mention reconciliation was computed
	// against an older revision of the message.
	ErrStaleRevision = errors.New("message revision changed")

	ErrAlreadyFlagged = errors.New("message already flagged by user")
)

// Advisory lock namespaces for pg_advisory_xact_lock(namespace, id).
const (
	lockMentions  = 1
	lockReactions = 2
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
