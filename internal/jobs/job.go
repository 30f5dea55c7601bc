// Package jobs defines deferred chat work and the policy that runs it.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a registered job handler.
type Kind string

const (
	KindNotifyMentioned Kind = "chat.notify_mentioned"
	KindNotifyWatching  Kind = "chat.notify_watching"
	KindUpdateUserCount Kind = "chat.update_user_count"
	KindArchiveChannel  Kind = "chat.archive_channel"
)

var knownKinds = map[Kind]struct{}{
	KindNotifyMentioned: {},
	KindNotifyWatching:  {},
	KindUpdateUserCount: {},
	KindArchiveChannel:  {},
}

// Known reports whether kind is one of the job kinds the service runs.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Job is one unit of deferred work.
type Job struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	RunAt   time.Time       `json:"run_at"`
	Attempt int             `json:"attempt"`
}

// New builds a job that becomes due after delay.
func New(kind Kind, payload any, delay time.Duration) (Job, error) {
	if !kind.Known() {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Job{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: raw,
		RunAt:   time.Now().Add(delay),
	}, nil
}

// Delay returns how long until the job is due, never negative.
func (j Job) Delay(now time.Time) time.Duration {
	if d := j.RunAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

var ErrUnknownKind = errors.New("unknown job kind")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// NotifyMentioned reconciles mention notifications of one message revision.
type NotifyMentioned struct {
	MessageID int   `json:"message_id"`
	Revision  int   `json:"revision"`
	UserIDs   []int `json:"user_ids"`
	// GroupMentioned lists users reached only through a group, @all or @here.
	GroupMentioned []int  `json:"group_mentioned,omitempty"`
	Identifier     string `json:"identifier,omitempty"`
}

// NotifyWatching alerts members that watch every message of a channel.
type NotifyWatching struct {
	MessageID int   `json:"message_id"`
	Except    []int `json:"except"`
}

// UpdateUserCount recounts channel followers.
type UpdateUserCount struct {
	ChannelID int `json:"chat_channel_id"`
}

// ArchiveChannel runs or resumes a channel archive.
type ArchiveChannel struct {
	ArchiveID int `json:"chat_channel_archive_id"`
}
