package models

import "time"

// User is the host forum account as seen by chat.
type User struct {
	ID           int        `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Name         string     `db:"name" json:"name,omitempty"`
	Admin        bool       `db:"admin" json:"-"`
	Moderator    bool       `db:"moderator" json:"-"`
	ChatEnabled  bool       `db:"chat_enabled" json:"-"`
	TrustLevel   int        `db:"trust_level" json:"-"`
	SilencedTill *time.Time `db:"silenced_till" json:"-"`
	LastSeenAt   *time.Time `db:"last_seen_at" json:"-"`
	GroupIDs     []int      `db:"-" json:"-"`
}

// IsStaff reports whether the user is an admin or moderator.
func (u User) IsStaff() bool {
	return u.Admin || u.Moderator
}

// IsSilenced reports whether the user is silenced at now.
func (u User) IsSilenced(now time.Time) bool {
	return u.SilencedTill != nil && u.SilencedTill.After(now)
}

// InGroup reports whether the user belongs to groupID.
func (u User) InGroup(groupID int) bool {
	for _, id := range u.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// Group is a host user group that can be @-mentioned.
type Group struct {
	ID          int    `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Mentionable bool   `db:"mentionable" json:"mentionable"`
}
