package services

import (
	"context"
	"log/slog"
	"time"

	"chat-plugin/internal/models"
	"chat-plugin/internal/repositories"
)

// Guardian answers permission questions about users, channels and
// messages. It never mutates state.
type Guardian struct {
	channels repositories.ChannelRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuardian constructs a Guardian.
func NewGuardian(channels repositories.ChannelRepository, logger *slog.Logger, now func() time.Time) *Guardian {
	return &Guardian{channels: channels, logger: logger, now: now}
}

// CanChat reports whether the user may use chat at all.
func (g *Guardian) CanChat(u models.User) bool {
	return u.ID != 0 && u.ChatEnabled
}

// CanPost reports whether the user may write messages right now.
func (g *Guardian) CanPost(u models.User) bool {
	return g.CanChat(u) && !u.IsSilenced(g.now())
}

// CanSeeChannel reports whether the user may read the channel. DM channels
// are visible to their parties only, read-restricted channels to staff and
// allowed groups. Lookup failures deny.
func (g *Guardian) CanSeeChannel(ctx context.Context, u models.User, ch models.Channel) bool {
	if !g.CanChat(u) || ch.DeletedAt != nil {
		return false
	}
	if ch.IsDirectMessage() {
		ok, err := g.channels.IsDirectMessageUser(ctx, ch.ID, u.ID)
		if err != nil {
			g.logger.Error("direct message lookup failed", "chat_channel_id", ch.ID, "user_id", u.ID, "error", err)
			return false
		}
		return ok
	}
	if u.IsStaff() || !ch.ReadRestricted {
		return true
	}
	for _, id := range u.GroupIDs {
		if ch.AllowsGroup(id) {
			return true
		}
	}
	return false
}

// CanModifyChannel reports whether the status of ch admits new messages and
// reactions from u: open for everyone, closed for staff, otherwise nobody.
func (g *Guardian) CanModifyChannel(u models.User, ch models.Channel) bool {
	switch ch.Status {
	case models.ChannelOpen:
		return true
	case models.ChannelClosed:
		return u.IsStaff()
	default:
		return false
	}
}

func (g *Guardian) CanEditMessage(u models.User, msg models.Message, ch models.Channel) bool {
	if msg.Deleted() || !g.CanModifyChannel(u, ch) {
		return false
	}
	return msg.UserID == u.ID || u.IsStaff()
}

// CanDeleteMessage allows staff everywhere but archived channels, and
// authors wherever the channel is not read-only.
func (g *Guardian) CanDeleteMessage(u models.User, msg models.Message, ch models.Channel) bool {
	if ch.Status == models.ChannelArchived {
		return false
	}
	if u.IsStaff() {
		return true
	}
	return msg.UserID == u.ID && ch.Status != models.ChannelReadOnly
}

// CanRestoreMessage allows staff to restore anything and authors to restore
// what they deleted themselves.
func (g *Guardian) CanRestoreMessage(u models.User, msg models.Message, ch models.Channel) bool {
	if ch.Status == models.ChannelArchived || !msg.Deleted() {
		return false
	}
	if u.IsStaff() {
		return true
	}
	return msg.UserID == u.ID && msg.DeletedByID != nil && *msg.DeletedByID == u.ID && ch.Status != models.ChannelReadOnly
}

func (g *Guardian) CanFlagMessage(ctx context.Context, u models.User, msg models.Message, ch models.Channel) bool {
	if msg.UserID == u.ID || msg.Deleted() || ch.IsDirectMessage() {
		return false
	}
	return g.CanSeeChannel(ctx, u, ch)
}

// CanModerate covers status changes, archiving, deletion and review.
func (g *Guardian) CanModerate(u models.User) bool {
	return g.CanChat(u) && u.IsStaff()
}
