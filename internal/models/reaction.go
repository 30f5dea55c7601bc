package models

import "time"

// ReactAction is the requested reaction transition.
type ReactAction string

const (
	ReactAdd    ReactAction = "add"
	ReactRemove ReactAction = "remove"
)

// Reaction is one user's emoji on a message.
type Reaction struct {
	ID            int       `db:"id" json:"id"`
	ChatMessageID int       `db:"chat_message_id" json:"chat_message_id"`
	UserID        int       `db:"user_id" json:"user_id"`
	Emoji         string    `db:"emoji" json:"emoji"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SummarizeReactions folds raw reactions into per-emoji aggregates keyed by
// message id, keeping first-seen emoji order.
func SummarizeReactions(reactions []Reaction) map[int][]ReactionSummary {
	out := make(map[int][]ReactionSummary)
	index := make(map[int]map[string]int)
	for _, r := range reactions {
		if index[r.ChatMessageID] == nil {
			index[r.ChatMessageID] = make(map[string]int)
		}
		pos, ok := index[r.ChatMessageID][r.Emoji]
		if !ok {
			pos = len(out[r.ChatMessageID])
			index[r.ChatMessageID][r.Emoji] = pos
			out[r.ChatMessageID] = append(out[r.ChatMessageID], ReactionSummary{Emoji: r.Emoji})
		}
		summary := &out[r.ChatMessageID][pos]
		summary.Count++
		summary.UserIDs = append(summary.UserIDs, r.UserID)
	}
	return out
}
