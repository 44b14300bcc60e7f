package model

import (
	"slices"
	"time"
)

// Reaction is one user's emoji on a message.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    ID        `json:"userId"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// ReactionGroup is the display form of all reactions sharing an emoji.
type ReactionGroup struct {
	Emoji string
	Count int
	Users []string
	Mine  bool
}

// HasReaction reports whether userID holds emoji in rs.
func HasReaction(rs []Reaction, emoji, userID string) bool {
	return slices.ContainsFunc(rs, func(r Reaction) bool {
		return r.Emoji == emoji && string(r.UserID) == userID
	})
}

// ToggleReaction adds or removes userID's emoji and returns the new slice.
// added is true when the reaction was added.
func ToggleReaction(rs []Reaction, emoji, userID string, now time.Time) (out []Reaction, added bool) {
	if HasReaction(rs, emoji, userID) {
		out = slices.DeleteFunc(slices.Clone(rs), func(r Reaction) bool {
			return r.Emoji == emoji && string(r.UserID) == userID
		})
		return out, false
	}
	out = append(slices.Clone(rs), Reaction{Emoji: emoji, UserID: ID(userID), CreatedAt: now})
	return out, true
}

// GroupReactions groups rs by emoji in first-seen order. Duplicate
// (emoji, user) pairs are counted once.
func GroupReactions(rs []Reaction, selfID string) []ReactionGroup {
	var groups []ReactionGroup
	index := make(map[string]int)
	for _, r := range rs {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		g := &groups[i]
		user := string(r.UserID)
		if slices.Contains(g.Users, user) {
			continue
		}
		g.Users = append(g.Users, user)
		g.Count++
		if selfID != "" && user == selfID {
			g.Mine = true
		}
	}
	return groups
}
