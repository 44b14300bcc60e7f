package model

import "time"

// TypingIndicator marks a peer as currently typing.
type TypingIndicator struct {
	UserID     string
	UserName   string
	LastSeenAt time.Time
}

// ChatSession records whether the view is joined to a chat room.
type ChatSession struct {
	ChatID string
	Joined bool
}

// DayGroup is a run of consecutive messages sent on the same calendar day.
type DayGroup struct {
	Day      time.Time
	Messages []Message
}

// GroupByDate splits msgs into runs of the same local calendar day while
// keeping their order. A message whose day differs from the previous one
// starts a new group, even if an earlier group covered that day.
func GroupByDate(msgs []Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	for _, m := range msgs {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Messages: []Message{m}})
	}
	return groups
}

// ReplyFallback is shown when a reply target is not in the loaded list.
const ReplyFallback = "original message unavailable"

// ResolveReply looks up the message m replies to. ok is false when m is not a
// reply, when the target is not loaded, or when m points at itself.
func ResolveReply(msgs []Message, m Message) (target Message, ok bool) {
	if m.ReplyToID == "" || m.ReplyToID == m.ID {
		return Message{}, false
	}
	for _, c := range msgs {
		if c.ID == m.ReplyToID {
			return c, true
		}
	}
	return Message{}, false
}
