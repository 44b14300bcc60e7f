package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of message types.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSystem   Kind = "system"
)

// ParseKind maps a wire type string to a Kind. Unknown values are rejected.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindImage, KindVideo, KindDocument, KindSystem:
		return k, nil
	case "":
		return KindText, nil
	default:
		return "", fmt.Errorf("unknown message type %q", s)
	}
}

// Label is the short placeholder shown for a message without text.
func (k Kind) Label() string {
	switch k {
	case KindText:
		return ""
	case KindImage:
		return "[image]"
	case KindVideo:
		return "[video]"
	case KindDocument:
		return "[document]"
	case KindSystem:
		return "[system]"
	default:
		return "[" + string(k) + "]"
	}
}

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the acknowledged states. Sending and failed sit below sent.
func (s Status) rank() int {
	switch s {
	case StatusSending, StatusFailed:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Advance returns the later of s and next. Acknowledged states never move back.
func (s Status) Advance(next Status) Status {
	if next.rank() < 0 {
		return s
	}
	if s.rank() >= 1 && next.rank() <= s.rank() {
		return s
	}
	return next
}

// ID is an identifier that may arrive on the wire as a JSON string or number.
// It always holds the string form, so ids compare independently of how the
// server encoded them.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*id = ""
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// NormalizeChatID converts a chat id of any representation to its canonical
// string form. Returns "" when the value cannot identify a chat.
func NormalizeChatID(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case ID:
		return strings.TrimSpace(string(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x != float64(int64(x)) {
			return ""
		}
		return strconv.FormatInt(int64(x), 10)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return ""
	}
}

// Content is the payload of a message.
type Content struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UnmarshalJSON also accepts a bare string, which some clients send as the
// text of a message.
func (c *Content) UnmarshalJSON(b []byte) error {
	if s := strings.TrimSpace(string(b)); s != "" && s[0] == '"' {
		return json.Unmarshal(b, &c.Text)
	}
	type plain Content
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Content(p)
	return nil
}

// Message is one entry of a conversation.
//
// An entry is optimistic while LocalID is set and ID is empty, and reconciled
// once ID is known, at which point LocalID is cleared.
type Message struct {
	ID        ID         `json:"id"`
	LocalID   string     `json:"localId,omitempty"`
	ChatID    ID         `json:"chatId"`
	SenderID  ID         `json:"senderId"`
	Kind      Kind       `json:"type"`
	Content   Content    `json:"content"`
	ReplyToID ID         `json:"replyToId,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Optimistic reports whether the entry is still waiting for its permanent id.
func (m *Message) Optimistic() bool {
	return m.ID == "" && m.LocalID != ""
}

// IsMine reports whether userID sent the message.
func (m *Message) IsMine(userID string) bool {
	return userID != "" && string(m.SenderID) == userID
}

// Preview returns a single-line summary of the message.
func (m *Message) Preview(maxLen int) string {
	text := strings.Join(strings.Fields(m.Content.Text), " ")
	if text == "" {
		text = m.Kind.Label()
		if n := len(m.Content.Attachments); n > 1 {
			text = fmt.Sprintf("%s x%d", text, n)
		}
	}
	if maxLen > 0 && len([]rune(text)) > maxLen {
		text = string([]rune(text)[:maxLen]) + "..."
	}
	return text
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m.Content.Attachments != nil {
		m.Content.Attachments = append([]Attachment(nil), m.Content.Attachments...)
	}
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

// ComposeKind picks the message kind for a send with the given attachments.
// A single category keeps its kind; mixed or document-only batches are documents.
func ComposeKind(atts []Attachment) Kind {
	if len(atts) == 0 {
		return KindText
	}
	first := atts[0].Kind
	for _, a := range atts[1:] {
		if a.Kind != first {
			return KindDocument
		}
	}
	switch first {
	case AttachmentImage:
		return KindImage
	case AttachmentVideo:
		return KindVideo
	default:
		return KindDocument
	}
}
