package store

// Outbox entry states.
const (
	OutboxQueued = "queued"
	OutboxSent   = "sent"
	OutboxFailed = "failed"
)

// OutboxEntry is one outgoing message recorded before it is sent.
type OutboxEntry struct {
	ID           int64
	LocalID      string
	ChatID       string
	Payload      string // JSON of the outgoing message
	Status       string // queued, sent, failed
	ErrorMessage string
	ServerMsgID  string
	Attempts     int
	CreatedAt    int64
	UpdatedAt    int64
}
