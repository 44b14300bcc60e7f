package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter on the
// namespace prefix ("room.", "transport.", "cache.").
const (
	KindRoomUpdated     = "room.updated"
	KindRoomMessage     = "room.message"
	KindRoomHistory     = "room.history"
	KindRoomTyping      = "room.typing"
	KindRoomUpload      = "room.upload_progress"
	KindRoomWarning     = "room.warning"
	KindTransportStatus = "transport.status_changed"
	KindCacheSaved      = "cache.saved"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
