package transport

import "encoding/json"

// Inbound events.
const (
	EventConnect           = "connect"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventMessageStatus     = "message_status"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessageReaction   = "message_reaction"
)

// Outbound events.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Handler receives the raw payload of an inbound event. The payload is nil
// for events that carry none, such as connect.
type Handler func(data json.RawMessage)

// envelope is the frame exchanged over the websocket.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatRef is the payload of join, leave and typing frames.
type ChatRef struct {
	ChatID string `json:"chatId"`
}
