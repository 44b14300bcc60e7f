package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Pusher is the push side of a send. Emit reports whether the event was handed
// to a live connection.
type Pusher interface {
	Emit(event string, payload any) bool
}

// Poster is the REST side of a send.
type Poster interface {
	SendMessage(ctx context.Context, chatID string, req rest.SendRequest) (*model.Message, error)
}

// Ledger records every send by LocalID so failures survive a restart.
type Ledger interface {
	QueueOutbox(localID, chatID, payload string) error
	MarkOutboxSent(localID, serverMsgID string) error
	MarkOutboxFailed(localID, errMsg string) error
	FailedOutbox(chatID string) ([]store.OutboxEntry, error)
}

// Path is the route a send took.
type Path string

const (
	PathPush Path = "push"
	PathREST Path = "rest"
)

// Outgoing is one logical message to send.
type Outgoing struct {
	ChatID      string             `json:"chatId"`
	LocalID     string             `json:"localId"`
	Text        string             `json:"text"`
	Kind        model.Kind         `json:"type"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	ReplyToID   string             `json:"replyTo,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Optimistic returns the local entry shown while the send is in flight.
func (o Outgoing) Optimistic(senderID string) model.Message {
	kind := o.Kind
	if kind == "" {
		kind = model.ComposeKind(o.Attachments)
	}
	return model.Message{
		LocalID:   o.LocalID,
		ChatID:    model.ID(o.ChatID),
		SenderID:  model.ID(senderID),
		Kind:      kind,
		Content:   model.Content{Text: o.Text, Attachments: o.Attachments},
		ReplyToID: model.ID(o.ReplyToID),
		Status:    model.StatusSending,
		CreatedAt: o.CreatedAt,
	}
}

// Result reports how a send was routed. Message is set for the REST path,
// which acknowledges synchronously; push acks arrive later as message_sent.
type Result struct {
	Path    Path
	Message *model.Message
}

type pushPayload struct {
	ChatID  string        `json:"chatId"`
	Content model.Content `json:"content"`
	Type    model.Kind    `json:"type"`
	LocalID string        `json:"localId"`
	ReplyTo string        `json:"replyTo,omitempty"`
}

// Sender routes each message over push when connected and falls back to REST.
type Sender struct {
	push   Pusher
	post   Poster
	ledger Ledger
	logger *zap.Logger
}

// NewSender creates a sender. ledger may be nil.
func NewSender(push Pusher, post Poster, ledger Ledger, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		push:   push,
		post:   post,
		ledger: ledger,
		logger: logger.Named("outbox"),
	}
}

// Send records o in the ledger, then emits it over push. When push reports
// not-connected it posts over REST and returns the stored message.
func (s *Sender) Send(ctx context.Context, o Outgoing) (Result, error) {
	if o.ChatID == "" || o.LocalID == "" {
		return Result{}, errors.New("outbox: chat id and local id are required")
	}
	if o.Kind == "" {
		o.Kind = model.ComposeKind(o.Attachments)
	}
	s.queue(o)

	if s.push != nil && s.push.Emit(transport.EventSendMessage, pushPayload{
		ChatID:  o.ChatID,
		Content: model.Content{Text: o.Text, Attachments: o.Attachments},
		Type:    o.Kind,
		LocalID: o.LocalID,
		ReplyTo: o.ReplyToID,
	}) {
		s.logger.Debug("message pushed", zap.String("local_id", o.LocalID), zap.String("chat_id", o.ChatID))
		return Result{Path: PathPush}, nil
	}

	msg, err := s.post.SendMessage(ctx, o.ChatID, rest.SendRequest{
		Text:        o.Text,
		Attachments: o.Attachments,
		Type:        o.Kind,
		ReplyTo:     o.ReplyToID,
		LocalID:     o.LocalID,
	})
	if err != nil {
		s.Fail(o.LocalID, err)
		return Result{Path: PathREST}, fmt.Errorf("send %s: %w", o.LocalID, err)
	}
	s.Acknowledge(o.LocalID, string(msg.ID))
	s.logger.Info("message sent", zap.String("local_id", o.LocalID), zap.String("server_msg_id", string(msg.ID)), zap.String("path", string(PathREST)))
	return Result{Path: PathREST, Message: msg}, nil
}

// Acknowledge marks the ledger entry for localID as sent.
func (s *Sender) Acknowledge(localID, serverMsgID string) {
	if s.ledger == nil || localID == "" {
		return
	}
	if err := s.ledger.MarkOutboxSent(localID, serverMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("local_id", localID))
	}
}

// Fail marks the ledger entry for localID as failed.
func (s *Sender) Fail(localID string, cause error) {
	s.logger.Warn("send failed", zap.String("local_id", localID), zap.Error(cause))
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkOutboxFailed(localID, cause.Error()); err != nil {
		s.logger.Error("failed to mark failed", zap.Error(err), zap.String("local_id", localID))
	}
}

// Failed returns the sends of a chat that failed in an earlier run, oldest first.
func (s *Sender) Failed(chatID string) []Outgoing {
	if s.ledger == nil {
		return nil
	}
	entries, err := s.ledger.FailedOutbox(chatID)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err), zap.String("chat_id", chatID))
		return nil
	}
	out := make([]Outgoing, 0, len(entries))
	for _, e := range entries {
		var o Outgoing
		if err := json.Unmarshal([]byte(e.Payload), &o); err != nil {
			s.logger.Warn("skipping unreadable outbox entry", zap.String("local_id", e.LocalID), zap.Error(err))
			continue
		}
		o.LocalID, o.ChatID = e.LocalID, e.ChatID
		out = append(out, o)
	}
	return out
}

func (s *Sender) queue(o Outgoing) {
	if s.ledger == nil {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		s.logger.Error("cannot encode outbox entry", zap.Error(err))
		return
	}
	if err := s.ledger.QueueOutbox(o.LocalID, o.ChatID, string(data)); err != nil {
		s.logger.Error("failed to queue outbox entry", zap.Error(err), zap.String("local_id", o.LocalID))
	}
}
