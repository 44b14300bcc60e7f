package room

import (
	"encoding/json"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	msgsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// envelope is the wrapped form of new_message and message_sent. Servers send
// either this or a bare message.
type envelope struct {
	Message *model.Message `json:"message"`
	LocalID string         `json:"localId"`
	ChatID  model.ID       `json:"chatId"`
}

type statusPayload struct {
	ChatID    model.ID     `json:"chatId"`
	MessageID model.ID     `json:"messageId"`
	Status    model.Status `json:"status"`
}

type typingPayload struct {
	ChatID   model.ID `json:"chatId"`
	UserID   model.ID `json:"userId"`
	UserName string   `json:"userName"`
}

type reactionPayload struct {
	ChatID    model.ID         `json:"chatId"`
	MessageID model.ID         `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
}

// subscribe registers the room's push handlers. Called with mu held.
func (s *Session) subscribe() []func() {
	t := s.deps.Transport
	return []func(){
		t.On(transport.EventConnect, func(json.RawMessage) { s.onConnect() }),
		t.On(transport.EventNewMessage, s.onNewMessage),
		t.On(transport.EventMessageSent, s.onMessageSent),
		t.On(transport.EventMessageStatus, s.onMessageStatus),
		t.On(transport.EventUserTyping, s.onUserTyping),
		t.On(transport.EventUserStoppedTyping, s.onUserStoppedTyping),
		t.On(transport.EventMessageReaction, s.onMessageReaction),
	}
}

func decodeMessage(data json.RawMessage) (model.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Message{}, err
	}
	if env.Message != nil {
		m := *env.Message
		if m.LocalID == "" {
			m.LocalID = env.LocalID
		}
		if m.ChatID == "" {
			m.ChatID = env.ChatID
		}
		return m, nil
	}
	var m model.Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// onConnect rejoins the open room after a reconnect.
func (s *Session) onConnect() {
	s.mu.Lock()
	if s.chatID == "" || s.loading {
		s.mu.Unlock()
		return
	}
	id := s.chatID
	s.joined = s.deps.Transport.Emit(transport.EventJoinChat, transport.ChatRef{ChatID: id})
	joined := s.joined
	s.mu.Unlock()
	s.logger.Info("rejoined room", zap.String("chat_id", id), zap.Bool("joined", joined))
}

func (s *Session) onNewMessage(data json.RawMessage) {
	m, err := decodeMessage(data)
	if err != nil {
		s.logger.Warn("bad new_message payload", zap.Error(err))
		return
	}
	localID := m.LocalID

	s.mu.Lock()
	outcome := s.rec.ApplyInbound(m)
	stored, _ := s.rec.Find(m.ID)
	chatID, count := s.chatID, s.rec.Len()
	s.mu.Unlock()

	switch outcome {
	case msgsync.Discarded, msgsync.Duplicate:
		s.logger.Debug("inbound message ignored", zap.String("id", string(m.ID)), zap.Stringer("outcome", outcome))
		return
	case msgsync.Promoted:
		if s.deps.Outbox != nil {
			s.deps.Outbox.Acknowledge(localID, string(m.ID))
		}
	}
	s.opts.Bus.Emit(bus.KindRoomMessage, stored)
	s.publishUpdate(chatID, count, stored.IsMine(s.opts.Self()))
}

func (s *Session) onMessageSent(data json.RawMessage) {
	m, err := decodeMessage(data)
	if err != nil || m.ID == "" {
		s.logger.Warn("bad message_sent payload", zap.Error(err))
		return
	}
	localID := m.LocalID

	s.mu.Lock()
	if s.chatID == "" || (m.ChatID != "" && model.NormalizeChatID(m.ChatID) != s.chatID) {
		s.mu.Unlock()
		return
	}
	if m.ChatID == "" {
		m.ChatID = model.ID(s.chatID)
	}
	changed := localID != "" && s.rec.Promote(localID, m)
	if !changed {
		changed = s.rec.ApplyInbound(m) == msgsync.Appended
	}
	stored, _ := s.rec.Find(m.ID)
	chatID, count := s.chatID, s.rec.Len()
	s.mu.Unlock()

	if localID != "" && s.deps.Outbox != nil {
		s.deps.Outbox.Acknowledge(localID, string(m.ID))
	}
	if changed {
		s.opts.Bus.Emit(bus.KindRoomMessage, stored)
		s.publishUpdate(chatID, count, false)
	}
}

func (s *Session) onMessageStatus(data json.RawMessage) {
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("bad message_status payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	if !s.forOpenRoom(p.ChatID, true) || !s.rec.UpdateStatus(p.MessageID, p.Status) {
		s.mu.Unlock()
		return
	}
	stored, _ := s.rec.Find(p.MessageID)
	chatID, count := s.chatID, s.rec.Len()
	s.mu.Unlock()

	s.opts.Bus.Emit(bus.KindRoomMessage, stored)
	s.publishUpdate(chatID, count, false)
}

func (s *Session) onUserTyping(data json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.mu.Lock()
	ok := s.forOpenRoom(p.ChatID, false)
	s.mu.Unlock()
	if ok {
		s.typing.PeerTyping(string(p.UserID), p.UserName)
	}
}

func (s *Session) onUserStoppedTyping(data json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.mu.Lock()
	ok := s.forOpenRoom(p.ChatID, false)
	s.mu.Unlock()
	if ok {
		s.typing.PeerStopped(string(p.UserID))
	}
}

func (s *Session) onMessageReaction(data json.RawMessage) {
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("bad message_reaction payload", zap.Error(err))
		return
	}
	s.mu.Lock()
	if !s.forOpenRoom(p.ChatID, true) || !s.rec.SetReactions(p.MessageID, p.Reactions) {
		s.mu.Unlock()
		return
	}
	stored, _ := s.rec.Find(p.MessageID)
	chatID, count := s.chatID, s.rec.Len()
	s.mu.Unlock()

	s.opts.Bus.Emit(bus.KindRoomMessage, stored)
	s.publishUpdate(chatID, count, false)
}

// forOpenRoom reports whether a payload addressed to chatID belongs to the
// open room. A missing chatID matches only when allowMissing is set, for
// events keyed by a message id that is unique to the list anyway.
func (s *Session) forOpenRoom(chatID model.ID, allowMissing bool) bool {
	if s.chatID == "" {
		return false
	}
	if chatID == "" {
		return allowMissing
	}
	return model.NormalizeChatID(chatID) == s.chatID
}
