// Package room owns the message list of the open conversation and composes
// the transport, reconciler, typing tracker, reaction coordinator and
// attachment pipeline around it.
package room

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/reaction"
	msgsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/typing"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is the size of the history page fetched on open.
const DefaultHistoryLimit = 100

var (
	// ErrInvalidChat is returned by Open for an id that cannot identify a chat.
	ErrInvalidChat = errors.New("room: invalid chat id")
	// ErrNoRoom is returned by operations that need an open room.
	ErrNoRoom = errors.New("room: no chat open")
	// ErrEmpty is returned when a send has neither text nor attachments.
	ErrEmpty = errors.New("room: nothing to send")
	// ErrNotRetryable is returned by Retry for an entry that has not failed.
	ErrNotRetryable = errors.New("room: message is not a failed send")
)

// Transport is the push connection as the room sees it.
type Transport interface {
	On(event string, h transport.Handler) (unsubscribe func())
	Emit(event string, payload any) bool
}

// API is the REST collaborator.
type API interface {
	History(ctx context.Context, chatID string, limit int) ([]model.Message, error)
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Cache serves history when the REST fetch fails.
type Cache interface {
	ListMessages(chatID string, limit int) ([]model.Message, error)
}

// Outbox sends messages over push or REST and keeps the send ledger.
type Outbox interface {
	Send(ctx context.Context, o outbox.Outgoing) (outbox.Result, error)
	Acknowledge(localID, serverMsgID string)
	Failed(chatID string) []outbox.Outgoing
}

// Uploads processes attachment batches.
type Uploads interface {
	Run(ctx context.Context, files []attach.File, onProgress func(attach.Progress)) attach.Batch
}

// Deps are the collaborators of a Session. Cache and Uploads may be nil.
type Deps struct {
	Transport Transport
	API       API
	Cache     Cache
	Outbox    Outbox
	Uploads   Uploads
}

// Options tune a Session. Zero values take the defaults.
type Options struct {
	HistoryLimit   int
	Clock          clock.Clock
	TypingIdle     time.Duration
	TypingTTL      time.Duration
	TypingSweep    time.Duration
	ReactionWindow time.Duration
	Self           func() string // current user id; defaults to transport.GlobalUserID
	Bus            *bus.Bus
	Logger         *zap.Logger
}

// Update is the payload of bus.KindRoomUpdated.
type Update struct {
	ChatID   string
	Count    int
	FromSelf bool
}

// Warning is the payload of bus.KindRoomWarning.
type Warning struct {
	ChatID  string
	Message string
}

// Session is the controller of one conversation view. Every mutation of the
// message list happens under mu; network calls run outside it.
type Session struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	typing    *typing.Tracker
	reactions *reaction.Coordinator

	mu      gosync.Mutex
	rec     *msgsync.Reconciler
	chatID  string
	gen     uint64
	loading bool
	joined  bool
	unsubs  []func()
}

// New creates a Session with no open room.
func New(deps Deps, opts Options) *Session {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Self == nil {
		opts.Self = transport.GlobalUserID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("room")

	s := &Session{
		deps:   deps,
		opts:   opts,
		logger: logger,
		rec:    msgsync.NewReconciler(),
	}
	s.typing = typing.New(deps.Transport, typing.Options{
		Clock: opts.Clock,
		Idle:  opts.TypingIdle,
		TTL:   opts.TypingTTL,
		Sweep: opts.TypingSweep,
		Self:  opts.Self,
		OnChange: func(peers []model.TypingIndicator) {
			opts.Bus.Emit(bus.KindRoomTyping, peers)
		},
		Logger: opts.Logger,
	})
	s.reactions = reaction.New(deps.API, opts.Clock, opts.ReactionWindow, opts.Logger)
	return s
}

// Open switches the view to chatID: the previous room is left, local state
// is reset, the latest history page is loaded and the room is joined.
// History falls back to the offline cache when the fetch fails.
func (s *Session) Open(ctx context.Context, chatID string) error {
	id := model.NormalizeChatID(chatID)
	if id == "" {
		return ErrInvalidChat
	}
	s.Close()

	restored := s.restoreFailed(id)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.chatID = id
	s.rec.Reset(id)
	for _, m := range restored {
		s.rec.AppendOptimistic(m)
	}
	s.loading = true
	s.joined = false
	s.unsubs = s.subscribe()
	// Bound under mu so an overlapping Open cannot leave it on a stale chat.
	s.typing.Start(id)
	count := s.rec.Len()
	s.mu.Unlock()

	s.publishUpdate(id, count, false)
	s.logger.Info("opening room", zap.String("chat_id", id))

	history, fromNetwork := s.fetchHistory(ctx, id)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.rec.Load(history)
	s.loading = false
	s.joined = s.deps.Transport.Emit(transport.EventJoinChat, transport.ChatRef{ChatID: id})
	joined := s.joined
	count = s.rec.Len()
	s.mu.Unlock()

	if fromNetwork {
		s.opts.Bus.Emit(bus.KindRoomHistory, history)
	}
	s.publishUpdate(id, count, false)
	s.logger.Info("room open", zap.String("chat_id", id), zap.Int("messages", count), zap.Bool("joined", joined))
	return nil
}

func (s *Session) fetchHistory(ctx context.Context, chatID string) (msgs []model.Message, fromNetwork bool) {
	msgs, err := s.deps.API.History(ctx, chatID, s.opts.HistoryLimit)
	if err == nil {
		return stampChat(msgs, chatID), true
	}
	s.logger.Warn("history fetch failed", zap.String("chat_id", chatID), zap.Error(err))
	if s.deps.Cache == nil {
		return nil, false
	}
	cached, cerr := s.deps.Cache.ListMessages(chatID, s.opts.HistoryLimit)
	if cerr != nil {
		s.logger.Error("cache read failed", zap.String("chat_id", chatID), zap.Error(cerr))
		return nil, false
	}
	if len(cached) > 0 {
		s.warn(chatID, "offline: showing cached messages")
	}
	return cached, false
}

// stampChat returns msgs with a missing chat filled in. History pages are
// scoped by their URL and often omit it.
func stampChat(msgs []model.Message, chatID string) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		if m.ChatID == "" {
			m.ChatID = model.ID(chatID)
		}
		out[i] = m
	}
	return out
}

// restoreFailed turns sends that failed in an earlier run into failed
// entries the user can retry.
func (s *Session) restoreFailed(chatID string) []model.Message {
	if s.deps.Outbox == nil {
		return nil
	}
	var out []model.Message
	for _, o := range s.deps.Outbox.Failed(chatID) {
		m := o.Optimistic(s.opts.Self())
		m.Status = model.StatusFailed
		out = append(out, m)
	}
	return out
}

// Close leaves the open room and releases its handlers and timers. Closing
// with no room open is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	id := s.chatID
	if id == "" {
		s.mu.Unlock()
		return
	}
	unsubs := s.unsubs
	s.unsubs = nil
	if s.joined {
		s.deps.Transport.Emit(transport.EventLeaveChat, transport.ChatRef{ChatID: id})
	}
	s.joined = false
	s.loading = false
	s.chatID = ""
	s.gen++
	s.rec.Reset("")
	s.typing.Stop()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.reactions.Reset()
	s.logger.Info("room closed", zap.String("chat_id", id))
}

// Send posts a text message, optionally replying to replyTo.
func (s *Session) Send(ctx context.Context, text, replyTo string) error {
	return s.send(ctx, text, replyTo, nil)
}

// SendAttachments uploads files and sends them with text as one message.
// Rejected files are reported as warnings and failed uploads are dropped;
// the message is sent with whatever succeeded.
func (s *Session) SendAttachments(ctx context.Context, text, replyTo string, files []attach.File) error {
	if s.deps.Uploads == nil {
		return errors.New("room: attachments not supported")
	}
	chatID := s.ChatID()
	if chatID == "" {
		return ErrNoRoom
	}
	batch := s.deps.Uploads.Run(ctx, files, func(p attach.Progress) {
		s.opts.Bus.Emit(bus.KindRoomUpload, p)
	})
	for _, w := range batch.Warnings {
		s.warn(chatID, w.Error())
	}
	for _, t := range batch.Tasks {
		if t.Status == model.UploadError {
			s.warn(chatID, fmt.Sprintf("%s: upload failed", t.Name))
		}
	}
	return s.send(ctx, text, replyTo, batch.Attachments)
}

func (s *Session) send(ctx context.Context, text, replyTo string, atts []model.Attachment) error {
	if text == "" && len(atts) == 0 {
		return ErrEmpty
	}
	s.mu.Lock()
	if s.chatID == "" {
		s.mu.Unlock()
		return ErrNoRoom
	}
	o := outbox.Outgoing{
		ChatID:      s.chatID,
		LocalID:     uuid.NewString(),
		Text:        text,
		Kind:        model.ComposeKind(atts),
		Attachments: atts,
		ReplyToID:   replyTo,
		CreatedAt:   s.opts.Clock.Now(),
	}
	s.rec.AppendOptimistic(o.Optimistic(s.opts.Self()))
	count := s.rec.Len()
	s.mu.Unlock()

	s.typing.StopTyping()
	s.publishUpdate(o.ChatID, count, true)
	return s.dispatch(ctx, o)
}

// Retry resends a failed entry in place, keeping its LocalID.
func (s *Session) Retry(ctx context.Context, localID string) error {
	s.mu.Lock()
	m, ok := s.rec.FindLocal(localID)
	if !ok || m.Status != model.StatusFailed {
		s.mu.Unlock()
		return ErrNotRetryable
	}
	s.rec.MarkSending(localID)
	o := outbox.Outgoing{
		ChatID:      s.chatID,
		LocalID:     localID,
		Text:        m.Content.Text,
		Kind:        m.Kind,
		Attachments: m.Content.Attachments,
		ReplyToID:   string(m.ReplyToID),
		CreatedAt:   m.CreatedAt,
	}
	count := s.rec.Len()
	s.mu.Unlock()

	s.publishUpdate(o.ChatID, count, false)
	return s.dispatch(ctx, o)
}

// dispatch hands o to the outbox and applies the synchronous outcome.
// A push send stays optimistic until message_sent arrives.
func (s *Session) dispatch(ctx context.Context, o outbox.Outgoing) error {
	res, err := s.deps.Outbox.Send(ctx, o)

	s.mu.Lock()
	if s.chatID != o.ChatID {
		s.mu.Unlock()
		return err
	}
	var changed bool
	var stored model.Message
	switch {
	case err != nil:
		changed = s.rec.MarkFailed(o.LocalID)
	case res.Message != nil:
		if changed = s.rec.Promote(o.LocalID, *res.Message); changed {
			stored, _ = s.rec.Find(res.Message.ID)
		}
	}
	count := s.rec.Len()
	s.mu.Unlock()

	if stored.ID != "" {
		s.opts.Bus.Emit(bus.KindRoomMessage, stored)
	}
	if changed {
		s.publishUpdate(o.ChatID, count, false)
	}
	return err
}

// ToggleReaction adds or removes the current user's emoji on a message.
func (s *Session) ToggleReaction(ctx context.Context, messageID, emoji string) (reaction.Outcome, error) {
	chatID := s.ChatID()
	if chatID == "" {
		return reaction.Suppressed, ErrNoRoom
	}
	return s.reactions.Toggle(ctx, reactionTarget{s}, chatID, messageID, emoji)
}

// reactionTarget applies optimistic toggles to the session's list.
type reactionTarget struct{ s *Session }

func (t reactionTarget) ToggleReaction(messageID, emoji string) (added, ok bool) {
	s := t.s
	s.mu.Lock()
	added, ok = s.rec.ToggleReaction(model.ID(messageID), emoji, s.opts.Self(), s.opts.Clock.Now())
	chatID, count := s.chatID, s.rec.Len()
	s.mu.Unlock()
	if ok {
		s.publishUpdate(chatID, count, false)
	}
	return added, ok
}

// Keystroke records composer activity for the outbound typing flag.
func (s *Session) Keystroke() {
	s.typing.Keystroke()
}

// Messages returns the message list in receipt order.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Snapshot()
}

// Typing returns the peers currently typing.
func (s *Session) Typing() []model.TypingIndicator {
	return s.typing.Indicators()
}

// ChatID returns the open chat, or "".
func (s *Session) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// Current returns the open chat and whether its transport room is joined.
func (s *Session) Current() model.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ChatSession{ChatID: s.chatID, Joined: s.joined}
}

// Loading reports whether the history fetch is in progress.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Session) publishUpdate(chatID string, count int, fromSelf bool) {
	s.opts.Bus.Emit(bus.KindRoomUpdated, Update{ChatID: chatID, Count: count, FromSelf: fromSelf})
}

func (s *Session) warn(chatID, msg string) {
	s.opts.Bus.Emit(bus.KindRoomWarning, Warning{ChatID: chatID, Message: msg})
}
