package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/store"
	msgsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
)

type emitted struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]map[int]transport.Handler
	next      int
	sent      []emitted
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{connected: connected, handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeTransport) On(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	id := f.next
	f.next++
	f.handlers[event][id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *fakeTransport) Emit(event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, emitted{event, payload})
	return true
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) fire(t *testing.T, event string, payload any) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		data = b
	}
	f.mu.Lock()
	var hs []transport.Handler
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeTransport) events(name string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.sent {
		if e.event == name {
			out = append(out, e.payload)
		}
	}
	return out
}

type fakeAPI struct {
	mu         sync.Mutex
	history    map[string][]model.Message
	historyErr error
	sendErr    error
	nextID     int
	sends      []rest.SendRequest
	reacts     int
}

func (f *fakeAPI) History(_ context.Context, chatID string, _ int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[chatID], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, chatID string, req rest.SendRequest) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	return &model.Message{
		ID:      model.ID(fmt.Sprintf("srv-%d", f.nextID)),
		ChatID:  model.ID(chatID),
		Kind:    req.Type,
		Content: model.Content{Text: req.Text, Attachments: req.Attachments},
		Status:  model.StatusSent,
	}, nil
}

func (f *fakeAPI) React(context.Context, string, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacts++
	return nil
}

type fakeCache struct{ msgs []model.Message }

func (f fakeCache) ListMessages(string, int) ([]model.Message, error) { return f.msgs, nil }

func history(chatID string, n int) []model.Message {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{
			ID:        model.ID(fmt.Sprint(i + 1)),
			ChatID:    model.ID(chatID),
			SenderID:  "peer",
			Kind:      model.KindText,
			Content:   model.Content{Text: fmt.Sprintf("m%d", i+1)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func newSession(t *testing.T, tr *fakeTransport, api *fakeAPI, cache Cache) *Session {
	t.Helper()
	s := New(Deps{
		Transport: tr,
		API:       api,
		Cache:     cache,
		Outbox:    outbox.NewSender(tr, api, nil, nil),
	}, Options{
		Clock: clock.NewMock(),
		Self:  func() string { return "me" },
	})
	t.Cleanup(s.Close)
	return s
}

func TestOpenLoadsHistoryAndJoins(t *testing.T) {
	tr := newFakeTransport(true)
	api := &fakeAPI{history: map[string][]model.Message{"42": history("42", 5)}}
	s := newSession(t, tr, api, nil)

	if err := s.Open(context.Background(), " 42 "); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 5 || msgs[0].Content.Text != "m1" || msgs[4].Status != model.StatusSent {
		t.Fatalf("messages = %+v", msgs)
	}
	if !s.Current().Joined || s.Loading() || s.ChatID() != "42" {
		t.Errorf("joined=%v loading=%v chat=%q", s.Current().Joined, s.Loading(), s.ChatID())
	}
	joins := tr.events(transport.EventJoinChat)
	if len(joins) != 1 || joins[0] != (transport.ChatRef{ChatID: "42"}) {
		t.Errorf("join frames = %v", joins)
	}
}

func TestOpenRejectsInvalidChat(t *testing.T) {
	s := newSession(t, newFakeTransport(true), &fakeAPI{}, nil)
	if err := s.Open(context.Background(), "  "); !errors.Is(err, ErrInvalidChat) {
		t.Errorf("err = %v, want ErrInvalidChat", err)
	}
}

func TestSwitchingRoomsLeavesPrevious(t *testing.T) {
	tr := newFakeTransport(true)
	s := newSession(t, tr, &fakeAPI{}, nil)
	ctx := context.Background()

	if err := s.Open(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	handlers := tr.handlerCount()
	if err := s.Open(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if got := tr.handlerCount(); got != handlers {
		t.Errorf("handlers after switch = %d, want %d", got, handlers)
	}
	leaves := tr.events(transport.EventLeaveChat)
	if len(leaves) != 1 || leaves[0] != (transport.ChatRef{ChatID: "a"}) {
		t.Errorf("leave frames = %v", leaves)
	}

	s.Close()
	if tr.handlerCount() != 0 {
		t.Errorf("handlers remain after close: %d", tr.handlerCount())
	}
	if got := len(tr.events(transport.EventLeaveChat)); got != 2 {
		t.Errorf("leave frames = %d, want 2", got)
	}
}

func TestRejoinOnReconnect(t *testing.T) {
	tr := newFakeTransport(true)
	s := newSession(t, tr, &fakeAPI{}, nil)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	tr.fire(t, transport.EventConnect, nil)
	if got := len(tr.events(transport.EventJoinChat)); got != 2 {
		t.Errorf("join frames = %d, want 2", got)
	}
}

func TestJoinDeferredUntilConnect(t *testing.T) {
	tr := newFakeTransport(false)
	s := newSession(t, tr, &fakeAPI{}, nil)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if s.Current().Joined {
		t.Fatal("joined while disconnected")
	}
	tr.setConnected(true)
	tr.fire(t, transport.EventConnect, nil)
	if !s.Current().Joined {
		t.Error("not joined after connect")
	}
}

func TestInboundMessages(t *testing.T) {
	tr := newFakeTransport(true)
	api := &fakeAPI{history: map[string][]model.Message{"7": history("7", 2)}}
	s := newSession(t, tr, api, nil)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}

	tr.fire(t, transport.EventNewMessage, map[string]any{"id": 2, "chatId": 7, "content": "dup"})
	tr.fire(t, transport.EventNewMessage, map[string]any{"id": 9, "chatId": 8, "content": "elsewhere"})
	tr.fire(t, transport.EventNewMessage, map[string]any{
		"chatId":  "7",
		"message": map[string]any{"id": 3, "senderId": "peer", "content": map[string]any{"text": "hi"}},
	})

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	if last := msgs[2]; last.ID != "3" || last.Content.Text != "hi" || last.ChatID != "7" {
		t.Errorf("last = %+v", last)
	}
}

func TestSendFallsBackToREST(t *testing.T) {
	tr := newFakeTransport(false)
	api := &fakeAPI{}
	s := newSession(t, tr, api, nil)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}

	if err := s.Send(context.Background(), "hello", ""); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if m := msgs[0]; m.ID != "srv-1" || m.LocalID != "" || m.Status != model.StatusSent || m.SenderID != "me" {
		t.Errorf("message = %+v", m)
	}
	if len(api.sends) != 1 || api.sends[0].LocalID == "" {
		t.Errorf("REST sends = %+v", api.sends)
	}
}

func TestSendOverPushPromotedByAck(t *testing.T) {
	tr := newFakeTransport(true)
	s := newSession(t, tr, &fakeAPI{}, nil)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "hello", ""); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Optimistic() || msgs[0].Status != model.StatusSending {
		t.Fatalf("before ack: %+v", msgs)
	}
	localID := msgs[0].LocalID

	tr.fire(t, transport.EventMessageSent, map[string]any{"id": 50, "chatId": 7, "localId": localID})
	// The broadcast of the same message must not duplicate it.
	tr.fire(t, transport.EventNewMessage, map[string]any{"id": 50, "chatId": 7, "content": "hello"})

	msgs = s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after ack", len(msgs))
	}
	if m := msgs[0]; m.ID != "50" || m.Content.Text != "hello" || m.Status != model.StatusSent {
		t.Errorf("after ack = %+v", m)
	}

	tr.fire(t, transport.EventMessageStatus, map[string]any{"messageId": 50, "status": "read"})
	tr.fire(t, transport.EventMessageStatus, map[string]any{"messageId": 50, "status": "delivered"})
	if got := s.Messages()[0].Status; got != model.StatusRead {
		t.Errorf("status = %s, want read", got)
	}
}

func TestRetryFailedSend(t *testing.T) {
	tr := newFakeTransport(false)
	api := &fakeAPI{sendErr: fmt.Errorf("%w: refused", rest.ErrNetwork)}
	s := newSession(t, tr, api, nil)
	ctx := context.Background()
	if err := s.Open(ctx, "7"); err != nil {
		t.Fatal(err)
	}

	if err := s.Send(ctx, "hello", ""); !errors.Is(err, rest.ErrNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
	m := s.Messages()[0]
	if m.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}

	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()
	if err := s.Retry(ctx, m.LocalID); err != nil {
		t.Fatal(err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Status != model.StatusSent {
		t.Errorf("after retry = %+v", msgs)
	}
	if api.sends[1].LocalID != m.LocalID {
		t.Errorf("retry used local id %q, want %q", api.sends[1].LocalID, m.LocalID)
	}
	if err := s.Retry(ctx, m.LocalID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("second retry err = %v", err)
	}
}

func TestSendRequiresOpenRoom(t *testing.T) {
	s := newSession(t, newFakeTransport(true), &fakeAPI{}, nil)
	if err := s.Send(context.Background(), "x", ""); !errors.Is(err, ErrNoRoom) {
		t.Errorf("err = %v, want ErrNoRoom", err)
	}
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestHistoryFallsBackToCache(t *testing.T) {
	tr := newFakeTransport(true)
	api := &fakeAPI{historyErr: rest.ErrNetwork}
	s := newSession(t, tr, api, fakeCache{msgs: history("7", 3)})
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Messages()); got != 3 {
		t.Errorf("got %d messages, want 3 from cache", got)
	}
}

func TestPeerTypingAndReactions(t *testing.T) {
	tr := newFakeTransport(true)
	api := &fakeAPI{history: map[string][]model.Message{"7": history("7", 1)}}
	s := newSession(t, tr, api, nil)
	ctx := context.Background()
	if err := s.Open(ctx, "7"); err != nil {
		t.Fatal(err)
	}

	tr.fire(t, transport.EventUserTyping, map[string]any{"chatId": 7, "userId": 5, "userName": "ana"})
	tr.fire(t, transport.EventUserTyping, map[string]any{"chatId": 8, "userId": 6, "userName": "bob"})
	if got := s.Typing(); len(got) != 1 || got[0].UserName != "ana" {
		t.Errorf("typing = %+v", got)
	}
	tr.fire(t, transport.EventUserStoppedTyping, map[string]any{"chatId": 7, "userId": 5})
	if got := s.Typing(); len(got) != 0 {
		t.Errorf("typing after stop = %+v", got)
	}

	if _, err := s.ToggleReaction(ctx, "1", "👍"); err != nil {
		t.Fatal(err)
	}
	if !model.HasReaction(s.Messages()[0].Reactions, "👍", "me") {
		t.Error("optimistic reaction missing")
	}
	tr.fire(t, transport.EventMessageReaction, map[string]any{
		"chatId":    7,
		"messageId": 1,
		"reactions": []map[string]any{{"emoji": "❤", "userId": 5}},
	})
	rs := s.Messages()[0].Reactions
	if len(rs) != 1 || rs[0].Emoji != "❤" {
		t.Errorf("reactions = %+v, want canonical set", rs)
	}
}

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, req rest.UploadRequest) (string, error) {
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return "", err
	}
	return "https://cdn/" + req.Name, nil
}

func TestSendAttachmentsSkipsOversizedFile(t *testing.T) {
	tr := newFakeTransport(true)
	api := &fakeAPI{}
	pipeline, err := attach.New(fakeUploader{}, attach.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	warnings, unsub := b.Subscribe(bus.KindRoomWarning, 8)
	defer unsub()
	s := New(Deps{
		Transport: tr,
		API:       api,
		Outbox:    outbox.NewSender(tr, api, nil, nil),
		Uploads:   pipeline,
	}, Options{Clock: clock.NewMock(), Self: func() string { return "me" }, Bus: b})
	t.Cleanup(s.Close)
	ctx := context.Background()
	if err := s.Open(ctx, "7"); err != nil {
		t.Fatal(err)
	}

	file := func(name, mimeType string, n int) attach.File {
		return attach.File{Name: name, MIME: mimeType, Data: bytes.Repeat([]byte{1}, n)}
	}
	files := []attach.File{
		file("a.jpg", "image/jpeg", 100),
		file("b.jpg", "image/jpeg", 200),
		file("huge.pdf", "application/pdf", 6<<20),
		file("c.jpg", "image/jpeg", 300),
	}
	if err := s.SendAttachments(ctx, "", "", files); err != nil {
		t.Fatal(err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Optimistic() {
		t.Fatalf("before ack: %+v", msgs)
	}
	opt := msgs[0]
	if opt.Kind != model.KindImage || len(opt.Content.Attachments) != 3 {
		t.Fatalf("optimistic entry kind=%s attachments=%d", opt.Kind, len(opt.Content.Attachments))
	}

	select {
	case evt := <-warnings:
		if w := evt.Payload.(Warning); w.ChatID != "7" || !strings.Contains(w.Message, "huge.pdf") {
			t.Errorf("warning = %+v", w)
		}
	case <-time.After(time.Second):
		t.Fatal("no warning for the oversized file")
	}
	select {
	case evt := <-warnings:
		t.Errorf("unexpected second warning %+v", evt.Payload)
	default:
	}

	tr.fire(t, transport.EventMessageSent, map[string]any{"id": 60, "chatId": 7, "localId": opt.LocalID})
	msgs = s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after ack", len(msgs))
	}
	m := msgs[0]
	if m.ID != "60" || m.Optimistic() || m.Status != model.StatusSent || len(m.Content.Attachments) != 3 {
		t.Errorf("after ack = %+v", m)
	}
	if m.Content.Attachments[2].URL != "https://cdn/c.jpg" {
		t.Errorf("attachments = %+v", m.Content.Attachments)
	}
}

func TestHistoryWithoutChatIDIsCached(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	saved, unsub := b.Subscribe(bus.KindCacheSaved, 4)
	defer unsub()
	engine := msgsync.NewEngine(db, b, nil)
	engine.Start(context.Background())
	defer engine.Stop()

	// History pages are scoped by URL and carry no chat id.
	api := &fakeAPI{history: map[string][]model.Message{"7": history("", 2)}}
	tr := newFakeTransport(true)
	s := New(Deps{Transport: tr, API: api, Cache: db}, Options{
		Clock: clock.NewMock(),
		Self:  func() string { return "me" },
		Bus:   b,
	})
	t.Cleanup(s.Close)
	if err := s.Open(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-saved:
		if got := evt.Payload.(msgsync.CacheSaved); got.ChatID != "7" || got.Count != 2 {
			t.Errorf("cache.saved = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for cache.saved")
	}
	cached, err := db.ListMessages("7", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 || cached[0].ChatID != "7" {
		t.Errorf("cached = %+v, want 2 messages of chat 7", cached)
	}
	if api.history["7"][0].ChatID != "" {
		t.Error("history page was modified in place")
	}
}

func TestOverlappingOpensBindTypingToOpenChat(t *testing.T) {
	for i := range 50 {
		tr := newFakeTransport(true)
		s := newSession(t, tr, &fakeAPI{}, nil)

		var wg sync.WaitGroup
		for _, id := range []string{"7", "8"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Open(context.Background(), id)
			}()
		}
		wg.Wait()

		s.Keystroke()
		starts := tr.events(transport.EventTypingStart)
		if len(starts) != 1 {
			t.Fatalf("run %d: typing_start events = %v", i, starts)
		}
		if got := starts[0].(transport.ChatRef).ChatID; got != s.ChatID() {
			t.Fatalf("run %d: typing bound to %q, open chat is %q", i, got, s.ChatID())
		}
		s.Close()
	}
}
