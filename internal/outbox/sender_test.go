package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// mockPusher records emits and reports a configurable connection state.
type mockPusher struct {
	connected bool
	events    []string
	payloads  []any
}

func (m *mockPusher) Emit(event string, payload any) bool {
	if !m.connected {
		return false
	}
	m.events = append(m.events, event)
	m.payloads = append(m.payloads, payload)
	return true
}

// mockPoster records REST sends and returns configurable results.
type mockPoster struct {
	calls []rest.SendRequest
	err   error
}

func (m *mockPoster) SendMessage(_ context.Context, chatID string, req rest.SendRequest) (*model.Message, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &model.Message{
		ID:      model.ID(fmt.Sprintf("srv-%d", len(m.calls))),
		ChatID:  model.ID(chatID),
		Kind:    req.Type,
		Content: model.Content{Text: req.Text, Attachments: req.Attachments},
		Status:  model.StatusSent,
	}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSendUsesPushWhenConnected(t *testing.T) {
	db := testDB(t)
	push := &mockPusher{connected: true}
	post := &mockPoster{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(push, post, db, logger)

	res, err := s.Send(context.Background(), Outgoing{ChatID: "7", LocalID: "l1", Text: "hello", ReplyToID: "3"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathPush || res.Message != nil {
		t.Errorf("result = %+v, want push without message", res)
	}
	if len(post.calls) != 0 {
		t.Errorf("REST called %d times on push path", len(post.calls))
	}
	if len(push.events) != 1 || push.events[0] != transport.EventSendMessage {
		t.Fatalf("events = %v", push.events)
	}

	data, _ := json.Marshal(push.payloads[0])
	var got map[string]any
	_ = json.Unmarshal(data, &got)
	if got["localId"] != "l1" || got["chatId"] != "7" || got["type"] != "text" || got["replyTo"] != "3" {
		t.Errorf("push payload = %s", data)
	}

	e, err := db.GetOutbox("l1")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.Status != store.OutboxQueued {
		t.Fatalf("ledger entry = %+v, want queued until ack", e)
	}

	s.Acknowledge("l1", "srv-9")
	e, _ = db.GetOutbox("l1")
	if e.Status != store.OutboxSent || e.ServerMsgID != "srv-9" {
		t.Errorf("after ack = %+v", e)
	}
}

func TestSendFallsBackToREST(t *testing.T) {
	db := testDB(t)
	post := &mockPoster{}
	s := NewSender(&mockPusher{connected: false}, post, db, nil)

	res, err := s.Send(context.Background(), Outgoing{ChatID: "7", LocalID: "l1", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != PathREST || res.Message == nil || res.Message.Status != model.StatusSent {
		t.Fatalf("result = %+v, want REST with sent message", res)
	}
	if len(post.calls) != 1 || post.calls[0].LocalID != "l1" {
		t.Errorf("REST calls = %+v", post.calls)
	}
	e, _ := db.GetOutbox("l1")
	if e == nil || e.Status != store.OutboxSent || e.ServerMsgID != "srv-1" {
		t.Errorf("ledger entry = %+v, want sent srv-1", e)
	}
}

func TestSendFailureIsRecordedAndRestorable(t *testing.T) {
	db := testDB(t)
	post := &mockPoster{err: fmt.Errorf("%w: dial tcp", rest.ErrNetwork)}
	s := NewSender(nil, post, db, nil)

	img := model.Attachment{Kind: model.AttachmentImage, URL: "https://cdn/a.jpg"}
	_, err := s.Send(context.Background(), Outgoing{ChatID: "7", LocalID: "l1", Text: "pic", Attachments: []model.Attachment{img}})
	if err == nil {
		t.Fatal("expected error")
	}

	failed := s.Failed("7")
	if len(failed) != 1 {
		t.Fatalf("got %d failed sends, want 1", len(failed))
	}
	o := failed[0]
	if o.LocalID != "l1" || o.Text != "pic" || o.Kind != model.KindImage || len(o.Attachments) != 1 {
		t.Errorf("restored = %+v", o)
	}

	opt := o.Optimistic("me")
	if !opt.Optimistic() || opt.Status != model.StatusSending || opt.SenderID != "me" {
		t.Errorf("optimistic entry = %+v", opt)
	}

	// Retrying with the same LocalID reuses the ledger row.
	post.err = nil
	if _, err := s.Send(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if len(s.Failed("7")) != 0 {
		t.Error("entry still failed after successful retry")
	}
	e, _ := db.GetOutbox("l1")
	if e.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", e.Attempts)
	}
}

func TestSendRequiresIDs(t *testing.T) {
	s := NewSender(nil, &mockPoster{}, nil, nil)
	if _, err := s.Send(context.Background(), Outgoing{Text: "x"}); err == nil {
		t.Error("expected error without chat and local id")
	}
}

func TestSenderWithoutLedger(t *testing.T) {
	s := NewSender(nil, &mockPoster{}, nil, nil)
	if _, err := s.Send(context.Background(), Outgoing{ChatID: "7", LocalID: "l1", Text: "x"}); err != nil {
		t.Fatal(err)
	}
	s.Acknowledge("l1", "srv")
	s.Fail("l1", fmt.Errorf("boom"))
	if got := s.Failed("7"); got != nil {
		t.Errorf("Failed() = %v, want nil", got)
	}
}
