package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/reaction"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/viewport"
)

type fakeRoom struct {
	mu      sync.Mutex
	msgs    []model.Message
	retried []string
	reacted []string
}

func (f *fakeRoom) Open(context.Context, string) error { return nil }
func (f *fakeRoom) Send(context.Context, string, string) error { return nil }
func (f *fakeRoom) SendAttachments(context.Context, string, string, []attach.File) error {
	return nil
}
func (f *fakeRoom) Retry(_ context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, localID)
	return nil
}
func (f *fakeRoom) ToggleReaction(_ context.Context, id, emoji string) (reaction.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reacted = append(f.reacted, id+emoji)
	return reaction.Added, nil
}
func (f *fakeRoom) Keystroke() {}
func (f *fakeRoom) Messages() []model.Message { return f.msgs }
func (f *fakeRoom) ChatID() string { return "7" }

func (f *fakeRoom) calls() (retried, reacted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retried...), append([]string(nil), f.reacted...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoomUpdateRendersAndScrolls(t *testing.T) {
	r := &fakeRoom{msgs: []model.Message{
		{ID: "1", SenderID: "ana", Content: model.Content{Text: "hi"}, Status: model.StatusSent},
		{LocalID: "l1", SenderID: "me", Content: model.Content{Text: "yo"}, Status: model.StatusFailed},
	}}
	a := NewApp(r, Options{Profile: "main", Bus: bus.New(), Self: func() string { return "me" }})
	t.Cleanup(a.cancel)

	a.handleEvent(bus.Event{Kind: bus.KindRoomUpdated, Payload: room.Update{ChatID: "8", Count: 2}})
	if _, ok := a.conv.At(1); ok {
		t.Fatal("update for another chat was rendered")
	}

	a.handleEvent(bus.Event{Kind: bus.KindRoomUpdated, Payload: room.Update{ChatID: "7", Count: 2}})
	if m, ok := a.conv.At(2); !ok || m.LocalID != "l1" {
		t.Fatalf("At(2) = %+v, %v", m, ok)
	}
	if a.conv.LastFailed() != 2 {
		t.Errorf("LastFailed() = %d, want 2", a.conv.LastFailed())
	}
	if got := a.scrollGen.Load(); got != 1 {
		t.Errorf("scroll requests = %d, want 1 for the initial load", got)
	}
}

func TestCommandsReachRoom(t *testing.T) {
	r := &fakeRoom{msgs: []model.Message{
		{ID: "1", SenderID: "ana", Content: model.Content{Text: "hi"}, Status: model.StatusSent},
		{LocalID: "l1", SenderID: "me", Content: model.Content{Text: "yo"}, Status: model.StatusFailed},
	}}
	a := NewApp(r, Options{Bus: bus.New(), Self: func() string { return "me" }})
	t.Cleanup(a.cancel)
	a.conv.Update(r.msgs, false)

	a.runCommand(ParseCommand("react 1 👍"))
	a.runCommand(ParseCommand("react 2 👍")) // optimistic entries cannot be reacted to
	a.runCommand(ParseCommand("retry"))

	waitFor(t, func() bool {
		retried, reacted := r.calls()
		return len(retried) == 1 && len(reacted) == 1
	})
	retried, reacted := r.calls()
	if retried[0] != "l1" || reacted[0] != "1👍" {
		t.Errorf("retried %v reacted %v", retried, reacted)
	}
}

func TestViewportPolicyIsPerChat(t *testing.T) {
	a := NewApp(&fakeRoom{}, Options{Bus: bus.New()})
	t.Cleanup(a.cancel)
	a.conv.Update([]model.Message{{ID: "1"}}, false)
	a.conv.SetChat("9")
	if act := a.conv.Update([]model.Message{{ID: "5"}}, false); act != (viewport.Action{Scroll: true}) {
		t.Errorf("first render after switch = %+v, want instant scroll", act)
	}
}
