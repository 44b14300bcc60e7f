package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
)

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

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil)

	m := msg("1", "7")
	if err := e.IngestMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Status = model.StatusRead
	if err := e.IngestMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("7", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Status != model.StatusRead {
		t.Errorf("got %+v, want one read message", msgs)
	}
}

func TestEngineConsumesRoomEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil)

	saved, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	e.Start(context.Background())
	defer e.Stop()

	b.Emit(bus.KindRoomHistory, []model.Message{msg("1", "7"), msg("2", "7")})
	b.Emit(bus.KindRoomMessage, msg("3", "7"))
	// Optimistic entries have no permanent id and are not cached.
	b.Emit(bus.KindRoomMessage, optimistic("l1", "x"))

	for range 2 {
		select {
		case <-saved:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for cache.saved")
		}
	}

	msgs, err := db.ListMessages("7", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("got %d cached messages, want 3", len(msgs))
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	e := NewEngine(testDB(t), bus.New(), nil)
	e.Stop()
	e.Start(context.Background())
	e.Stop()
	e.Stop()
}
