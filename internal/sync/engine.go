package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Engine writes reconciled messages to the offline cache. It subscribes to
// "room." events on the bus so the room session never waits on disk.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new cache engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger.Named("cache"),
	}
}

// Start subscribes to room events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("room.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				e.drain(ch)
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the write in progress.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

// drain writes the events already buffered when the engine stops.
func (e *Engine) drain(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			e.handleEvent(evt)
		default:
			return
		}
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRoomMessage:
		msg, ok := evt.Payload.(model.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", string(msg.ID)))
		}
	case bus.KindRoomHistory:
		msgs, ok := evt.Payload.([]model.Message)
		if !ok {
			return
		}
		if err := e.IngestHistory(msgs); err != nil {
			e.logger.Error("failed to cache history", zap.Error(err), zap.Int("count", len(msgs)))
		} else {
			e.logger.Debug("history cached", zap.Int("messages", len(msgs)))
		}
	}
}

// IngestMessage writes a single reconciled message (idempotent).
func (e *Engine) IngestMessage(msg model.Message) error {
	if msg.ID == "" {
		return nil
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	e.bus.Emit(bus.KindCacheSaved, CacheSaved{ChatID: string(msg.ChatID), Count: 1})
	return nil
}

// IngestHistory writes a page of history in one transaction.
func (e *Engine) IngestHistory(msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := e.db.SaveHistory(msgs); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	e.bus.Emit(bus.KindCacheSaved, CacheSaved{ChatID: string(msgs[0].ChatID), Count: len(msgs)})
	return nil
}

// CacheSaved is the payload of bus.KindCacheSaved.
type CacheSaved struct {
	ChatID string
	Count  int
}
