// Package reaction coordinates optimistic emoji toggles with the REST API.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultWindow is how long a toggle of one message and emoji suppresses
// the next one.
const DefaultWindow = 350 * time.Millisecond

// ErrUnknownMessage is returned when the target has no message with the id.
var ErrUnknownMessage = errors.New("reaction: unknown message")

// Target applies a toggle to the local message list.
type Target interface {
	ToggleReaction(messageID, emoji string) (added, ok bool)
}

// API sends the toggle to the server.
type API interface {
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Outcome is the net local effect of a Toggle.
type Outcome int

const (
	Suppressed Outcome = iota
	Added
	Removed
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Coordinator applies toggles optimistically and drops a repeat of the same
// message and emoji that arrives inside the guard window.
type Coordinator struct {
	api    API
	clock  clock.Clock
	window time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	guarded map[string]*clock.Timer
}

// New creates a coordinator. window <= 0 uses DefaultWindow; a nil clock
// uses the wall clock.
func New(api API, clk clock.Clock, window time.Duration, logger *zap.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		api:     api,
		clock:   clk,
		window:  window,
		logger:  logger.Named("reaction"),
		guarded: make(map[string]*clock.Timer),
	}
}

// Toggle adds the current user's emoji to the message, or removes it when
// already present. The local change is visible before the network call
// returns and is reverted when the call fails.
func (c *Coordinator) Toggle(ctx context.Context, target Target, chatID, messageID, emoji string) (Outcome, error) {
	if chatID == "" || messageID == "" || emoji == "" {
		return Suppressed, nil
	}
	key := messageID + ":" + emoji
	if !c.acquire(key) {
		c.logger.Debug("toggle suppressed", zap.String("key", key))
		return Suppressed, nil
	}

	added, ok := target.ToggleReaction(messageID, emoji)
	if !ok {
		return Suppressed, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	outcome := Removed
	if added {
		outcome = Added
	}

	if err := c.api.React(ctx, chatID, messageID, emoji); err != nil {
		target.ToggleReaction(messageID, emoji)
		c.logger.Warn("reaction failed, reverted", zap.String("message_id", messageID), zap.String("emoji", emoji), zap.Error(err))
		return outcome, fmt.Errorf("toggle reaction: %w", err)
	}
	return outcome, nil
}

// Reset drops every guard. Called when the room changes.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, t := range c.guarded {
		t.Stop()
		delete(c.guarded, key)
	}
}

func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.guarded[key]; busy {
		return false
	}
	var t *clock.Timer
	t = c.clock.AfterFunc(c.window, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.guarded[key] == t {
			delete(c.guarded, key)
		}
	})
	c.guarded[key] = t
	return true
}
