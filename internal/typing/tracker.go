// Package typing tracks the local "is typing" flag and the typing indicators
// of peers in the open room.
package typing

import (
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const (
	DefaultIdle  = 1500 * time.Millisecond
	DefaultTTL   = 5 * time.Second
	DefaultSweep = 2 * time.Second
)

// Emitter sends outbound push events.
type Emitter interface {
	Emit(event string, payload any) bool
}

// Options configures a Tracker. Zero values take the defaults.
type Options struct {
	Clock    clock.Clock
	Idle     time.Duration // composer inactivity before typing_stop
	TTL      time.Duration // lifetime of a peer indicator without refresh
	Sweep    time.Duration // interval of the stale-indicator purge
	Self     func() string // current user id; defaults to transport.GlobalUserID
	OnChange func([]model.TypingIndicator)
	Logger   *zap.Logger
}

// Tracker owns the timers of one open room. Every timer is released by Stop.
type Tracker struct {
	emit Emitter
	opts Options

	mu        sync.Mutex
	chatID    string
	typing    bool
	idle      *clock.Timer
	idleGen   uint64
	peers     []model.TypingIndicator
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates a stopped tracker.
func New(emit Emitter, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Idle <= 0 {
		opts.Idle = DefaultIdle
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Sweep <= 0 {
		opts.Sweep = DefaultSweep
	}
	if opts.Self == nil {
		opts.Self = transport.GlobalUserID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	opts.Logger = opts.Logger.Named("typing")
	return &Tracker{emit: emit, opts: opts}
}

// Start binds the tracker to chatID and starts the sweep. A running tracker
// is stopped first.
func (t *Tracker) Start(chatID string) {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
	t.stopSweep = make(chan struct{})
	t.sweepDone = make(chan struct{})
	go t.sweepLoop(t.opts.Clock.Ticker(t.opts.Sweep), t.stopSweep, t.sweepDone)
}

// Stop releases the local typing flag, cancels every timer and forgets all
// peer indicators.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stop, done := t.stopSweep, t.sweepDone
	t.stopSweep, t.sweepDone = nil, nil
	t.releaseLocked()
	chatID := t.chatID
	t.chatID = ""
	hadPeers := len(t.peers) > 0
	t.peers = nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if hadPeers {
		t.changed(nil)
	}
	if chatID != "" {
		t.opts.Logger.Debug("typing tracker stopped", zap.String("chat_id", chatID))
	}
}

// Keystroke records composer activity: typing_start is emitted once while
// the flag is clear, and the idle timer restarts on every call.
func (t *Tracker) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chatID == "" {
		return
	}
	if !t.typing {
		t.typing = true
		t.emit.Emit(transport.EventTypingStart, transport.ChatRef{ChatID: t.chatID})
	}
	if t.idle != nil {
		t.idle.Stop()
	}
	t.idleGen++
	gen := t.idleGen
	t.idle = t.opts.Clock.AfterFunc(t.opts.Idle, func() { t.idleFired(gen) })
}

// StopTyping clears the local flag now, emitting typing_stop if it was set.
func (t *Tracker) StopTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked()
}

// Typing reports whether the local typing flag is set.
func (t *Tracker) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

func (t *Tracker) idleFired(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.idleGen {
		return
	}
	t.releaseLocked()
}

func (t *Tracker) releaseLocked() {
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	t.idleGen++
	if !t.typing {
		return
	}
	t.typing = false
	if t.chatID != "" {
		t.emit.Emit(transport.EventTypingStop, transport.ChatRef{ChatID: t.chatID})
	}
}

// PeerTyping refreshes the indicator of userID. Events from the current user
// are ignored.
func (t *Tracker) PeerTyping(userID, userName string) {
	if userID == "" || userID == t.opts.Self() {
		return
	}
	t.mu.Lock()
	if t.chatID == "" {
		t.mu.Unlock()
		return
	}
	now := t.opts.Clock.Now()
	i := slices.IndexFunc(t.peers, func(p model.TypingIndicator) bool { return p.UserID == userID })
	if i >= 0 {
		t.peers[i].LastSeenAt = now
		if userName != "" {
			t.peers[i].UserName = userName
		}
	} else {
		t.peers = append(t.peers, model.TypingIndicator{UserID: userID, UserName: userName, LastSeenAt: now})
	}
	snap := slices.Clone(t.peers)
	t.mu.Unlock()
	t.changed(snap)
}

// PeerStopped removes the indicator of userID immediately.
func (t *Tracker) PeerStopped(userID string) {
	t.mu.Lock()
	n := len(t.peers)
	t.peers = slices.DeleteFunc(t.peers, func(p model.TypingIndicator) bool { return p.UserID == userID })
	if len(t.peers) == n {
		t.mu.Unlock()
		return
	}
	snap := slices.Clone(t.peers)
	t.mu.Unlock()
	t.changed(snap)
}

// Sweep purges indicators not refreshed within the TTL and reports whether
// any were removed.
func (t *Tracker) Sweep() bool {
	t.mu.Lock()
	now := t.opts.Clock.Now()
	n := len(t.peers)
	t.peers = slices.DeleteFunc(t.peers, func(p model.TypingIndicator) bool {
		return now.Sub(p.LastSeenAt) >= t.opts.TTL
	})
	if len(t.peers) == n {
		t.mu.Unlock()
		return false
	}
	snap := slices.Clone(t.peers)
	t.mu.Unlock()
	t.changed(snap)
	return true
}

// Indicators returns the peers currently typing, in first-seen order.
func (t *Tracker) Indicators() []model.TypingIndicator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.peers)
}

func (t *Tracker) sweepLoop(ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-stop:
			return
		}
	}
}

func (t *Tracker) changed(peers []model.TypingIndicator) {
	if t.opts.OnChange != nil {
		t.opts.OnChange(peers)
	}
}
