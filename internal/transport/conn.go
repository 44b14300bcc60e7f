package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 15 * time.Second
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	readLimit      = 4 * 1024 * 1024
	sendBufferSize = 64

	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

var (
	// ErrStarted is returned by Start when the connection loop is already running.
	ErrStarted = errors.New("transport: already started")
	// ErrNoURL is returned by Start when no push URL is configured.
	ErrNoURL = errors.New("transport: push url not configured")
)

// Options configures the connection loop.
type Options struct {
	URL          string
	Header       http.Header
	Clock        clock.Clock
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Bus          *bus.Bus
	Logger       *zap.Logger
}

type entry struct {
	id uint64
	h  Handler
}

type outbound struct {
	event   string
	payload any
}

// Conn is the persistent push connection shared by every conversation view
// and unrelated subsystems. Handlers are independent: a panicking handler
// does not affect the others.
type Conn struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64
	out      chan outbound
	cancel   context.CancelFunc
	done     chan struct{}

	connected atomic.Bool
	machine   atomic.Pointer[status.Machine]

	opts   Options
	logger *zap.Logger
}

var (
	defaultConn *Conn
	defaultOnce sync.Once
)

// Get returns the process-wide connection, creating it on first use.
func Get() *Conn {
	defaultOnce.Do(func() {
		defaultConn = New()
	})
	return defaultConn
}

// New creates an unstarted connection. Most callers want Get.
func New() *Conn {
	return &Conn{
		handlers: make(map[string][]entry),
		logger:   zap.NewNop(),
	}
}

// On registers handler for event and returns a function that removes it.
// The returned function may be called any number of times.
func (c *Conn) On(event string, handler Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], entry{id: id, h: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			remaining := slices.DeleteFunc(slices.Clone(c.handlers[event]), func(e entry) bool {
				return e.id == id
			})
			if len(remaining) == 0 {
				delete(c.handlers, event)
				return
			}
			c.handlers[event] = remaining
		})
	}
}

// Emit queues an outbound event. It reports whether the connection was up at
// call time; false means the event was not sent and the caller must use
// another path.
func (c *Conn) Emit(event string, payload any) bool {
	if !c.connected.Load() {
		return false
	}
	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()
	if out == nil {
		return false
	}
	select {
	case out <- outbound{event: event, payload: payload}:
		return true
	default:
		c.logger.Warn("push send buffer full", zap.String("event", event))
		return false
	}
}

// Connected reports whether the connection is currently established.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// State returns the connection lifecycle state.
func (c *Conn) State() status.State {
	if m := c.machine.Load(); m != nil {
		return m.Current()
	}
	return status.Idle
}

// Start launches the connect/reconnect loop in the background.
func (c *Conn) Start(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return ErrNoURL
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(defaultReconnectMax, opts.ReconnectMin)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrStarted
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.opts = opts
	c.logger = opts.Logger.Named("transport")
	done := c.done
	c.mu.Unlock()

	m := c.machine.Load()
	if m == nil || m.Current() != status.Closed {
		m = status.NewMachine(opts.Bus)
		c.machine.Store(m)
	}
	go c.run(ctx, m, done)
	return nil
}

// Close stops the loop and waits for the connection to shut down.
// Handlers stay registered, so a later Start resumes delivery.
func (c *Conn) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *Conn) run(ctx context.Context, m *status.Machine, done chan struct{}) {
	defer close(done)
	backoff := c.opts.ReconnectMin
	for {
		_ = m.Transition(status.Connecting)
		established, err := c.session(ctx, m)
		if ctx.Err() != nil {
			_ = m.Transition(status.Closed)
			c.logger.Info("push connection closed")
			return
		}
		_ = m.Transition(status.Reconnecting)
		if established {
			backoff = c.opts.ReconnectMin
		}
		c.logger.Warn("push connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-c.opts.Clock.After(backoff):
		case <-ctx.Done():
			_ = m.Transition(status.Closed)
			return
		}
		backoff = min(backoff*2, c.opts.ReconnectMax)
	}
}

// session dials once and pumps frames until the connection fails.
// established reports whether the dial succeeded.
func (c *Conn) session(ctx context.Context, m *status.Machine) (established bool, err error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	ws, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: c.opts.Header,
	})
	cancelDial()
	if err != nil {
		return false, fmt.Errorf("dial websocket: %w", err)
	}
	ws.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan outbound, sendBufferSize)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
		_ = ws.CloseNow()
	}()

	_ = m.Transition(status.Connected)
	c.logger.Info("push connection established")
	go c.writeLoop(sessCtx, ws, out)

	c.dispatch(EventConnect, nil)
	for {
		_, data, err := ws.Read(sessCtx)
		if err != nil {
			return true, fmt.Errorf("read frame: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Conn) writeLoop(ctx context.Context, ws *websocket.Conn, out <-chan outbound) {
	ticker := c.opts.Clock.Ticker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			data, err := json.Marshal(msg.payload)
			if err != nil {
				c.logger.Error("cannot encode outbound event", zap.String("event", msg.event), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err = wsjson.Write(wctx, ws, envelope{Event: msg.event, Data: data})
			cancel()
			if err != nil {
				c.logger.Warn("write failed", zap.String("event", msg.event), zap.Error(err))
				_ = ws.CloseNow()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				_ = ws.CloseNow()
				return
			}
		}
	}
}

func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.mu.RLock()
	subs := slices.Clone(c.handlers[event])
	c.mu.RUnlock()
	for _, s := range subs {
		c.call(event, s.h, data)
	}
}

func (c *Conn) call(event string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("push handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(data)
}
