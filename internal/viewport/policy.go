// Package viewport decides when the conversation view scrolls to the bottom.
package viewport

import "sync"

// DefaultNearBottom is how close to the bottom, in pixels, the viewport must
// be for an incoming message to pull it down.
const DefaultNearBottom = 100

// State is the phase of a conversation open.
type State int

const (
	InitialLoad State = iota
	Steady
)

func (s State) String() string {
	if s == InitialLoad {
		return "INITIAL_LOAD"
	}
	return "STEADY"
}

// Update describes one render of the message list.
type Update struct {
	PrevCount          int
	Count              int
	DistanceFromBottom int  // measured before the update was applied
	FromSelf           bool // the update came from the local user's send
}

// Action is what the view should do after rendering.
type Action struct {
	Scroll   bool
	Animated bool
}

// Policy is the autoscroll state machine of one conversation open.
// INITIAL_LOAD moves to STEADY once, on the first render with messages.
type Policy struct {
	mu         sync.Mutex
	state      State
	nearBottom int
}

// New creates a policy in INITIAL_LOAD. nearBottom <= 0 uses DefaultNearBottom.
func New(nearBottom int) *Policy {
	if nearBottom <= 0 {
		nearBottom = DefaultNearBottom
	}
	return &Policy{nearBottom: nearBottom}
}

// Reset returns to INITIAL_LOAD for a new conversation.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = InitialLoad
}

// State returns the current phase.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Decide returns the scroll action for u.
func (p *Policy) Decide(u Update) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case InitialLoad:
		if u.Count == 0 {
			return Action{}
		}
		p.state = Steady
		return Action{Scroll: true}
	default:
		if u.Count <= u.PrevCount {
			return Action{}
		}
		if u.FromSelf || u.DistanceFromBottom <= p.nearBottom {
			return Action{Scroll: true, Animated: true}
		}
		return Action{}
	}
}
