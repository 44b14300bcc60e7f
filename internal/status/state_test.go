package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *Machine, states ...State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	paths := map[string][]State{
		"connect":          {Connecting, Connected},
		"drop and recover": {Connecting, Connected, Reconnecting, Connecting, Connected},
		"dial fails":       {Connecting, Reconnecting, Connecting},
		"close":            {Connecting, Connected, Closed},
		"restart":          {Connecting, Closed, Connecting},
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, path...)
			if got, want := m.Current(), path[len(path)-1]; got != want {
				t.Errorf("state = %s, want %s", got, want)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(IDLE -> CONNECTED) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("self transition error = %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for self transition: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindTransportStatus {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindTransportStatus)
		}
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if sc.From != Idle || sc.To != Connecting {
			t.Errorf("payload = %+v, want IDLE->CONNECTING", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
