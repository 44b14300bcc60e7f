package keys

import (
	"slices"

	"github.com/gdamore/tcell/v2"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings in registration order. Bindings on runes only
// fire while no input field has focus; the caller decides that.
type Registry struct {
	names   []string
	actions map[string]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Add registers or replaces a binding.
func (r *Registry) Add(name string, action *Action) {
	if _, ok := r.actions[name]; !ok {
		r.names = append(r.names, name)
	}
	r.actions[name] = action
}

// Hints returns visible keybinding descriptions in registration order.
func (r *Registry) Hints() []string {
	var hints []string
	for _, name := range r.names {
		if a := r.actions[name]; a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the first matching action. When
// typing is set, rune bindings are skipped so they reach the input field.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey, typing bool) bool {
	i := slices.IndexFunc(r.names, func(name string) bool {
		a := r.actions[name]
		if typing && a.Key == tcell.KeyRune {
			return false
		}
		return a.Matches(ev)
	})
	if i < 0 {
		return false
	}
	r.actions[r.names[i]].Handler()
	return true
}
