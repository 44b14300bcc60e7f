package transport

import "sync/atomic"

// globalUserID is read by handlers at call time, never captured at
// subscription time, so a login or account switch is seen immediately.
var globalUserID atomic.Pointer[string]

// SetGlobalUserID records the authenticated user id.
func SetGlobalUserID(id string) {
	globalUserID.Store(&id)
}

// GlobalUserID returns the authenticated user id, or "" before login.
func GlobalUserID() string {
	if p := globalUserID.Load(); p != nil {
		return *p
	}
	return ""
}
