// internal/room/errors.go
package room

import "errors"

// Error taxonomy for room operations. Rejections never mutate shared state;
// they surface only to the acting caller.
var (
	// ErrAuthPending: no identity has been established for the session yet.
	ErrAuthPending = errors.New("room: identity not established")

	// ErrInvalidQuiz: the uploaded quiz payload failed validation.
	ErrInvalidQuiz = errors.New("room: invalid quiz")

	// ErrRoomNotFound: no room exists under the given code.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrWrongState: the operation is not valid in the room's current
	// lifecycle state (including stale answer submissions).
	ErrWrongState = errors.New("room: operation invalid in current state")

	// ErrNotHost: a host-only action was attempted by a non-host.
	ErrNotHost = errors.New("room: host-only action")

	// ErrSync: the shared store or a subscription failed; non-fatal, the
	// session continues on the next snapshot or retry.
	ErrSync = errors.New("room: synchronization failure")
)
