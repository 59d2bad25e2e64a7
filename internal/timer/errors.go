package timer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInterval rejects registrations with interval <= 0.
	ErrInvalidInterval = errors.New("timer: interval must be positive")
	// ErrNotCallable rejects nil callbacks. Only the self-driven path
	// checks this; a delegated event loop validates its own input.
	ErrNotCallable = errors.New("timer: callback is not callable")
	// ErrStopped is returned by Add/AddOnce before Start or after Stop.
	ErrStopped = errors.New("timer: scheduler stopped")
	// ErrStopping is returned while a Stop is in flight.
	ErrStopping = errors.New("timer: scheduler stopping")
)

// CallbackError wraps a failure raised by a timer callback. It is
// caught at the tick boundary, handed to the Reporter, and never
// interrupts sibling timers.
type CallbackError struct {
	Handle Handle
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("timer %d: callback failed: %v", e.Handle, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
