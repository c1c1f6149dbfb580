package state

import (
	"errors"
	"fmt"
	"time"
)

// LockTimeoutError reports that a lock could not be acquired within the
// caller-supplied timeout. It is always retryable.
type LockTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("state: lock %q not acquired within %s", e.Name, e.Timeout)
}

// Retryable always returns true; lock contention is transient.
func (e *LockTimeoutError) Retryable() bool { return true }

// ErrNotHeld is returned by Guard.Extend when the lock expired or was
// taken over before the call.
var ErrNotHeld = errors.New("state: lock not held")

// CoordinationError wraps a backend failure during a state operation.
// Transient distinguishes retryable I/O failures from fatal
// misconfiguration.
type CoordinationError struct {
	Op        string
	Key       string
	Err       error
	Transient bool
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("state: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the operation.
func (e *CoordinationError) Retryable() bool { return e.Transient }
