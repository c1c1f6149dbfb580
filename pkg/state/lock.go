package state

import (
	"context"
	"time"
)

// Guard represents a held distributed lock. Callers must arrange for
// Release on every exit path, normally via defer immediately after a
// successful acquisition. Release is idempotent.
type Guard interface {
	// Name returns the lock name this guard holds.
	Name() string

	// Extend pushes the lock expiry ttl into the future. It fails if
	// the lock is no longer held by this guard.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release frees the lock. Releasing a lock that already expired or
	// was released is a no-op.
	Release(ctx context.Context) error

	// IsHeld reports whether this guard still holds the lock.
	IsHeld(ctx context.Context) (bool, error)
}

// Lock is the distributed locking contract. Acquire blocks the calling
// goroutine cooperatively until the lock is obtained, the timeout
// elapses (yielding a retryable *LockTimeoutError), or ctx is done.
// TryAcquire never blocks; a (nil, nil) return means the lock is held
// elsewhere.
type Lock interface {
	Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (Guard, error)
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Guard, error)
}
