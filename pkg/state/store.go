package state

import (
	"context"
	"time"
)

// CASResult reports the result of a CompareAndSwap. Conflict is not an
// error: it means the stored value did not match the expectation, and
// carries what was actually stored.
type CASResult struct {
	// OK is true when the swap was applied.
	OK bool

	// Exists reports whether the key held a live value at decision time.
	Exists bool

	// Current is the stored value when OK is false and Exists is true.
	Current string
}

// Store is the atomic key/value contract every backend implements. All
// operations are linearizable per key with respect to concurrent
// callers on the same backend.
//
// A ttl of zero means the entry never expires. Expired entries behave
// exactly like absent ones.
type Store interface {
	// CheckAndSet atomically creates the key only if it is absent and
	// returns true iff this call created it. This is the sole primitive
	// used for dedup markers and cross-instance claim patterns.
	CheckAndSet(ctx context.Context, key Key, value string, ttl time.Duration) (bool, error)

	// Get returns the live value for key, with false when absent.
	Get(ctx context.Context, key Key) (string, bool, error)

	// Set unconditionally writes the value.
	Set(ctx context.Context, key Key, value string, ttl time.Duration) error

	// Delete removes the key, reporting whether a live value existed.
	Delete(ctx context.Context, key Key) (bool, error)

	// Increment atomically adds delta to the integer counter at key and
	// returns the post-increment value. A missing counter starts at
	// zero; ttl applies only when this call creates the counter.
	Increment(ctx context.Context, key Key, delta int64, ttl time.Duration) (int64, error)

	// CompareAndSwap writes newValue only when the current value equals
	// *expected. A nil expected means "expect absent". Mismatch yields a
	// Conflict result, never an error, and leaves the value unchanged.
	CompareAndSwap(ctx context.Context, key Key, expected *string, newValue string, ttl time.Duration) (CASResult, error)

	// ScanKeys lists live keys in the (namespace, tenant, kind) scope
	// whose ID starts with prefix. An empty prefix matches all.
	ScanKeys(ctx context.Context, namespace, tenant string, kind Kind, prefix string) ([]Key, error)

	// Close releases backend resources.
	Close() error
}
