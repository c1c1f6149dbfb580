package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// releasedValue marks a lock key freed by an explicit release. The
// tombstone carries a minimal ttl so the slot is reusable immediately
// while keeping the release itself atomic over the Store contract.
const releasedValue = "_released"

const defaultPollInterval = 50 * time.Millisecond

// StoreLock implements Lock on top of any Store, using CheckAndSet
// claim keys of kind KindLock. Every backend therefore provides
// distributed locking without a dedicated lock primitive.
type StoreLock struct {
	store Store
	poll  time.Duration
}

// StoreLockOption configures a StoreLock.
type StoreLockOption func(*StoreLock)

// WithPollInterval overrides the acquisition polling interval.
func WithPollInterval(d time.Duration) StoreLockOption {
	return func(l *StoreLock) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewStoreLock builds a StoreLock over the given store.
func NewStoreLock(store Store, opts ...StoreLockOption) *StoreLock {
	l := &StoreLock{store: store, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func lockKey(name string) Key {
	return NewKey("_system", "_locks", KindLock, name)
}

// TryAcquire attempts a single non-blocking acquisition. A (nil, nil)
// return means another holder owns the lock.
func (l *StoreLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Guard, error) {
	owner := uuid.NewString()
	created, err := l.store.CheckAndSet(ctx, lockKey(name), owner, ttl)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return &storeGuard{lock: l, name: name, owner: owner}, nil
}

// Acquire polls TryAcquire until the lock is obtained, the timeout
// elapses, or ctx is done. Timeout yields a retryable *LockTimeoutError.
func (l *StoreLock) Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (Guard, error) {
	deadline := time.Now().Add(timeout)
	for {
		guard, err := l.TryAcquire(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			return guard, nil
		}
		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Name: name, Timeout: timeout}
		}

		wait := l.poll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type storeGuard struct {
	lock     *StoreLock
	name     string
	owner    string
	released bool
}

func (g *storeGuard) Name() string { return g.name }

// Extend refreshes the lock ttl via owner-checked CAS.
func (g *storeGuard) Extend(ctx context.Context, ttl time.Duration) error {
	if g.released {
		return ErrNotHeld
	}
	res, err := g.lock.store.CompareAndSwap(ctx, lockKey(g.name), &g.owner, g.owner, ttl)
	if err != nil {
		return err
	}
	if !res.OK {
		return ErrNotHeld
	}
	return nil
}

// Release frees the lock by swapping in an immediately expiring
// tombstone, owner-checked so a stolen or expired lock is untouched.
func (g *storeGuard) Release(ctx context.Context) error {
	if g.released {
		return nil
	}
	g.released = true
	_, err := g.lock.store.CompareAndSwap(ctx, lockKey(g.name), &g.owner, releasedValue, time.Millisecond)
	return err
}

func (g *storeGuard) IsHeld(ctx context.Context) (bool, error) {
	if g.released {
		return false, nil
	}
	val, ok, err := g.lock.store.Get(ctx, lockKey(g.name))
	if err != nil {
		return false, err
	}
	return ok && val == g.owner, nil
}
