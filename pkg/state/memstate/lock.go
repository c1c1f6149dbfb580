package memstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"penserai/acteon/pkg/state"
)

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

// Lock is an in-process state.Lock with owner tokens and TTL expiry.
// Expired locks are treated as free and may be taken over.
type Lock struct {
	mu      sync.Mutex
	holders map[string]lockEntry
	now     func() time.Time
	poll    time.Duration
}

// LockOption configures a Lock.
type LockOption func(*Lock)

// WithLockClock injects a time source for expiry checks.
func WithLockClock(now func() time.Time) LockOption {
	return func(l *Lock) { l.now = now }
}

// NewLock creates an in-memory lock manager.
func NewLock(opts ...LockOption) *Lock {
	l := &Lock{
		holders: make(map[string]lockEntry),
		now:     time.Now,
		poll:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire attempts a single non-blocking acquisition.
func (l *Lock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (state.Guard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.holders[name]; ok && now.Before(e.expiresAt) {
		return nil, nil
	}
	owner := uuid.NewString()
	l.holders[name] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return &memGuard{lock: l, name: name, owner: owner}, nil
}

// Acquire polls until the lock is free, the timeout elapses, or ctx is
// done.
func (l *Lock) Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (state.Guard, error) {
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
			return nil, &state.LockTimeoutError{Name: name, Timeout: timeout}
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

type memGuard struct {
	lock     *Lock
	name     string
	owner    string
	released bool
}

func (g *memGuard) Name() string { return g.name }

func (g *memGuard) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.lock.now()
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()

	if g.released {
		return state.ErrNotHeld
	}
	e, ok := g.lock.holders[g.name]
	if !ok || e.owner != g.owner || !now.Before(e.expiresAt) {
		return state.ErrNotHeld
	}
	e.expiresAt = now.Add(ttl)
	g.lock.holders[g.name] = e
	return nil
}

func (g *memGuard) Release(ctx context.Context) error {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()

	if g.released {
		return nil
	}
	g.released = true
	if e, ok := g.lock.holders[g.name]; ok && e.owner == g.owner {
		delete(g.lock.holders, g.name)
	}
	return nil
}

func (g *memGuard) IsHeld(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := g.lock.now()
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()

	if g.released {
		return false, nil
	}
	e, ok := g.lock.holders[g.name]
	return ok && e.owner == g.owner && now.Before(e.expiresAt), nil
}
