package memstate

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"penserai/acteon/pkg/state"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Config holds tuning knobs for the memory store.
type Config struct {
	// CleanupInterval is how often expired entries are swept. Zero
	// selects the default of one minute.
	CleanupInterval time.Duration
}

// Store is an in-memory state.Store. Entries expire lazily on access
// and eagerly via a background cleanup loop.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a time source, used by tests to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a memory store and starts its cleanup loop.
func New(cfg Config, opts ...Option) *Store {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.cleanupLoop(cfg.CleanupInterval)
	return s
}

func (s *Store) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !e.live(now) {
			delete(s.entries, k)
		}
	}
}

// liveEntry returns the entry for k if present and unexpired, deleting
// it otherwise. Callers must hold s.mu.
func (s *Store) liveEntry(k string, now time.Time) (entry, bool) {
	e, ok := s.entries[k]
	if !ok {
		return entry{}, false
	}
	if !e.live(now) {
		delete(s.entries, k)
		return entry{}, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// CheckAndSet creates the key only if absent, returning true iff this
// call created it.
func (s *Store) CheckAndSet(ctx context.Context, key state.Key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if _, ok := s.liveEntry(k, now); ok {
		return false, nil
	}
	s.entries[k] = entry{value: value, expiresAt: s.expiry(ttl, now)}
	return true, nil
}

// Get returns the live value for key.
func (s *Store) Get(ctx context.Context, key state.Key) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveEntry(key.String(), now)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set unconditionally writes the value.
func (s *Store) Set(ctx context.Context, key state.Key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = entry{value: value, expiresAt: s.expiry(ttl, now)}
	return nil
}

// Delete removes the key, reporting whether a live value existed.
func (s *Store) Delete(ctx context.Context, key state.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	_, ok := s.liveEntry(k, now)
	delete(s.entries, k)
	return ok, nil
}

// Increment atomically adds delta to the counter at key. A missing or
// expired counter starts at zero; ttl applies only on creation so the
// window boundary set by the first increment holds for the whole window.
func (s *Store) Increment(ctx context.Context, key state.Key, delta int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if e, ok := s.liveEntry(k, now); ok {
		current, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, &state.CoordinationError{Op: "increment", Key: k, Err: err}
		}
		next := current + delta
		s.entries[k] = entry{value: strconv.FormatInt(next, 10), expiresAt: e.expiresAt}
		return next, nil
	}

	s.entries[k] = entry{value: strconv.FormatInt(delta, 10), expiresAt: s.expiry(ttl, now)}
	return delta, nil
}

// CompareAndSwap writes newValue only when the current value matches
// the expectation. A nil expected means "expect absent".
func (s *Store) CompareAndSwap(ctx context.Context, key state.Key, expected *string, newValue string, ttl time.Duration) (state.CASResult, error) {
	if err := ctx.Err(); err != nil {
		return state.CASResult{}, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	e, ok := s.liveEntry(k, now)

	switch {
	case expected == nil && ok:
		return state.CASResult{Exists: true, Current: e.value}, nil
	case expected != nil && !ok:
		return state.CASResult{}, nil
	case expected != nil && e.value != *expected:
		return state.CASResult{Exists: true, Current: e.value}, nil
	}

	s.entries[k] = entry{value: newValue, expiresAt: s.expiry(ttl, now)}
	return state.CASResult{OK: true, Exists: ok}, nil
}

// ScanKeys lists live keys in the scope whose ID starts with prefix.
func (s *Store) ScanKeys(ctx context.Context, namespace, tenant string, kind state.Kind, prefix string) ([]state.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scope := state.Prefix(namespace, tenant, kind)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []state.Key
	for k, e := range s.entries {
		if !e.live(now) || !strings.HasPrefix(k, scope) {
			continue
		}
		parsed, err := state.ParseKey(k)
		if err != nil {
			continue
		}
		if prefix != "" && !strings.HasPrefix(parsed.ID, prefix) {
			continue
		}
		keys = append(keys, parsed)
	}
	return keys, nil
}

// Close stops the cleanup loop. Closing an already closed store is a
// no-op.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// Len reports the number of stored entries, expired included (for tests).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
