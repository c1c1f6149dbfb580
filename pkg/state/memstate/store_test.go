package memstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"penserai/acteon/pkg/state"
)

// fakeClock is a mutable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := New(Config{CleanupInterval: time.Hour}, WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestCheckAndSet(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	key := state.NewKey("ns", "t", state.KindDedup, "k1")

	created, err := s.CheckAndSet(ctx, key, "v", 5*time.Minute)
	if err != nil || !created {
		t.Fatalf("first CheckAndSet = (%t, %v), want (true, nil)", created, err)
	}

	created, err = s.CheckAndSet(ctx, key, "v2", 5*time.Minute)
	if err != nil || created {
		t.Fatalf("second CheckAndSet = (%t, %v), want (false, nil)", created, err)
	}

	// After the window expires the slot is free again.
	clock.Advance(5*time.Minute + time.Second)
	created, err = s.CheckAndSet(ctx, key, "v3", 5*time.Minute)
	if err != nil || !created {
		t.Fatalf("post-expiry CheckAndSet = (%t, %v), want (true, nil)", created, err)
	}
}

func TestGetSetDelete(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	key := state.NewKey("ns", "t", state.KindState, "s1")

	if _, ok, _ := s.Get(ctx, key); ok {
		t.Fatal("expected absent key")
	}
	if err := s.Set(ctx, key, "hello", time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := s.Get(ctx, key)
	if !ok || v != "hello" {
		t.Fatalf("Get = (%q, %t)", v, ok)
	}

	clock.Advance(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, key); ok {
		t.Fatal("expected expired key to read as absent")
	}

	s.Set(ctx, key, "again", 0)
	deleted, _ := s.Delete(ctx, key)
	if !deleted {
		t.Fatal("expected Delete to report a live value")
	}
	deleted, _ = s.Delete(ctx, key)
	if deleted {
		t.Fatal("expected second Delete to report absence")
	}
}

func TestIncrement(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	key := state.NewKey("ns", "t", state.KindCounter, "c1")

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, key, 1, time.Hour)
		if err != nil || got != want {
			t.Fatalf("Increment = (%d, %v), want %d", got, err, want)
		}
	}

	got, _ := s.Increment(ctx, key, -1, time.Hour)
	if got != 2 {
		t.Fatalf("decrement = %d, want 2", got)
	}

	// The counter resets after its window expires.
	clock.Advance(2 * time.Hour)
	got, _ = s.Increment(ctx, key, 1, time.Hour)
	if got != 1 {
		t.Fatalf("post-expiry Increment = %d, want 1", got)
	}
}

func TestCompareAndSwap(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := state.NewKey("ns", "t", state.KindState, "cas")

	// Expect-absent on a missing key succeeds.
	res, err := s.CompareAndSwap(ctx, key, nil, "v1", 0)
	if err != nil || !res.OK {
		t.Fatalf("CAS expect-absent = (%+v, %v)", res, err)
	}

	// Expect-absent on a present key conflicts.
	res, _ = s.CompareAndSwap(ctx, key, nil, "v2", 0)
	if res.OK || !res.Exists || res.Current != "v1" {
		t.Fatalf("CAS expect-absent conflict = %+v", res)
	}

	// Wrong expectation conflicts and leaves the value unchanged.
	wrong := "not-v1"
	res, _ = s.CompareAndSwap(ctx, key, &wrong, "v2", 0)
	if res.OK || res.Current != "v1" {
		t.Fatalf("CAS wrong expectation = %+v", res)
	}
	if v, _, _ := s.Get(ctx, key); v != "v1" {
		t.Fatalf("value changed on conflict: %q", v)
	}

	// Correct expectation swaps.
	expected := "v1"
	res, _ = s.CompareAndSwap(ctx, key, &expected, "v2", 0)
	if !res.OK {
		t.Fatalf("CAS correct expectation = %+v", res)
	}
	if v, _, _ := s.Get(ctx, key); v != "v2" {
		t.Fatalf("value after swap: %q", v)
	}

	// Expecting a value on a missing key conflicts.
	missing := state.NewKey("ns", "t", state.KindState, "missing")
	res, _ = s.CompareAndSwap(ctx, missing, &expected, "v", 0)
	if res.OK || res.Exists {
		t.Fatalf("CAS on missing key = %+v", res)
	}
}

func TestScanKeys(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, state.NewKey("ns", "t", state.KindState, "a1"), "v", 0)
	s.Set(ctx, state.NewKey("ns", "t", state.KindState, "a2"), "v", 0)
	s.Set(ctx, state.NewKey("ns", "t", state.KindState, "b1"), "v", 0)
	s.Set(ctx, state.NewKey("ns", "t", state.KindCounter, "a1"), "1", 0)
	s.Set(ctx, state.NewKey("other", "t", state.KindState, "a1"), "v", 0)

	keys, err := s.ScanKeys(ctx, "ns", "t", state.KindState, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("ScanKeys returned %d keys, want 2: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k.Kind != state.KindState || k.Namespace != "ns" {
			t.Errorf("unexpected key in scan: %+v", k)
		}
	}

	all, _ := s.ScanKeys(ctx, "ns", "t", state.KindState, "")
	if len(all) != 3 {
		t.Fatalf("unfiltered scan returned %d keys, want 3", len(all))
	}
}

func TestConcurrentCheckAndSetSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := state.NewKey("ns", "t", state.KindClaim, "item-1")

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.CheckAndSet(ctx, key, "owner", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			wins <- created
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(Config{CleanupInterval: time.Hour})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
