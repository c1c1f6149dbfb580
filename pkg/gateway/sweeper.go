package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"penserai/acteon/pkg/state"
)

// SweepFunc handles one expired timeout entry. The sweeper deletes the
// entry only after the handler returns nil.
type SweepFunc func(ctx context.Context, key state.Key, deadline time.Time) error

// SweepScope is one (namespace, tenant) pair the sweeper scans.
type SweepScope struct {
	Namespace string
	Tenant    string
}

// SweeperConfig tunes the timeout sweeper.
type SweeperConfig struct {
	// Interval between scan passes. Default 30 seconds.
	Interval time.Duration

	// ClaimTTL is how long a claim shields an entry from other
	// instances. Default 30 seconds.
	ClaimTTL time.Duration

	// Scopes lists the key scopes to scan.
	Scopes []SweepScope
}

// Sweeper periodically scans timeout entries and fires expired ones.
// Multiple instances can sweep the same store: each expired entry is
// claimed through CheckAndSet before handling, so exactly one instance
// processes it per claim window.
type Sweeper struct {
	store    state.Store
	cfg      SweeperConfig
	fn       SweepFunc
	logger   *slog.Logger
	clock    func() time.Time
	instance string

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a sweeper. Call Start to begin scanning.
func NewSweeper(store state.Store, cfg SweeperConfig, fn SweepFunc, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		cfg:      cfg,
		fn:       fn,
		logger:   logger.With("component", "sweeper"),
		clock:    time.Now,
		instance: uuid.NewString(),
		done:     make(chan struct{}),
	}
}

// Start launches the scan loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep pass failed", "error", err)
			} else if n > 0 {
				s.logger.Info("sweep pass complete", "fired", n)
			}
			cancel()
		}
	}
}

// SweepOnce runs a single scan pass over every scope and returns how
// many expired entries this instance fired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var fired int
	for _, scope := range s.cfg.Scopes {
		n, err := s.sweepScope(ctx, scope)
		fired += n
		if err != nil {
			return fired, err
		}
	}
	return fired, nil
}

func (s *Sweeper) sweepScope(ctx context.Context, scope SweepScope) (int, error) {
	keys, err := s.store.ScanKeys(ctx, scope.Namespace, scope.Tenant, state.KindTimeout, "")
	if err != nil {
		return 0, err
	}

	now := s.clock()
	var fired int
	for _, key := range keys {
		value, ok, err := s.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		deadline, err := time.Parse(time.RFC3339, value)
		if err != nil {
			s.logger.Warn("malformed timeout entry", "key", key.String(), "value", value)
			continue
		}
		if deadline.After(now) {
			continue
		}

		claim := state.NewKey("_system", "_claims", state.KindClaim, key.String())
		claimed, err := s.store.CheckAndSet(ctx, claim, s.instance, s.cfg.ClaimTTL)
		if err != nil || !claimed {
			continue
		}

		if err := s.fn(ctx, key, deadline); err != nil {
			s.logger.Error("timeout handler failed", "key", key.String(), "error", err)
			continue
		}
		if _, err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("timeout entry delete failed", "key", key.String(), "error", err)
		}
		fired++
	}
	return fired, nil
}
