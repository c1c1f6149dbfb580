package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionPolicy bounds how long audit records for one
// (namespace, tenant) scope are kept before the pruner may remove them.
type RetentionPolicy struct {
	Namespace string    `json:"namespace"`
	Tenant    string    `json:"tenant,omitempty"`
	Days      int       `json:"days"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// TTL is the record lifetime the policy prescribes.
func (p *RetentionPolicy) TTL() time.Duration {
	return time.Duration(p.Days) * 24 * time.Hour
}

// Validate checks the policy is well formed.
func (p *RetentionPolicy) Validate() error {
	if p.Namespace == "" {
		return fmt.Errorf("retention policy: namespace is required")
	}
	if p.Days <= 0 {
		return fmt.Errorf("retention policy: days must be positive, got %d", p.Days)
	}
	return nil
}

// RetentionConfig schedules expired-record pruning.
type RetentionConfig struct {
	// Schedule is a standard cron expression. Default hourly.
	Schedule string

	// PruneTimeout bounds one prune pass. Default 1 minute.
	PruneTimeout time.Duration
}

// Retention prunes expired records from a store on a cron schedule.
type Retention struct {
	store   Store
	cfg     RetentionConfig
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewRetention creates a pruner. Call Start to begin scheduling.
func NewRetention(store Store, cfg RetentionConfig, logger *slog.Logger) *Retention {
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.PruneTimeout <= 0 {
		cfg.PruneTimeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		store:  store,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With("component", "audit.retention"),
	}
}

// Start validates the schedule and begins pruning.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("retention already started")
	}

	if _, err := cron.ParseStandard(r.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.cfg.Schedule, err)
	}
	if _, err := r.cron.AddFunc(r.cfg.Schedule, r.prune); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("retention pruning scheduled", "schedule", r.cfg.Schedule)
	return nil
}

// Stop halts scheduling and waits for an in-flight prune.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}

// PruneNow runs one prune pass immediately.
func (r *Retention) PruneNow(ctx context.Context) (int64, error) {
	return r.store.DeleteExpired(ctx, time.Now().UTC())
}

func (r *Retention) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PruneTimeout)
	defer cancel()

	n, err := r.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("retention prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("retention prune complete", "removed", n)
	}
}
