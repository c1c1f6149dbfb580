package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthResult is the outcome of one provider health check.
type HealthResult struct {
	// Healthy is true when the provider's HealthCheck returned nil.
	Healthy bool `json:"healthy"`

	// Message carries the failure detail for unhealthy providers.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ms"`

	// CheckedAt is when the check completed.
	CheckedAt time.Time `json:"checked_at"`
}

// HealthMonitor periodically checks every registered provider and
// keeps the latest result per provider. Dispatch does not consult it;
// it exists for operators and degraded-provider alerting.
type HealthMonitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	results map[string]HealthResult

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHealthMonitor creates a monitor over the registry. An interval of
// zero selects 30 seconds, a timeout of zero 5 seconds per check.
func NewHealthMonitor(registry *Registry, interval, timeout time.Duration, logger *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "provider.health"),
		results:  make(map[string]HealthResult),
		done:     make(chan struct{}),
	}
}

// Start launches the check loop. The first pass runs immediately.
func (m *HealthMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.CheckAll(context.Background())

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.CheckAll(context.Background())
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass.
func (m *HealthMonitor) Stop() {
	close(m.done)
	m.wg.Wait()
}

// CheckAll runs one health check pass over every registered provider
// and returns the fresh results.
func (m *HealthMonitor) CheckAll(ctx context.Context) map[string]HealthResult {
	out := make(map[string]HealthResult)
	for _, name := range m.registry.Names() {
		p, ok := m.registry.Get(name)
		if !ok {
			continue
		}
		res := m.check(ctx, p)
		out[name] = res

		m.mu.Lock()
		prev, had := m.results[name]
		m.results[name] = res
		m.mu.Unlock()

		if had && prev.Healthy != res.Healthy {
			if res.Healthy {
				m.logger.Info("provider recovered", "provider", name)
			} else {
				m.logger.Warn("provider unhealthy", "provider", name, "error", res.Message)
			}
		}
	}
	return out
}

func (m *HealthMonitor) check(ctx context.Context, p Provider) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := p.HealthCheck(checkCtx)
	res := HealthResult{
		Healthy:   err == nil,
		Duration:  time.Since(start),
		CheckedAt: time.Now().UTC(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Result returns the latest stored result for a provider.
func (m *HealthMonitor) Result(name string) (HealthResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[name]
	return res, ok
}
