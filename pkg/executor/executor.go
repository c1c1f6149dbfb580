package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/provider"
)

// Config tunes the executor.
type Config struct {
	// MaxConcurrent bounds simultaneous executions. Zero selects 16.
	MaxConcurrent int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Timeout bounds each attempt. Zero selects 30 seconds.
	Timeout time.Duration

	// Strategy computes retry delays. Nil selects exponential backoff
	// with jitter.
	Strategy Strategy
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Strategy == nil {
		c.Strategy = ExponentialBackoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: true}
	}
}

// Executor executes actions with retry and a concurrency bound.
type Executor struct {
	cfg    Config
	sem    chan struct{}
	logger *slog.Logger
}

// New creates an executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		logger: logger,
	}
}

// Execute runs the action against the provider, retrying retryable
// failures per the configured strategy. The returned outcome is always
// Executed or Failed; executor never surfaces a Go error for a
// provider failure.
func (e *Executor) Execute(ctx context.Context, act *action.Action, p provider.Provider) *action.Outcome {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return action.Failed(&action.ExecError{
			Code:      string(provider.KindTimeout),
			Message:   ctx.Err().Error(),
			Retryable: true,
		})
	}

	var lastErr *provider.Error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		resp, err := e.attempt(ctx, act, p)
		if err == nil {
			return action.Executed(resp)
		}

		perr := provider.Classify(err)
		lastErr = perr

		if !perr.Retryable() || attempt == e.cfg.MaxRetries {
			e.logger.Warn("action execution failed",
				"action_id", act.ID,
				"provider", p.Name(),
				"attempt", attempt+1,
				"retryable", perr.Retryable(),
				"error", perr)
			return failedOutcome(perr, attempt+1)
		}

		delay := e.cfg.Strategy.DelayFor(attempt)
		e.logger.Debug("retrying action execution",
			"action_id", act.ID,
			"provider", p.Name(),
			"attempt", attempt+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failedOutcome(provider.Wrap(provider.KindTimeout, ctx.Err(), "cancelled during backoff"), attempt+1)
		case <-timer.C:
		}
	}

	// Unreachable unless MaxRetries is negative; keep a sane fallback.
	return failedOutcome(lastErr, e.cfg.MaxRetries+1)
}

func (e *Executor) attempt(ctx context.Context, act *action.Action, p provider.Provider) (*action.ProviderResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := p.Execute(attemptCtx, act)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.Wrap(provider.KindTimeout, err, "attempt timed out")
		}
		return nil, err
	}
	return resp, nil
}

func failedOutcome(perr *provider.Error, attempts int) *action.Outcome {
	if perr == nil {
		perr = provider.Errorf(provider.KindExecutionFailed, "no attempts made")
	}
	return action.Failed(&action.ExecError{
		Code:      string(perr.Kind),
		Message:   perr.Message,
		Retryable: perr.Retryable(),
		Attempts:  attempts,
	})
}
