package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/audit"
	"penserai/acteon/pkg/executor"
	"penserai/acteon/pkg/provider"
	"penserai/acteon/pkg/rules"
	"penserai/acteon/pkg/state"
)

// Payload flags set by internal re-dispatch paths. Actions carrying
// them already passed quota at their original submission.
var internalDispatchFlags = []string{
	"_scheduled_dispatch",
	"_recurring_dispatch",
	"_group_dispatch",
}

// Config tunes the dispatch pipeline.
type Config struct {
	// LockTTL bounds how long a crashed dispatcher can hold an action
	// lock. Default 30 seconds.
	LockTTL time.Duration

	// LockTimeout bounds how long Dispatch waits for the per-action
	// lock. Default 10 seconds.
	LockTimeout time.Duration

	// DedupTTL is the dedup marker lifetime when a rule does not set
	// one. Default 5 minutes.
	DedupTTL time.Duration

	// BatchWorkers bounds DispatchBatch concurrency. Default 32.
	BatchWorkers int

	// AsyncAudit writes audit records on a background goroutine.
	AsyncAudit bool

	// QuotaCacheTTL bounds quota policy staleness. Default 60 seconds.
	QuotaCacheTTL time.Duration

	// ApprovalTTL is the pending approval lifetime when a rule does
	// not set one. Default 1 hour.
	ApprovalTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 5 * time.Minute
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 32
	}
	if c.QuotaCacheTTL <= 0 {
		c.QuotaCacheTTL = time.Minute
	}
	if c.ApprovalTTL <= 0 {
		c.ApprovalTTL = time.Hour
	}
}

// Gateway runs the dispatch pipeline.
type Gateway struct {
	cfg      Config
	store    state.Store
	lock     state.Lock
	engine   *rules.Engine
	registry *provider.Registry
	exec     *executor.Executor
	audits   audit.Store
	metrics  *metrics
	logger   *slog.Logger
	clock    func() time.Time

	enricher  Enricher
	handlers  map[string]Handler
	loadRules func() ([]*rules.Rule, error)

	// retentionTTL, when positive, stamps audit records with an expiry.
	retentionTTL time.Duration

	qmu    sync.Mutex
	qcache map[string]cachedPolicy

	rmu    sync.Mutex
	rcache map[string]cachedRetention

	wg sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock injects the pipeline time source.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithEnricher installs the pre-evaluation enrichment hook.
func WithEnricher(e Enricher) Option {
	return func(g *Gateway) { g.enricher = e }
}

// WithHandler registers a named custom rule handler.
func WithHandler(name string, h Handler) Option {
	return func(g *Gateway) { g.handlers[name] = h }
}

// WithMetricsRegisterer registers the gateway collectors on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) { g.metrics = newMetrics(reg) }
}

// WithRulesLoader installs the source ReloadRules reads from.
func WithRulesLoader(load func() ([]*rules.Rule, error)) Option {
	return func(g *Gateway) { g.loadRules = load }
}

// WithAuditRetention stamps every audit record to expire after ttl.
func WithAuditRetention(ttl time.Duration) Option {
	return func(g *Gateway) { g.retentionTTL = ttl }
}

// New creates a Gateway.
func New(cfg Config, store state.Store, lock state.Lock, engine *rules.Engine,
	registry *provider.Registry, exec *executor.Executor, audits audit.Store,
	opts ...Option) *Gateway {

	cfg.applyDefaults()
	g := &Gateway{
		cfg:      cfg,
		store:    store,
		lock:     lock,
		engine:   engine,
		registry: registry,
		exec:     exec,
		audits:   audits,
		logger:   slog.Default(),
		clock:    time.Now,
		handlers: make(map[string]Handler),
		qcache:   make(map[string]cachedPolicy),
		rcache:   make(map[string]cachedRetention),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = newMetrics(nil)
	}
	return g
}

// Dispatch runs the full pipeline and returns the single outcome.
func (g *Gateway) Dispatch(ctx context.Context, act *action.Action) (*action.Outcome, error) {
	return g.dispatch(ctx, act, false)
}

// DispatchDryRun evaluates the pipeline without executing, writing
// state or counting quota, and reports the verdict that would apply.
func (g *Gateway) DispatchDryRun(ctx context.Context, act *action.Action) (*action.Outcome, error) {
	return g.dispatch(ctx, act, true)
}

// ReloadRules reloads the rule set from the configured loader and
// installs it atomically. The previous set stays active on failure.
func (g *Gateway) ReloadRules() error {
	if g.loadRules == nil {
		return fmt.Errorf("no rules loader configured")
	}
	rs, err := g.loadRules()
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	g.engine.ReplaceRules(rs)
	return nil
}

// Close waits for in-flight background audit writes.
func (g *Gateway) Close() error {
	g.wg.Wait()
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, act *action.Action, dry bool) (*action.Outcome, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}

	start := g.clock()
	g.metrics.dispatched.Inc()
	defer func() {
		g.metrics.duration.Observe(g.clock().Sub(start).Seconds())
	}()

	lockName := "dispatch:" + act.Key().LockKey()
	guard, err := g.lock.Acquire(ctx, lockName, g.cfg.LockTTL, g.cfg.LockTimeout)
	if err != nil {
		var lt *state.LockTimeoutError
		if errors.As(err, &lt) {
			g.metrics.lockTimeouts.Inc()
			g.logger.Warn("dispatch lock timeout", "action_id", act.ID, "lock", lockName)
		}
		return nil, err
	}
	defer guard.Release(context.WithoutCancel(ctx))

	if !dry && !internalDispatch(act) {
		if outcome := g.checkQuota(ctx, act); outcome != nil {
			g.finish(ctx, act, nil, outcome, start)
			return outcome, nil
		}
	}

	if g.enricher != nil {
		if err := g.enricher.Enrich(ctx, act); err != nil {
			return nil, &EnrichmentError{ActionID: act.ID, Err: err}
		}
	}

	verdict, err := g.engine.Evaluate(ctx, act)
	if err != nil {
		return nil, err
	}

	var outcome *action.Outcome
	if dry {
		outcome = action.DryRun(string(verdict.Action.Type))
	} else {
		outcome, err = g.applyVerdict(ctx, act, verdict)
		if err != nil {
			return nil, err
		}
	}

	g.finish(ctx, act, verdict, outcome, start)
	return outcome, nil
}

func (g *Gateway) applyVerdict(ctx context.Context, act *action.Action, verdict *rules.Verdict) (*action.Outcome, error) {
	switch verdict.Action.Type {
	case rules.ActionAllow:
		return g.execute(ctx, act, act.Provider), nil

	case rules.ActionDeny, rules.ActionSuppress:
		return action.Suppressed(verdict.Rule), nil

	case rules.ActionDeduplicate:
		ttl := g.cfg.DedupTTL
		if verdict.Action.TTLSeconds > 0 {
			ttl = time.Duration(verdict.Action.TTLSeconds) * time.Second
		}
		key := state.DedupKey(act.Namespace, act.Tenant, act.DedupIdentity())
		created, err := g.store.CheckAndSet(ctx, key, act.ID, ttl)
		if err != nil {
			return nil, err
		}
		if !created {
			return action.Deduplicated(), nil
		}
		return g.execute(ctx, act, act.Provider), nil

	case rules.ActionReroute:
		out := g.execute(ctx, act, verdict.Action.Target)
		if out.Kind != action.KindExecuted {
			return out, nil
		}
		rerouted := action.Rerouted(act.Provider, verdict.Action.Target, out.Response)
		rerouted.Rule = verdict.Rule
		return rerouted, nil

	case rules.ActionThrottle:
		return g.applyThrottle(ctx, act, verdict)

	case rules.ActionCustom:
		return g.applyCustom(ctx, act, verdict)

	case rules.ActionRequestApproval:
		return g.applyApproval(ctx, act, verdict)

	default:
		return nil, fmt.Errorf("unhandled rule action %q from rule %q", verdict.Action.Type, verdict.Rule)
	}
}

// applyThrottle counts the action against an epoch-aligned window
// counter scoped to the throttling rule. The counted unit is the
// dispatch attempt, so throttled attempts consume the window too.
func (g *Gateway) applyThrottle(ctx context.Context, act *action.Action, verdict *rules.Verdict) (*action.Outcome, error) {
	window := verdict.Action.WindowSeconds
	if window <= 0 {
		window = 60
	}
	now := g.clock()
	bucket := now.Unix() / window
	key := state.NewKey(act.Namespace, act.Tenant, state.KindCounter,
		"throttle:"+verdict.Rule+":"+strconv.FormatInt(bucket, 10))

	n, err := g.store.Increment(ctx, key, 1, time.Duration(window)*time.Second)
	if err != nil {
		return nil, err
	}
	if n > verdict.Action.MaxCount {
		retryAfter := time.Duration(window-now.Unix()%window) * time.Second
		return action.Throttled(verdict.Rule, retryAfter), nil
	}
	return g.execute(ctx, act, act.Provider), nil
}

func (g *Gateway) applyCustom(ctx context.Context, act *action.Action, verdict *rules.Verdict) (*action.Outcome, error) {
	h, ok := g.handlers[verdict.Action.Handler]
	if !ok {
		return action.Failed(&action.ExecError{
			Code:    "HANDLER_NOT_FOUND",
			Message: fmt.Sprintf("no handler %q registered for rule %q", verdict.Action.Handler, verdict.Rule),
		}), nil
	}

	res, err := h.Invoke(ctx, verdict.Action.Handler, verdict.Action.Params, act)
	if err != nil {
		return action.Failed(&action.ExecError{
			Code:     "HANDLER_ERROR",
			Message:  err.Error(),
			Attempts: 1,
		}), nil
	}
	if !res.Allow {
		return action.Suppressed(verdict.Rule), nil
	}
	return g.execute(ctx, act, act.Provider), nil
}

// applyApproval parks the action under an approval key and notifies
// the configured provider when one is set. Notification failure does
// not fail the dispatch; the approval record is authoritative.
func (g *Gateway) applyApproval(ctx context.Context, act *action.Action, verdict *rules.Verdict) (*action.Outcome, error) {
	ttl := g.cfg.ApprovalTTL
	if verdict.Action.TimeoutSeconds > 0 {
		ttl = time.Duration(verdict.Action.TimeoutSeconds) * time.Second
	}

	approvalID := uuid.NewString()
	record, err := json.Marshal(map[string]any{
		"action_id": act.ID,
		"rule":      verdict.Rule,
		"message":   verdict.Action.Message,
		"payload":   json.RawMessage(act.Payload),
		"requested": g.clock().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	key := state.NewKey(act.Namespace, act.Tenant, state.KindApproval, approvalID)
	if err := g.store.Set(ctx, key, string(record), ttl); err != nil {
		return nil, err
	}

	if verdict.Action.NotifyProvider != "" {
		if p, ok := g.registry.Get(verdict.Action.NotifyProvider); ok {
			notice := action.New(act.Namespace, act.Tenant, verdict.Action.NotifyProvider,
				"approval_request", record)
			if out := g.exec.Execute(ctx, notice, p); out.Kind != action.KindExecuted {
				g.logger.Warn("approval notification failed",
					"action_id", act.ID,
					"approval_id", approvalID,
					"provider", verdict.Action.NotifyProvider)
			}
		}
	}

	return action.PendingApproval(verdict.Rule, approvalID), nil
}

func (g *Gateway) execute(ctx context.Context, act *action.Action, providerName string) *action.Outcome {
	p, ok := g.registry.Get(providerName)
	if !ok {
		return action.Failed(&action.ExecError{
			Code:    string(provider.KindNotFound),
			Message: fmt.Sprintf("provider %q is not registered", providerName),
		})
	}
	return g.exec.Execute(ctx, act, p)
}

// finish records metrics and the audit record for a completed dispatch.
func (g *Gateway) finish(ctx context.Context, act *action.Action, verdict *rules.Verdict, outcome *action.Outcome, start time.Time) {
	g.metrics.outcomes.WithLabelValues(string(outcome.Kind)).Inc()

	rec := g.buildRecord(ctx, act, verdict, outcome, start)
	if g.cfg.AsyncAudit {
		bg := context.WithoutCancel(ctx)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := g.audits.Record(bg, rec); err != nil {
				g.logger.Error("audit write failed", "action_id", act.ID, "error", err)
			}
		}()
		return
	}
	if err := g.audits.Record(ctx, rec); err != nil {
		g.logger.Error("audit write failed", "action_id", act.ID, "error", err)
	}
}

func (g *Gateway) buildRecord(ctx context.Context, act *action.Action, verdict *rules.Verdict, outcome *action.Outcome, start time.Time) *audit.Record {
	now := g.clock()

	rec := audit.NewRecord()
	rec.ActionID = act.ID
	rec.Namespace = act.Namespace
	rec.Tenant = act.Tenant
	rec.Provider = act.Provider
	rec.ActionType = act.ActionType
	rec.Outcome = string(outcome.Kind)
	rec.Payload = string(act.Payload)
	rec.Metadata = act.Metadata
	rec.DispatchedAt = start.UTC()
	rec.CompletedAt = now.UTC()
	rec.DurationMS = now.Sub(start).Milliseconds()

	// Dispatches that terminate before rule evaluation (quota block,
	// scheduling) have no verdict; the field stays empty rather than
	// masquerading as an allow.
	if verdict != nil {
		rec.Verdict = string(verdict.Action.Type)
		rec.MatchedRule = verdict.Rule
		if details, err := json.Marshal(verdict.Action); err == nil {
			rec.VerdictDetails = string(details)
		}
	}
	if details, err := json.Marshal(outcome); err == nil {
		rec.OutcomeDetails = string(details)
	}

	ttl := g.retentionTTL
	if pol := g.retentionPolicyCached(ctx, act.Namespace, act.Tenant); pol != nil {
		ttl = pol.TTL()
	}
	if ttl > 0 {
		expires := now.UTC().Add(ttl)
		rec.ExpiresAt = &expires
	}
	return rec
}

func internalDispatch(act *action.Action) bool {
	for _, flag := range internalDispatchFlags {
		if gjson.GetBytes(act.Payload, flag).Bool() {
			return true
		}
	}
	return false
}
