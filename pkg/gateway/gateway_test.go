package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/audit"
	"penserai/acteon/pkg/executor"
	"penserai/acteon/pkg/provider"
	"penserai/acteon/pkg/quota"
	"penserai/acteon/pkg/rules"
	"penserai/acteon/pkg/state"
	"penserai/acteon/pkg/state/memstate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingProvider counts executions and remembers the last action.
type recordingProvider struct {
	name  string
	calls atomic.Int64
	fail  error

	mu   sync.Mutex
	last *action.Action
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Execute(_ context.Context, act *action.Action) (*action.ProviderResponse, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.last = act
	p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	return &action.ProviderResponse{Status: action.StatusSuccess, Body: "delivered"}, nil
}

func (p *recordingProvider) HealthCheck(context.Context) error { return nil }

type testEnv struct {
	store  *memstate.Store
	lock   *memstate.Lock
	engine *rules.Engine
	audits *audit.MemoryStore
	prov   *recordingProvider
	clock  *fakeClock
	gw     *Gateway
}

func newTestEnv(t *testing.T, cfg Config, ruleSet []*rules.Rule, opts ...Option) *testEnv {
	t.Helper()

	clock := newFakeClock(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	store := memstate.New(memstate.Config{}, memstate.WithClock(clock.Now))
	t.Cleanup(func() { store.Close() })

	engine := rules.New(store, rules.WithClock(clock.Now))
	engine.ReplaceRules(ruleSet)

	registry := provider.NewRegistry()
	prov := &recordingProvider{name: "email"}
	require.NoError(t, registry.Register(prov))

	exec := executor.New(executor.Config{Strategy: executor.FixedDelay{Delay: time.Millisecond}}, nil)
	audits := audit.NewMemoryStore()
	lock := memstate.NewLock()

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	gw := New(cfg, store, lock, engine, registry, exec, audits, opts...)
	t.Cleanup(func() { gw.Close() })

	return &testEnv{
		store:  store,
		lock:   lock,
		engine: engine,
		audits: audits,
		prov:   prov,
		clock:  clock,
		gw:     gw,
	}
}

func newAction(payload string) *action.Action {
	if payload == "" {
		payload = `{"severity":"high"}`
	}
	return action.New("alerts", "acme", "email", "notify", json.RawMessage(payload))
}

func severityIs(value string) rules.Expr {
	return &rules.Binary{
		Op: rules.OpEq,
		L:  &rules.Field{X: &rules.Field{X: &rules.Ident{Name: "action"}, Name: "payload"}, Name: "severity"},
		R:  &rules.Lit{Value: value},
	}
}

func matchAll() rules.Expr { return &rules.Lit{Value: true} }

func TestDispatchAllowExecutes(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	out, err := env.gw.Dispatch(context.Background(), newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindExecuted, out.Kind)
	assert.Equal(t, "delivered", out.Response.Body)
	assert.EqualValues(t, 1, env.prov.calls.Load())

	recs, err := env.audits.Query(context.Background(), &audit.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "executed", recs[0].Outcome)
	assert.Equal(t, "allow", recs[0].Verdict)
}

func TestDispatchDedupCycle(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "dedup-incidents",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionDeduplicate, TTLSeconds: 60},
	}}
	env := newTestEnv(t, Config{}, ruleSet)
	ctx := context.Background()

	first, err := env.gw.Dispatch(ctx, newAction("").WithDedupKey("incident-1"))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, first.Kind)

	second, err := env.gw.Dispatch(ctx, newAction("").WithDedupKey("incident-1"))
	require.NoError(t, err)
	assert.Equal(t, action.KindDeduplicated, second.Kind)
	assert.EqualValues(t, 1, env.prov.calls.Load())

	// The marker expires with its TTL and the next dispatch executes.
	env.clock.Advance(61 * time.Second)
	third, err := env.gw.Dispatch(ctx, newAction("").WithDedupKey("incident-1"))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, third.Kind)
	assert.EqualValues(t, 2, env.prov.calls.Load())
}

func TestDispatchSuppress(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	env := newTestEnv(t, Config{}, ruleSet)

	out, err := env.gw.Dispatch(context.Background(), newAction(`{"severity":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, action.KindSuppressed, out.Kind)
	assert.Equal(t, "drop-low", out.Rule)
	assert.Zero(t, env.prov.calls.Load())
}

func TestDispatchReroute(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "page-on-critical",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("critical"),
		Action:    rules.RuleAction{Type: rules.ActionReroute, Target: "pager"},
	}}
	env := newTestEnv(t, Config{}, ruleSet)

	pager := &recordingProvider{name: "pager"}
	require.NoError(t, env.gw.registry.Register(pager))

	out, err := env.gw.Dispatch(context.Background(), newAction(`{"severity":"critical"}`))
	require.NoError(t, err)
	require.Equal(t, action.KindRerouted, out.Kind)
	assert.Equal(t, "email", out.From)
	assert.Equal(t, "pager", out.To)
	assert.EqualValues(t, 1, pager.calls.Load())
	assert.Zero(t, env.prov.calls.Load())
}

func TestDispatchThrottle(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "rate-limit",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionThrottle, MaxCount: 3, WindowSeconds: 60},
	}}
	env := newTestEnv(t, Config{}, ruleSet)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := env.gw.Dispatch(ctx, newAction(""))
		require.NoError(t, err)
		require.Equal(t, action.KindExecuted, out.Kind, "dispatch %d", i+1)
	}

	out, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindThrottled, out.Kind)
	assert.Equal(t, "rate-limit", out.Rule)
	assert.Greater(t, out.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, out.RetryAfter, 60*time.Second)

	// A fresh window admits traffic again.
	env.clock.Advance(61 * time.Second)
	out, err = env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, out.Kind)
}

func TestDispatchQuotaBlock(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, env.gw.SetQuotaPolicy(ctx, &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 2,
		Window:     quota.Hourly(),
		Overage:    quota.Overage{Behavior: quota.OverageBlock},
		Enabled:    true,
	}))

	kinds := make([]action.OutcomeKind, 0, 3)
	for i := 0; i < 3; i++ {
		out, err := env.gw.Dispatch(ctx, newAction(""))
		require.NoError(t, err)
		kinds = append(kinds, out.Kind)
	}
	assert.Equal(t, []action.OutcomeKind{
		action.KindExecuted, action.KindExecuted, action.KindQuotaExceeded,
	}, kinds)

	// The blocked attempt was rolled back, leaving the counter at the
	// limit.
	key := quota.CounterKey("alerts", "acme", quota.Hourly(), env.clock.Now())
	val, ok, err := env.store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", val)
}

func TestDispatchQuotaWarnAllows(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, env.gw.SetQuotaPolicy(ctx, &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 1,
		Window:     quota.Hourly(),
		Overage:    quota.Overage{Behavior: quota.OverageWarn},
		Enabled:    true,
	}))

	for i := 0; i < 3; i++ {
		out, err := env.gw.Dispatch(ctx, newAction(""))
		require.NoError(t, err)
		assert.Equal(t, action.KindExecuted, out.Kind)
	}
}

func TestDispatchQuotaDegradeCarriesFallback(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, env.gw.SetQuotaPolicy(ctx, &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 1,
		Window:     quota.Hourly(),
		Overage:    quota.Overage{Behavior: quota.OverageDegrade, Fallback: "sms"},
		Enabled:    true,
	}))

	_, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)

	out, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindQuotaExceeded, out.Kind)
	assert.Equal(t, "degrade:sms", out.Quota.Behavior)
}

func TestDispatchDryRun(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	env := newTestEnv(t, Config{}, ruleSet)

	out, err := env.gw.DispatchDryRun(context.Background(), newAction(`{"severity":"low"}`))
	require.NoError(t, err)
	require.Equal(t, action.KindDryRun, out.Kind)
	assert.Equal(t, "suppress", out.Verdict)
	assert.Zero(t, env.prov.calls.Load())
}

func TestDispatchCustomHandler(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "escalation-gate",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionCustom, Handler: "oncall", Params: map[string]string{"team": "sre"}},
	}}

	var allow atomic.Bool
	handler := HandlerFunc(func(_ context.Context, fn string, params map[string]string, _ *action.Action) (*HandlerResult, error) {
		if fn != "oncall" || params["team"] != "sre" {
			return nil, fmt.Errorf("unexpected invocation %s %v", fn, params)
		}
		return &HandlerResult{Allow: allow.Load()}, nil
	})
	env := newTestEnv(t, Config{}, ruleSet, WithHandler("oncall", handler))
	ctx := context.Background()

	out, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	assert.Equal(t, action.KindSuppressed, out.Kind)

	allow.Store(true)
	out, err = env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, out.Kind)
}

func TestDispatchMissingHandlerFails(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "escalation-gate",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionCustom, Handler: "absent"},
	}}
	env := newTestEnv(t, Config{}, ruleSet)

	out, err := env.gw.Dispatch(context.Background(), newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindFailed, out.Kind)
	assert.Equal(t, "HANDLER_NOT_FOUND", out.Failure.Code)
}

func TestDispatchMissingProvider(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	act := action.New("alerts", "acme", "nope", "notify", nil)
	out, err := env.gw.Dispatch(context.Background(), act)
	require.NoError(t, err)
	require.Equal(t, action.KindFailed, out.Kind)
	assert.Equal(t, string(provider.KindNotFound), out.Failure.Code)
	assert.False(t, out.Failure.Retryable)
}

func TestDispatchLockTimeout(t *testing.T) {
	env := newTestEnv(t, Config{LockTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	act := newAction("")
	lockName := "dispatch:" + act.Key().LockKey()
	guard, err := env.lock.TryAcquire(ctx, lockName, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, guard)
	defer guard.Release(ctx)

	_, err = env.gw.Dispatch(ctx, act)
	var lt *state.LockTimeoutError
	require.ErrorAs(t, err, &lt)
	assert.True(t, lt.Retryable())
}

func TestConcurrentDedupSingleExecution(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "dedup-incidents",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionDeduplicate, TTLSeconds: 300},
	}}
	env := newTestEnv(t, Config{}, ruleSet)

	const n = 16
	outcomes := make([]*action.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := env.gw.Dispatch(context.Background(), newAction("").WithDedupKey("storm"))
			if err == nil {
				outcomes[i] = out
			}
		}(i)
	}
	wg.Wait()

	var executed int
	for _, out := range outcomes {
		require.NotNil(t, out)
		if out.Kind == action.KindExecuted {
			executed++
		} else {
			assert.Equal(t, action.KindDeduplicated, out.Kind)
		}
	}
	assert.Equal(t, 1, executed)
	assert.EqualValues(t, 1, env.prov.calls.Load())
}

func TestDispatchBatchPreservesOrder(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	env := newTestEnv(t, Config{BatchWorkers: 4}, ruleSet)

	acts := []*action.Action{
		newAction(`{"severity":"high"}`),
		newAction(`{"severity":"low"}`),
		newAction(`{"severity":"high"}`),
	}
	results := env.gw.DispatchBatch(context.Background(), acts)
	require.Len(t, results, 3)

	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Same(t, acts[i], res.Action)
	}
	assert.Equal(t, action.KindExecuted, results[0].Outcome.Kind)
	assert.Equal(t, action.KindSuppressed, results[1].Outcome.Kind)
	assert.Equal(t, action.KindExecuted, results[2].Outcome.Kind)
}

func TestAuditRecordContents(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	env := newTestEnv(t, Config{}, ruleSet, WithAuditRetention(24*time.Hour))
	ctx := context.Background()

	act := newAction(`{"severity":"low"}`).WithMetadata("source", "api")
	_, err := env.gw.Dispatch(ctx, act)
	require.NoError(t, err)

	recs, err := env.audits.Query(ctx, &audit.Query{ActionID: act.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "suppress", rec.Verdict)
	assert.Equal(t, "drop-low", rec.MatchedRule)
	assert.Equal(t, "suppressed", rec.Outcome)
	assert.Equal(t, "api", rec.Metadata["source"])
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), *rec.ExpiresAt)
}

func TestEnricherHardError(t *testing.T) {
	boom := errors.New("template missing")
	env := newTestEnv(t, Config{}, nil, WithEnricher(EnricherFunc(
		func(context.Context, *action.Action) error { return boom })))

	_, err := env.gw.Dispatch(context.Background(), newAction(""))
	var ee *EnrichmentError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, env.prov.calls.Load())
}

func TestEnricherMutationVisibleToRules(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	env := newTestEnv(t, Config{}, ruleSet, WithEnricher(EnricherFunc(
		func(_ context.Context, act *action.Action) error {
			act.Payload = json.RawMessage(`{"severity":"low"}`)
			return nil
		})))

	out, err := env.gw.Dispatch(context.Background(), newAction(`{"severity":"high"}`))
	require.NoError(t, err)
	assert.Equal(t, action.KindSuppressed, out.Kind)
}

func TestDispatchPendingApproval(t *testing.T) {
	ruleSet := []*rules.Rule{{
		Name:      "manual-gate",
		Priority:  10,
		Enabled:   true,
		Condition: matchAll(),
		Action:    rules.RuleAction{Type: rules.ActionRequestApproval, Message: "needs sign-off", TimeoutSeconds: 600},
	}}
	env := newTestEnv(t, Config{}, ruleSet)
	ctx := context.Background()

	out, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindPendingApproval, out.Kind)
	assert.Equal(t, "manual-gate", out.Rule)
	require.NotEmpty(t, out.ApprovalID)
	assert.Zero(t, env.prov.calls.Load())

	keys, err := env.store.ScanKeys(ctx, "alerts", "acme", state.KindApproval, "")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, out.ApprovalID, keys[0].ID)
}

func TestInternalDispatchSkipsQuota(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, env.gw.SetQuotaPolicy(ctx, &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 1,
		Window:     quota.Hourly(),
		Overage:    quota.Overage{Behavior: quota.OverageBlock},
		Enabled:    true,
	}))

	_, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)

	out, err := env.gw.Dispatch(ctx, newAction(`{"severity":"high","_scheduled_dispatch":true}`))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, out.Kind)
}

func TestQuotaPolicyCRUD(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	pol := &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 10,
		Window:     quota.Daily(),
		Overage:    quota.Overage{Behavior: quota.OverageBlock},
		Enabled:    true,
	}
	require.NoError(t, env.gw.SetQuotaPolicy(ctx, pol))
	require.NotEmpty(t, pol.ID)

	got, err := env.gw.GetQuotaPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pol.ID, got.ID)
	assert.EqualValues(t, 10, got.MaxActions)

	existed, err := env.gw.DeleteQuotaPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	assert.True(t, existed)

	got, err = env.gw.GetQuotaPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	existed, err = env.gw.DeleteQuotaPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestReloadRules(t *testing.T) {
	var current []*rules.Rule
	var mu sync.Mutex

	env := newTestEnv(t, Config{}, nil, WithRulesLoader(func() ([]*rules.Rule, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}))
	ctx := context.Background()

	out, err := env.gw.Dispatch(ctx, newAction(`{"severity":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, action.KindExecuted, out.Kind)

	mu.Lock()
	current = []*rules.Rule{{
		Name:      "drop-low",
		Priority:  10,
		Enabled:   true,
		Condition: severityIs("low"),
		Action:    rules.RuleAction{Type: rules.ActionSuppress},
	}}
	mu.Unlock()
	require.NoError(t, env.gw.ReloadRules())

	out, err = env.gw.Dispatch(ctx, newAction(`{"severity":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, action.KindSuppressed, out.Kind)
}

func TestAsyncAuditEventuallyWritten(t *testing.T) {
	env := newTestEnv(t, Config{AsyncAudit: true}, nil)

	_, err := env.gw.Dispatch(context.Background(), newAction(""))
	require.NoError(t, err)
	require.NoError(t, env.gw.Close())

	assert.Equal(t, 1, env.audits.Len())
}

func TestQuotaExceededAuditHasNoVerdict(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, env.gw.SetQuotaPolicy(ctx, &quota.Policy{
		Namespace:  "alerts",
		Tenant:     "acme",
		MaxActions: 1,
		Window:     quota.Hourly(),
		Overage:    quota.Overage{Behavior: quota.OverageBlock},
		Enabled:    true,
	}))

	_, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	out, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)
	require.Equal(t, action.KindQuotaExceeded, out.Kind)

	// No rule evaluation happened, so the record carries no verdict.
	recs, err := env.audits.Query(ctx, &audit.Query{Outcome: "quota_exceeded"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "", recs[0].Verdict)
	assert.Equal(t, "", recs[0].MatchedRule)
}
