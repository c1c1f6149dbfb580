package rules

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penserai/acteon/pkg/state/memstate"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	store := memstate.New(memstate.Config{CleanupInterval: time.Hour})
	t.Cleanup(func() { store.Close() })
	return New(store, opts...)
}

func typeIs(actionType string) Expr {
	return &Binary{Op: OpEq, L: fieldPath("action", "action_type"), R: &Lit{Value: actionType}}
}

func TestFirstMatchByPriorityAndOrder(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "late", Priority: 20, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
		{Name: "early", Priority: 5, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionSuppress}},
		{Name: "tie-first", Priority: 10, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionAllow}},
		{Name: "tie-second", Priority: 10, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "early", v.Rule)
	assert.Equal(t, ActionSuppress, v.Action.Type)
}

func TestPriorityTieBrokenByDeclarationOrder(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "declared-first", Priority: 10, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionSuppress}},
		{Name: "declared-second", Priority: 10, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "declared-first", v.Rule)
}

func TestNoMatchDefaultsToAllow(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "never", Priority: 1, Enabled: true, Condition: &Lit{Value: false}, Action: RuleAction{Type: ActionDeny}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "", v.Rule)
	assert.Equal(t, ActionAllow, v.Action.Type)
}

func TestDisabledRulesSkipped(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "off", Priority: 1, Enabled: false, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
		{Name: "on", Priority: 2, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionSuppress}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "on", v.Rule)
}

func TestMalformedRuleDoesNotAbortPass(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "broken", Priority: 1, Enabled: true,
			Condition: &Binary{Op: OpDiv, L: &Lit{Value: int64(1)}, R: &Lit{Value: int64(0)}},
			Action:    RuleAction{Type: ActionDeny}},
		{Name: "healthy", Priority: 2, Enabled: true, Condition: typeIs("send_email"), Action: RuleAction{Type: ActionSuppress}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "healthy", v.Rule)
}

func TestModifyIsNonTerminal(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "escalate", Priority: 1, Enabled: true, Condition: typeIs("send_email"),
			Action: RuleAction{Type: ActionModify, Changes: json.RawMessage(`{"severity":"critical","extra":{"escalated":true},"score":null}`)}},
		{Name: "route-critical", Priority: 2, Enabled: true,
			Condition: &Binary{Op: OpEq, L: fieldPath("action", "payload", "severity"), R: &Lit{Value: "critical"}},
			Action:    RuleAction{Type: ActionReroute, Target: "pagerduty"}},
	})

	act := testAction()
	v, err := e.Evaluate(context.Background(), act)
	require.NoError(t, err)

	// The Modify rule mutated the payload and a later rule fired on the
	// mutated value.
	assert.Equal(t, "route-critical", v.Rule)
	assert.Equal(t, ActionReroute, v.Action.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(act.Payload, &payload))
	assert.Equal(t, "critical", payload["severity"])
	assert.Equal(t, map[string]any{"escalated": true}, payload["extra"])
	_, hasScore := payload["score"]
	assert.False(t, hasScore, "null patch value must delete the field")
}

func TestEvaluateTracedIsExhaustive(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "first-match", Priority: 1, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionSuppress}},
		{Name: "also-matches", Priority: 2, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
		{Name: "no-match", Priority: 3, Enabled: true, Condition: &Lit{Value: false}, Action: RuleAction{Type: ActionDeny}},
		{Name: "off", Priority: 4, Enabled: false, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionDeny}},
	})

	v, trace, err := e.EvaluateTraced(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "first-match", v.Rule)

	require.Len(t, trace.Entries, 4)
	assert.Equal(t, StatusMatched, trace.Entries[0].Status)
	assert.True(t, trace.Entries[0].Terminal)
	assert.Equal(t, StatusMatched, trace.Entries[1].Status)
	assert.False(t, trace.Entries[1].Terminal)
	assert.Equal(t, StatusNotMatched, trace.Entries[2].Status)
	assert.Equal(t, StatusSkipped, trace.Entries[3].Status)
}

func TestVersionChangesOnReloadAndToggle(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "a", Priority: 1, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionAllow}},
	})
	v1 := e.Version()

	require.True(t, e.SetEnabled("a", false))
	v2 := e.Version()
	assert.NotEqual(t, v1, v2)

	e.ReplaceRules([]*Rule{
		{Name: "a", Priority: 1, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionAllow}},
		{Name: "b", Priority: 2, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionAllow}},
	})
	assert.NotEqual(t, v2, e.Version())
}

func TestSetEnabledDoesNotMutateSnapshots(t *testing.T) {
	e := newTestEngine(t)
	e.ReplaceRules([]*Rule{
		{Name: "toggle-me", Priority: 1, Enabled: true, Condition: &Lit{Value: true}, Action: RuleAction{Type: ActionSuppress}},
	})

	before := e.Rules()[0]
	require.True(t, e.SetEnabled("toggle-me", false))

	// The rule captured before the toggle keeps its old state; the
	// installed set carries the new one.
	assert.True(t, before.Enabled)
	assert.False(t, e.Rules()[0].Enabled)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := e.Evaluate(context.Background(), testAction()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		e.SetEnabled("toggle-me", i%2 == 0)
	}
	wg.Wait()
}

func TestClockOverrideForReplay(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return frozen }))
	e.ReplaceRules([]*Rule{
		{Name: "night-window", Priority: 1, Enabled: true,
			Condition: &Binary{Op: OpLt, L: fieldPath("time", "hour"), R: &Lit{Value: int64(6)}},
			Action:    RuleAction{Type: ActionSuppress}},
	})

	v, err := e.Evaluate(context.Background(), testAction())
	require.NoError(t, err)
	assert.Equal(t, "night-window", v.Rule)
}
