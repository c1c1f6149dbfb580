package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/state"
)

// Engine holds an ordered rule set and evaluates it against actions.
// The set is replaced atomically on reload; in-flight evaluations keep
// the snapshot they started with.
type Engine struct {
	mu    sync.RWMutex
	rules []*Rule

	store  state.Store
	env    map[string]string
	logger *slog.Logger
	clock  func() time.Time
	tz     *time.Location

	locMu sync.Mutex
	locs  map[string]*time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnv supplies environment lookups exposed as env.* during
// evaluation.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) { e.env = env }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock injects the evaluation time source, used for replay and
// what-if evaluation.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithTimezone sets the default timezone for time.* fields. Individual
// rules may override it.
func WithTimezone(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.tz = loc
		}
	}
}

// New creates an Engine reading state through the given store.
func New(store state.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
		tz:     time.UTC,
		locs:   make(map[string]*time.Location),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReplaceRules installs a new rule set atomically. Rules are stably
// sorted by ascending priority so declaration order breaks ties.
func (e *Engine) ReplaceRules(rules []*Rule) {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()

	e.logger.Info("rule set replaced", "rules", len(sorted), "version", e.Version())
}

// Rules returns the current snapshot in evaluation order.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// SetEnabled toggles a rule by name. The installed set is replaced
// with one carrying a copied, toggled rule; snapshots held by in-flight
// evaluations are never written to.
func (e *Engine) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.Name != name {
			continue
		}
		toggled := *r
		toggled.Enabled = enabled
		toggled.Version++

		next := make([]*Rule, len(e.rules))
		copy(next, e.rules)
		next[i] = &toggled
		e.rules = next
		return true
	}
	return false
}

// Version returns a stable hash of the rule set identity, changing
// whenever a rule is added, removed, toggled or redefined.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := fnv.New64a()
	for _, r := range e.rules {
		fmt.Fprintf(h, "%s|%d|%t;", r.Name, r.Version, r.Enabled)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Evaluate runs the rule set against the action and returns the first
// terminal verdict, or Allow when no rule matches. Per-rule evaluation
// errors are logged and skipped. Modify actions are applied to the
// action payload in place and evaluation continues past them.
func (e *Engine) Evaluate(ctx context.Context, act *action.Action) (*Verdict, error) {
	return e.evaluate(ctx, act, nil)
}

// EvaluateTraced evaluates exhaustively: every rule is evaluated and
// recorded even after a terminal match, which still determines the
// returned verdict.
func (e *Engine) EvaluateTraced(ctx context.Context, act *action.Action) (*Verdict, *Trace, error) {
	trace := &Trace{}
	verdict, err := e.evaluate(ctx, act, trace)
	return verdict, trace, err
}

func (e *Engine) evaluate(ctx context.Context, act *action.Action, trace *Trace) (*Verdict, error) {
	snapshot := e.Rules()

	var verdict *Verdict
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.Enabled {
			trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusSkipped})
			continue
		}

		ec, err := newEvalCtx(act, e.store, e.env, e.clock(), e.ruleLocation(r))
		if err != nil {
			return nil, err
		}

		matched, err := e.evalCondition(ctx, r, ec)
		if err != nil {
			// A malformed rule never aborts the pass.
			e.logger.Warn("rule evaluation error",
				"rule", r.Name,
				"action_id", act.ID,
				"error", err)
			trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusError, Error: err.Error()})
			continue
		}
		if !matched {
			trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusNotMatched})
			continue
		}

		// Modify mutates the payload and lets later rules fire.
		if r.Action.Type == ActionModify && verdict == nil {
			if err := applyModify(act, r.Action.Changes); err != nil {
				e.logger.Warn("modify failed", "rule", r.Name, "error", err)
				trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusError, Error: err.Error()})
				continue
			}
			trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusMatched})
			continue
		}

		trace.add(TraceEntry{Rule: r.Name, Priority: r.Priority, Status: StatusMatched, Terminal: verdict == nil})
		if verdict == nil {
			verdict = &Verdict{Rule: r.Name, Action: r.Action}
			if trace == nil {
				break
			}
		}
	}

	if verdict == nil {
		verdict = AllowVerdict()
	}
	return verdict, nil
}

func (e *Engine) evalCondition(ctx context.Context, r *Rule, ec *evalCtx) (bool, error) {
	if r.Condition == nil {
		return false, evalErrorf("rule %q has no condition", r.Name)
	}
	v, err := eval(ctx, r.Condition, ec)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (e *Engine) ruleLocation(r *Rule) *time.Location {
	if r.Timezone == "" {
		return e.tz
	}
	e.locMu.Lock()
	defer e.locMu.Unlock()
	if loc, ok := e.locs[r.Timezone]; ok {
		return loc
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		e.logger.Warn("unknown rule timezone, using default", "rule", r.Name, "timezone", r.Timezone)
		loc = e.tz
	}
	e.locs[r.Timezone] = loc
	return loc
}

// applyModify merge-patches the action payload: object values recurse,
// nulls delete, everything else replaces.
func applyModify(act *action.Action, changes json.RawMessage) error {
	if len(changes) == 0 {
		return nil
	}
	patch := gjson.ParseBytes(changes)
	if !patch.IsObject() {
		return evalErrorf("modify changes must be an object")
	}
	doc, err := mergePatch([]byte(act.Payload), patch, "")
	if err != nil {
		return err
	}
	act.Payload = doc
	return nil
}

func mergePatch(doc []byte, patch gjson.Result, base string) ([]byte, error) {
	var err error
	patch.ForEach(func(k, v gjson.Result) bool {
		path := k.String()
		if base != "" {
			path = base + "." + path
		}
		switch {
		case v.Type == gjson.Null:
			doc, err = sjson.DeleteBytes(doc, path)
		case v.IsObject():
			doc, err = mergePatch(doc, v, path)
		default:
			doc, err = sjson.SetRawBytes(doc, path, []byte(v.Raw))
		}
		return err == nil
	})
	return doc, err
}
