package rules

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/state"
)

// evalCtx carries everything a single condition evaluation needs: the
// serialized action document, the state handle, environment lookups and
// the (possibly overridden) evaluation time.
type evalCtx struct {
	act    *action.Action
	doc    string
	store  state.Store
	env    map[string]string
	now    time.Time
	loc    *time.Location
	locals map[string]any

	timeMap map[string]any // built lazily
}

func newEvalCtx(act *action.Action, store state.Store, env map[string]string, now time.Time, loc *time.Location) (*evalCtx, error) {
	raw, err := json.Marshal(act)
	if err != nil {
		return nil, evalErrorf("serialize action: %v", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &evalCtx{
		act:   act,
		doc:   string(raw),
		store: store,
		env:   env,
		now:   now,
		loc:   loc,
	}, nil
}

// timeContext exposes the time.* fields in the evaluation timezone.
// The timestamp is always the UTC unix time regardless of zone.
func (ec *evalCtx) timeContext() map[string]any {
	if ec.timeMap != nil {
		return ec.timeMap
	}
	local := ec.now.In(ec.loc)
	weekdayNum := int64(local.Weekday())
	if weekdayNum == 0 {
		weekdayNum = 7 // ISO numbering, Monday is 1
	}
	ec.timeMap = map[string]any{
		"hour":        int64(local.Hour()),
		"minute":      int64(local.Minute()),
		"second":      int64(local.Second()),
		"day":         int64(local.Day()),
		"month":       int64(local.Month()),
		"year":        int64(local.Year()),
		"weekday":     local.Weekday().String(),
		"weekday_num": weekdayNum,
		"timestamp":   ec.now.UTC().Unix(),
	}
	return ec.timeMap
}

// eval evaluates an expression to an untyped value.
func eval(ctx context.Context, e Expr, ec *evalCtx) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch n := e.(type) {
	case *Lit:
		return n.Value, nil

	case *ListLit:
		out := make([]any, 0, len(n.Elems))
		for _, el := range n.Elems {
			v, err := eval(ctx, el, ec)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *MapLit:
		out := make(map[string]any, len(n.Entries))
		for _, entry := range n.Entries {
			v, err := eval(ctx, entry.Value, ec)
			if err != nil {
				return nil, err
			}
			out[entry.Key] = v
		}
		return out, nil

	case *Ident:
		return evalIdent(n.Name, ec)

	case *Field:
		return evalField(ctx, n, ec)

	case *Index:
		return evalIndex(ctx, n, ec)

	case *Unary:
		return evalUnary(ctx, n, ec)

	case *Binary:
		return evalBinary(ctx, n, ec)

	case *Ternary:
		cond, err := eval(ctx, n.Cond, ec)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return eval(ctx, n.Then, ec)
		}
		return eval(ctx, n.Else, ec)

	case *Call:
		args := make([]any, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := eval(ctx, a, ec)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return callBuiltin(n.Fn, args)

	case *Quantifier:
		return evalQuantifier(ctx, n, ec)

	case *StateGet:
		return evalStateGet(ctx, n.Key, ec)

	case *StateCounter:
		return evalStateCounter(ctx, n.Key, ec)

	case *StateTimeSince:
		return evalStateTimeSince(ctx, n.Key, ec)

	default:
		return nil, evalErrorf("unknown expression node %T", e)
	}
}

func evalIdent(name string, ec *evalCtx) (any, error) {
	if v, ok := ec.locals[name]; ok {
		return v, nil
	}
	switch name {
	case "action":
		var m map[string]any
		if err := json.Unmarshal([]byte(ec.doc), &m); err != nil {
			return nil, evalErrorf("decode action: %v", err)
		}
		return normalizeJSON(m), nil
	case "env", "environment":
		m := make(map[string]any, len(ec.env))
		for k, v := range ec.env {
			m[k] = v
		}
		return m, nil
	case "now":
		return ec.now.UTC().Unix(), nil
	case "time":
		return ec.timeContext(), nil
	}
	// Bare identifiers fall back to environment shortcuts.
	if v, ok := ec.env[name]; ok {
		return v, nil
	}
	return nil, &UndefinedVariableError{Name: name}
}

// rootPath flattens a Field chain rooted at an Ident into its segments.
func rootPath(e Expr) ([]string, bool) {
	switch n := e.(type) {
	case *Ident:
		return []string{n.Name}, true
	case *Field:
		head, ok := rootPath(n.X)
		if !ok {
			return nil, false
		}
		return append(head, n.Name), true
	default:
		return nil, false
	}
}

func evalField(ctx context.Context, f *Field, ec *evalCtx) (any, error) {
	if segs, ok := rootPath(f); ok {
		if v, handled, err := resolveRootPath(segs, ec); handled {
			return v, err
		}
	}
	x, err := eval(ctx, f.X, ec)
	if err != nil {
		return nil, err
	}
	m, ok := x.(map[string]any)
	if !ok {
		return nil, evalErrorf("field access %q on non-map %T", f.Name, x)
	}
	return m[f.Name], nil
}

// resolveRootPath handles the well-known roots action/env/time with a
// single gjson lookup rather than repeated map decoding. handled is
// false when the head is not a well-known root with a sub-path.
func resolveRootPath(segs []string, ec *evalCtx) (any, bool, error) {
	if len(segs) < 2 {
		return nil, false, nil
	}
	if _, isLocal := ec.locals[segs[0]]; isLocal {
		return nil, false, nil
	}
	rest := strings.Join(segs[1:], ".")
	switch segs[0] {
	case "action":
		return gjsonToGo(gjson.Get(ec.doc, rest)), true, nil
	case "env", "environment":
		if len(segs) != 2 {
			return nil, true, evalErrorf("env lookup %q has extra path segments", rest)
		}
		if v, ok := ec.env[segs[1]]; ok {
			return v, true, nil
		}
		return nil, true, nil
	case "time":
		if len(segs) != 2 {
			return nil, true, evalErrorf("time lookup %q has extra path segments", rest)
		}
		v, ok := ec.timeContext()[segs[1]]
		if !ok {
			return nil, true, evalErrorf("unknown time field %q", segs[1])
		}
		return v, true, nil
	}
	return nil, false, nil
}

func evalIndex(ctx context.Context, n *Index, ec *evalCtx) (any, error) {
	x, err := eval(ctx, n.X, ec)
	if err != nil {
		return nil, err
	}
	idx, err := eval(ctx, n.I, ec)
	if err != nil {
		return nil, err
	}
	switch coll := x.(type) {
	case []any:
		i, ok := asInt(idx)
		if !ok {
			return nil, evalErrorf("list index must be an integer, got %T", idx)
		}
		if i < 0 || int(i) >= len(coll) {
			return nil, evalErrorf("list index %d out of range (len %d)", i, len(coll))
		}
		return coll[i], nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil, evalErrorf("map key must be a string, got %T", idx)
		}
		return coll[k], nil
	case string:
		i, ok := asInt(idx)
		if !ok || i < 0 || int(i) >= len(coll) {
			return nil, evalErrorf("string index out of range")
		}
		return string(coll[i]), nil
	default:
		return nil, evalErrorf("cannot index %T", x)
	}
}

func evalUnary(ctx context.Context, n *Unary, ec *evalCtx) (any, error) {
	x, err := eval(ctx, n.X, ec)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpNot:
		return !truthy(x), nil
	case OpNeg:
		switch v := x.(type) {
		case int64:
			return -v, nil
		case float64:
			return -v, nil
		default:
			return nil, evalErrorf("cannot negate %T", x)
		}
	default:
		return nil, evalErrorf("unknown unary operator %d", n.Op)
	}
}

func evalBinary(ctx context.Context, n *Binary, ec *evalCtx) (any, error) {
	// And/Or short-circuit on the left operand.
	if n.Op == OpAnd || n.Op == OpOr {
		l, err := eval(ctx, n.L, ec)
		if err != nil {
			return nil, err
		}
		lt := truthy(l)
		if n.Op == OpAnd && !lt {
			return false, nil
		}
		if n.Op == OpOr && lt {
			return true, nil
		}
		r, err := eval(ctx, n.R, ec)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := eval(ctx, n.L, ec)
	if err != nil {
		return nil, err
	}
	r, err := eval(ctx, n.R, ec)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return arithmetic(n.Op, l, r)
	case OpEq:
		return looseEqual(l, r), nil
	case OpNe:
		return !looseEqual(l, r), nil
	case OpLt, OpLe, OpGt, OpGe:
		return ordered(n.Op, l, r)
	case OpContains:
		return containsValue(l, r)
	case OpStartsWith:
		ls, rs, err := stringPair(n.Op, l, r)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(ls, rs), nil
	case OpEndsWith:
		ls, rs, err := stringPair(n.Op, l, r)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(ls, rs), nil
	case OpMatches:
		ls, rs, err := stringPair(n.Op, l, r)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return nil, evalErrorf("invalid pattern %q: %v", rs, err)
		}
		return re.MatchString(ls), nil
	case OpIn:
		return inValue(l, r)
	default:
		return nil, evalErrorf("unknown binary operator %d", n.Op)
	}
}

func evalQuantifier(ctx context.Context, n *Quantifier, ec *evalCtx) (any, error) {
	over, err := eval(ctx, n.Over, ec)
	if err != nil {
		return nil, err
	}
	list, ok := over.([]any)
	if !ok {
		return nil, evalErrorf("quantifier requires a list, got %T", over)
	}

	saved, hadSaved := ec.locals[n.Var]
	if ec.locals == nil {
		ec.locals = make(map[string]any)
	}
	defer func() {
		if hadSaved {
			ec.locals[n.Var] = saved
		} else {
			delete(ec.locals, n.Var)
		}
	}()

	for _, el := range list {
		ec.locals[n.Var] = el
		v, err := eval(ctx, n.Pred, ec)
		if err != nil {
			return nil, err
		}
		if n.All && !truthy(v) {
			return false, nil
		}
		if !n.All && truthy(v) {
			return true, nil
		}
	}
	return n.All, nil
}

func evalStateGet(ctx context.Context, keyPattern string, ec *evalCtx) (any, error) {
	key := state.NewKey(ec.act.Namespace, ec.act.Tenant, state.KindState, keyPattern)
	val, ok, err := ec.store.Get(ctx, key)
	if err != nil {
		return nil, &StateAccessError{Key: key.String(), Err: err}
	}
	if !ok {
		return nil, nil
	}
	return val, nil
}

func evalStateCounter(ctx context.Context, keyPattern string, ec *evalCtx) (any, error) {
	key := state.NewKey(ec.act.Namespace, ec.act.Tenant, state.KindCounter, keyPattern)
	val, ok, err := ec.store.Get(ctx, key)
	if err != nil {
		return nil, &StateAccessError{Key: key.String(), Err: err}
	}
	if !ok {
		return int64(0), nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, &StateAccessError{Key: key.String(), Err: err}
	}
	return n, nil
}

func evalStateTimeSince(ctx context.Context, keyPattern string, ec *evalCtx) (any, error) {
	key := state.NewKey(ec.act.Namespace, ec.act.Tenant, state.KindState, keyPattern)
	val, ok, err := ec.store.Get(ctx, key)
	if err != nil {
		return nil, &StateAccessError{Key: key.String(), Err: err}
	}
	if !ok {
		// Never seen: effectively infinite elapsed time.
		return int64(math.MaxInt64), nil
	}
	stored, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil, &StateAccessError{Key: key.String(), Err: err}
	}
	return int64(ec.now.Sub(stored).Seconds()), nil
}

// -- value helpers ---------------------------------------------------------

// truthy implements the language truth table: nil, false, zero numbers,
// empty strings and empty collections are falsey.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// looseEqual compares with int/float coercion; everything else is deep
// equality.
func looseEqual(l, r any) bool {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		return lf == rf
	}
	return reflect.DeepEqual(l, r)
}

func arithmetic(op BinaryOp, l, r any) (any, error) {
	if op == OpAdd {
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, evalErrorf("cannot concatenate string and %T", r)
			}
			return ls + rs, nil
		}
	}

	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpDiv:
			if ri == 0 {
				return nil, evalErrorf("division by zero")
			}
			return li / ri, nil
		case OpMod:
			if ri == 0 {
				return nil, evalErrorf("modulo by zero")
			}
			return li % ri, nil
		}
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, evalErrorf("arithmetic %s on %T and %T", op, l, r)
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		if rf == 0 {
			return nil, evalErrorf("division by zero")
		}
		return lf / rf, nil
	case OpMod:
		if rf == 0 {
			return nil, evalErrorf("modulo by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, evalErrorf("unknown arithmetic operator %s", op)
}

func ordered(op BinaryOp, l, r any) (any, error) {
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return nil, evalErrorf("cannot compare string with %T", r)
		}
		return applyOrder(op, strings.Compare(ls, rs)), nil
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, evalErrorf("cannot compare %T with %T", l, r)
	}
	switch {
	case lf < rf:
		return applyOrder(op, -1), nil
	case lf > rf:
		return applyOrder(op, 1), nil
	default:
		return applyOrder(op, 0), nil
	}
}

func applyOrder(op BinaryOp, cmp int) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func stringPair(op BinaryOp, l, r any) (string, string, error) {
	ls, lok := l.(string)
	rs, rok := r.(string)
	if !lok || !rok {
		return "", "", evalErrorf("%s requires strings, got %T and %T", op, l, r)
	}
	return ls, rs, nil
}

// containsValue: string containment or list membership.
func containsValue(l, r any) (any, error) {
	switch coll := l.(type) {
	case string:
		rs, ok := r.(string)
		if !ok {
			return nil, evalErrorf("contains on string requires a string needle, got %T", r)
		}
		return strings.Contains(coll, rs), nil
	case []any:
		for _, el := range coll {
			if looseEqual(el, r) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, evalErrorf("contains requires a string or list, got %T", l)
	}
}

// inValue: membership of l in r (list element, map key, or substring).
func inValue(l, r any) (any, error) {
	switch coll := r.(type) {
	case []any:
		for _, el := range coll {
			if looseEqual(el, l) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := l.(string)
		if !ok {
			return nil, evalErrorf("map membership requires a string key, got %T", l)
		}
		_, present := coll[k]
		return present, nil
	case string:
		ls, ok := l.(string)
		if !ok {
			return nil, evalErrorf("substring membership requires a string, got %T", l)
		}
		return strings.Contains(coll, ls), nil
	default:
		return nil, evalErrorf("in requires a list, map or string, got %T", r)
	}
}

// gjsonToGo converts a gjson result to the evaluator's value space.
func gjsonToGo(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		if !strings.ContainsAny(r.Raw, ".eE") {
			return int64(r.Int())
		}
		return r.Float()
	case gjson.String:
		return r.String()
	default:
		var v any
		if err := json.Unmarshal([]byte(r.Raw), &v); err != nil {
			return nil
		}
		return normalizeJSON(v)
	}
}

// normalizeJSON rewrites json.Unmarshal output so numbers land as int64
// when integral, matching literal semantics.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeJSON(x[k])
		}
		return x
	default:
		return v
	}
}
