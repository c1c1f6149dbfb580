package yamlrules

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"penserai/acteon/pkg/rules"
)

// fieldOps maps the predicate operator keys to IR binary operators.
var fieldOps = map[string]rules.BinaryOp{
	"eq":          rules.OpEq,
	"ne":          rules.OpNe,
	"gt":          rules.OpGt,
	"lt":          rules.OpLt,
	"gte":         rules.OpGe,
	"lte":         rules.OpLe,
	"contains":    rules.OpContains,
	"starts_with": rules.OpStartsWith,
	"ends_with":   rules.OpEndsWith,
	"matches":     rules.OpMatches,
	"in":          rules.OpIn,
}

// compileCondition turns a condition node (a predicate or an all/any
// group) into an Expr.
func compileCondition(node *yaml.Node, source string) (rules.Expr, error) {
	if node == nil || node.Kind == 0 {
		return nil, parseErrorf(source, "missing condition")
	}
	if node.Kind != yaml.MappingNode {
		return nil, parseErrorf(source, "condition must be a mapping (line %d)", node.Line)
	}

	fields, err := mappingFields(node)
	if err != nil {
		return nil, parseErrorf(source, "condition: %v", err)
	}

	if group, ok := fields["all"]; ok {
		return compileGroup(group, source, true)
	}
	if group, ok := fields["any"]; ok {
		return compileGroup(group, source, false)
	}
	return compilePredicate(fields, node.Line, source)
}

func compileGroup(node *yaml.Node, source string, all bool) (rules.Expr, error) {
	if node.Kind != yaml.SequenceNode || len(node.Content) == 0 {
		return nil, parseErrorf(source, "all/any must be a non-empty list (line %d)", node.Line)
	}

	op := rules.OpOr
	if all {
		op = rules.OpAnd
	}
	var combined rules.Expr
	for _, child := range node.Content {
		sub, err := compileCondition(child, source)
		if err != nil {
			return nil, err
		}
		if combined == nil {
			combined = sub
			continue
		}
		combined = &rules.Binary{Op: op, L: combined, R: sub}
	}
	return combined, nil
}

func compilePredicate(fields map[string]*yaml.Node, line int, source string) (rules.Expr, error) {
	var left rules.Expr
	switch {
	case fields["field"] != nil:
		var path string
		if err := fields["field"].Decode(&path); err != nil {
			return nil, parseErrorf(source, "field: %v", err)
		}
		left = fieldPathExpr(path)

	case fields["state_counter"] != nil:
		var key string
		if err := fields["state_counter"].Decode(&key); err != nil {
			return nil, parseErrorf(source, "state_counter: %v", err)
		}
		left = &rules.StateCounter{Key: key}

	case fields["state_seen"] != nil:
		var key string
		if err := fields["state_seen"].Decode(&key); err != nil {
			return nil, parseErrorf(source, "state_seen: %v", err)
		}
		if within := fields["within_seconds"]; within != nil {
			var secs int64
			if err := within.Decode(&secs); err != nil {
				return nil, parseErrorf(source, "within_seconds: %v", err)
			}
			return &rules.Binary{
				Op: rules.OpLe,
				L:  &rules.StateTimeSince{Key: key},
				R:  &rules.Lit{Value: secs},
			}, nil
		}
		// Bare state_seen: the key exists at all.
		return &rules.Binary{
			Op: rules.OpNe,
			L:  &rules.StateGet{Key: key},
			R:  &rules.Lit{Value: nil},
		}, nil

	default:
		return nil, parseErrorf(source, "predicate needs field, state_seen or state_counter (line %d)", line)
	}

	// Multiple operators on one predicate combine with AND.
	var combined rules.Expr
	for _, opName := range orderedOpNames(fields) {
		op := fieldOps[opName]
		val, err := yamlValue(fields[opName])
		if err != nil {
			return nil, parseErrorf(source, "%s: %v", opName, err)
		}
		cmp := &rules.Binary{Op: op, L: left, R: &rules.Lit{Value: val}}
		if combined == nil {
			combined = cmp
			continue
		}
		combined = &rules.Binary{Op: rules.OpAnd, L: combined, R: cmp}
	}
	if combined == nil {
		return nil, parseErrorf(source, "predicate has no comparison operator (line %d)", line)
	}
	return combined, nil
}

// orderedOpNames returns the operator keys present, in the fixed order
// of fieldOps declaration so compilation is deterministic.
func orderedOpNames(fields map[string]*yaml.Node) []string {
	order := []string{"eq", "ne", "gt", "lt", "gte", "lte", "contains", "starts_with", "ends_with", "matches", "in"}
	var present []string
	for _, name := range order {
		if fields[name] != nil {
			present = append(present, name)
		}
	}
	return present
}

func compileAction(a yamlAction, source, rule string) (rules.RuleAction, error) {
	switch a.Type {
	case "allow":
		return rules.RuleAction{Type: rules.ActionAllow}, nil
	case "deny":
		return rules.RuleAction{Type: rules.ActionDeny}, nil
	case "suppress":
		return rules.RuleAction{Type: rules.ActionSuppress}, nil
	case "deduplicate":
		return rules.RuleAction{Type: rules.ActionDeduplicate, TTLSeconds: a.TTLSeconds}, nil
	case "reroute":
		if a.TargetProvider == "" {
			return rules.RuleAction{}, parseErrorf(source, "rule %q: reroute needs target_provider", rule)
		}
		return rules.RuleAction{Type: rules.ActionReroute, Target: a.TargetProvider}, nil
	case "throttle":
		if a.MaxCount <= 0 || a.WindowSeconds <= 0 {
			return rules.RuleAction{}, parseErrorf(source, "rule %q: throttle needs positive max_count and window_seconds", rule)
		}
		return rules.RuleAction{Type: rules.ActionThrottle, MaxCount: a.MaxCount, WindowSeconds: a.WindowSeconds}, nil
	case "modify":
		if len(a.Changes) == 0 {
			return rules.RuleAction{}, parseErrorf(source, "rule %q: modify needs changes", rule)
		}
		raw, err := json.Marshal(a.Changes)
		if err != nil {
			return rules.RuleAction{}, parseErrorf(source, "rule %q: changes: %v", rule, err)
		}
		return rules.RuleAction{Type: rules.ActionModify, Changes: raw}, nil
	case "request_approval":
		return rules.RuleAction{
			Type:           rules.ActionRequestApproval,
			NotifyProvider: a.NotifyProvider,
			TimeoutSeconds: a.TimeoutSeconds,
			Message:        a.Message,
		}, nil
	case "custom":
		if a.Handler == "" {
			return rules.RuleAction{}, parseErrorf(source, "rule %q: custom needs handler", rule)
		}
		return rules.RuleAction{Type: rules.ActionCustom, Handler: a.Handler, Params: a.Params}, nil
	case "":
		return rules.RuleAction{}, parseErrorf(source, "rule %q: missing action type", rule)
	default:
		return rules.RuleAction{}, parseErrorf(source, "rule %q: unknown action type %q", rule, a.Type)
	}
}

// fieldPathExpr turns a dotted path like "action.payload.to" into a
// Field chain rooted at an Ident.
func fieldPathExpr(path string) rules.Expr {
	segs := strings.Split(path, ".")
	var e rules.Expr = &rules.Ident{Name: segs[0]}
	for _, s := range segs[1:] {
		e = &rules.Field{X: e, Name: s}
	}
	return e
}

// mappingFields flattens a mapping node into name -> value node.
func mappingFields(node *yaml.Node) (map[string]*yaml.Node, error) {
	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return nil, err
		}
		fields[key] = node.Content[i+1]
	}
	return fields, nil
}

// yamlValue decodes a scalar or sequence node into the evaluator's
// value space: int64, float64, bool, string, nil, []any.
func yamlValue(node *yaml.Node) (any, error) {
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeValue(v), nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeValue(x[k])
		}
		return x
	default:
		return v
	}
}
