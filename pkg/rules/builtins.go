package rules

import (
	"math"
	"strings"
)

// callBuiltin dispatches a named function call. The builtin set is
// intentionally small; anything heavier belongs in a Custom handler.
func callBuiltin(name string, args []any) (any, error) {
	switch name {
	case "len":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return int64(len(v)), nil
		case []any:
			return int64(len(v)), nil
		case map[string]any:
			return int64(len(v)), nil
		case nil:
			return int64(0), nil
		default:
			return nil, evalErrorf("len of %T", v)
		}

	case "lower":
		s, err := stringArg(name, args)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil

	case "upper":
		s, err := stringArg(name, args)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil

	case "trim":
		s, err := stringArg(name, args)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil

	case "abs":
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case int64:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case float64:
			return math.Abs(v), nil
		default:
			return nil, evalErrorf("abs of %T", v)
		}

	case "min", "max":
		if len(args) == 0 {
			return nil, evalErrorf("%s requires at least one argument", name)
		}
		best, ok := asFloat(args[0])
		bestVal := args[0]
		if !ok {
			return nil, evalErrorf("%s of %T", name, args[0])
		}
		for _, a := range args[1:] {
			f, ok := asFloat(a)
			if !ok {
				return nil, evalErrorf("%s of %T", name, a)
			}
			if (name == "min" && f < best) || (name == "max" && f > best) {
				best, bestVal = f, a
			}
		}
		return bestVal, nil

	case "coalesce":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil

	default:
		return nil, evalErrorf("unknown function %q", name)
	}
}

func arity(name string, args []any, want int) error {
	if len(args) != want {
		return evalErrorf("%s takes %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

func stringArg(name string, args []any) (string, error) {
	if err := arity(name, args, 1); err != nil {
		return "", err
	}
	s, ok := args[0].(string)
	if !ok {
		return "", evalErrorf("%s requires a string, got %T", name, args[0])
	}
	return s, nil
}
