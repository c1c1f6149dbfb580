package rules

import "fmt"

// EvalError reports a per-rule evaluation failure: a type mismatch,
// division by zero, a malformed expression. It is always non-fatal to
// the evaluation pass; the engine records it and moves to the next rule.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return "rules: " + e.Msg }

func evalErrorf(format string, args ...any) *EvalError {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}

// UndefinedVariableError reports a reference to an unknown identifier.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("rules: undefined variable %q", e.Name)
}

// StateAccessError wraps a state store failure during evaluation of a
// state primitive.
type StateAccessError struct {
	Key string
	Err error
}

func (e *StateAccessError) Error() string {
	return fmt.Sprintf("rules: state access %s: %v", e.Key, e.Err)
}

func (e *StateAccessError) Unwrap() error { return e.Err }
