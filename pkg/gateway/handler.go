package gateway

import (
	"context"

	"penserai/acteon/pkg/action"
)

// HandlerResult is the decision returned by a custom rule handler.
type HandlerResult struct {
	// Allow lets the action proceed to execution; false suppresses it.
	Allow bool

	// Message is attached to the audit record.
	Message string

	// Metadata is merged into the audit record metadata.
	Metadata map[string]string
}

// Handler is an external capability invoked by custom rule actions.
// Handlers are opaque predicates: the pipeline only acts on the Allow
// bit.
type Handler interface {
	Invoke(ctx context.Context, fn string, params map[string]string, act *action.Action) (*HandlerResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, fn string, params map[string]string, act *action.Action) (*HandlerResult, error)

func (f HandlerFunc) Invoke(ctx context.Context, fn string, params map[string]string, act *action.Action) (*HandlerResult, error) {
	return f(ctx, fn, params, act)
}

// Enricher mutates an action before rule evaluation, typically filling
// payload fields from templates or recipient profiles. A returned
// error aborts the dispatch: a reference to a missing template or
// profile is a hard failure, not a soft skip.
type Enricher interface {
	Enrich(ctx context.Context, act *action.Action) error
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, act *action.Action) error

func (f EnricherFunc) Enrich(ctx context.Context, act *action.Action) error {
	return f(ctx, act)
}
