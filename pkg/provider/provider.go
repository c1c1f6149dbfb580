package provider

import (
	"context"

	"penserai/acteon/pkg/action"
)

// Provider executes actions against an external integration. Execute
// returns a ProviderResponse on success or a *Error classifying the
// failure; retry and backoff are the executor's job, never the
// provider's.
type Provider interface {
	// Name returns the registry name of this provider.
	Name() string

	// Execute performs the action. Implementations must honor ctx
	// cancellation and deadlines.
	Execute(ctx context.Context, act *action.Action) (*action.ProviderResponse, error)

	// HealthCheck probes the integration, returning nil when healthy.
	HealthCheck(ctx context.Context) error
}
