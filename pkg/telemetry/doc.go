// Package telemetry groups the observability building blocks of the
// gateway.
//
// Components:
//
//   - logging: structured slog logger construction from configuration
//
// Dispatch metrics are prometheus collectors owned by pkg/gateway and
// registered per instance; provider health lives in pkg/provider.
package telemetry
