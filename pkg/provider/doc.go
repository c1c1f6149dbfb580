// Package provider defines the execution capability consumed by the
// dispatch pipeline: the Provider interface, the typed error taxonomy
// that drives retry classification, a registry, and a generic webhook
// provider for HTTP integrations.
package provider
