// Package gateway is the dispatch pipeline. Every action passes
// through the same sequence: per-action lock, quota check, enrichment,
// rule evaluation, verdict handling, audit. The pipeline produces
// exactly one outcome per dispatch; execution failure is an outcome,
// not an error. Errors are reserved for the pipeline itself failing,
// lock timeouts and cancelled contexts.
package gateway
