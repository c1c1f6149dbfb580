// Package executor runs actions against providers with bounded
// concurrency, per-attempt timeouts and retry with backoff. It is the
// only component that retries: the dispatch pipeline hands it an
// action once and receives a terminal Executed or Failed outcome.
package executor
