// Package audit records the outcome of every dispatch. A record is
// written exactly once per dispatch, after the outcome is known, and
// queryable by tenant, provider, outcome kind and time range. Stores
// enforce retention via per-record expiry timestamps pruned on a
// schedule.
package audit
