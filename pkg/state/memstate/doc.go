// Package memstate provides the in-process reference implementation of
// the state coordination contract: a mutex-guarded map store with lazy
// TTL eviction plus a background cleanup loop, and an owner-token lock.
// It is the backend of choice for tests and single-node deployments.
package memstate
