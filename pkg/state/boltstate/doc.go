// Package boltstate implements the state coordination contract on an
// embedded bbolt database, giving single-node deployments durable
// coordination state with the exact semantics of the in-memory backend.
// Atomicity comes from bbolt's single-writer transactions; TTLs are
// stored alongside each value and expired entries read as absent.
package boltstate
