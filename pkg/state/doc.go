// Package state defines the backend-agnostic coordination contract used
// by every component that needs shared mutable state: atomic key/value
// operations (create-if-absent, counters, compare-and-swap) and
// distributed locking. Any conforming backend is interchangeable;
// reference backends live in the memstate and boltstate subpackages.
//
// Contention is never expressed as an error. CheckAndSet reports it via
// its boolean result, CompareAndSwap via a Conflict result, and
// TryAcquire via a nil guard. Errors are reserved for backend I/O and
// misconfiguration.
package state
