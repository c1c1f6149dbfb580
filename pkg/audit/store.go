package audit

import (
	"context"
	"fmt"
	"time"
)

// Store persists audit records.
type Store interface {
	// Record writes one record.
	Record(ctx context.Context, r *Record) error

	// Query returns records matching q, newest first, paginated.
	Query(ctx context.Context, q *Query) ([]*Record, error)

	// Count returns how many records match q, ignoring pagination.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteExpired removes records whose ExpiresAt is at or before
	// now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// StorageError wraps a backend failure with the failing operation.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(backend, op string, err error) error {
	return &StorageError{Backend: backend, Op: op, Err: err}
}
