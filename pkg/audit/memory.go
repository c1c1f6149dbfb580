package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in memory. Intended for tests and
// single-process deployments without persistence requirements.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, r *Record) error {
	cp := *r
	s.mu.Lock()
	s.records = append(s.records, &cp)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q *Query) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	// Newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		if q.Matches(s.records[i]) {
			matched = append(matched, s.records[i])
		}
	}

	offset := q.EffectiveOffset()
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]

	limit := q.EffectiveLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Record, len(matched))
	for i, r := range matched {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, q *Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if q.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the stored record count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
