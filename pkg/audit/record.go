package audit

import (
	"time"

	"github.com/google/uuid"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// Record is one dispatch outcome.
type Record struct {
	ID         string `json:"id"`
	ActionID   string `json:"action_id"`
	Namespace  string `json:"namespace"`
	Tenant     string `json:"tenant"`
	Provider   string `json:"provider"`
	ActionType string `json:"action_type"`

	// Verdict is the rule action type that decided the dispatch,
	// "allow" when no rule matched.
	Verdict     string `json:"verdict"`
	MatchedRule string `json:"matched_rule,omitempty"`

	// Outcome is the outcome kind (executed, deduplicated, ...).
	Outcome string `json:"outcome"`

	Payload        string            `json:"payload,omitempty"`
	VerdictDetails string            `json:"verdict_details,omitempty"`
	OutcomeDetails string            `json:"outcome_details,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	DispatchedAt time.Time  `json:"dispatched_at"`
	CompletedAt  time.Time  `json:"completed_at"`
	DurationMS   int64      `json:"duration_ms"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// NewRecord allocates a record with a fresh ID.
func NewRecord() *Record {
	return &Record{ID: uuid.NewString()}
}

// Query filters audit records. Zero fields match everything.
type Query struct {
	Namespace  string
	Tenant     string
	Provider   string
	ActionType string
	ActionID   string
	Outcome    string
	Verdict    string

	// Since and Until bound DispatchedAt, inclusive.
	Since time.Time
	Until time.Time

	// Limit is clamped to [1, 1000]; zero selects 50.
	Limit  int
	Offset int
}

// EffectiveLimit returns the clamped page size.
func (q *Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return defaultQueryLimit
	case q.Limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return q.Limit
	}
}

// EffectiveOffset returns the non-negative offset.
func (q *Query) EffectiveOffset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Matches reports whether r satisfies every set filter.
func (q *Query) Matches(r *Record) bool {
	if q.Namespace != "" && r.Namespace != q.Namespace {
		return false
	}
	if q.Tenant != "" && r.Tenant != q.Tenant {
		return false
	}
	if q.Provider != "" && r.Provider != q.Provider {
		return false
	}
	if q.ActionType != "" && r.ActionType != q.ActionType {
		return false
	}
	if q.ActionID != "" && r.ActionID != q.ActionID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.Verdict != "" && r.Verdict != q.Verdict {
		return false
	}
	if !q.Since.IsZero() && r.DispatchedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.DispatchedAt.After(q.Until) {
		return false
	}
	return true
}
