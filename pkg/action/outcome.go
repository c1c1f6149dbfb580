package action

import (
	"fmt"
	"time"
)

// ResponseStatus classifies a provider response.
type ResponseStatus string

const (
	// StatusSuccess means the provider accepted and executed the action.
	StatusSuccess ResponseStatus = "success"
	// StatusFailure means the provider rejected or failed the action.
	StatusFailure ResponseStatus = "failure"
	// StatusPartial means the provider executed part of the action.
	StatusPartial ResponseStatus = "partial"
)

// ProviderResponse is the raw result returned by a provider execution.
type ProviderResponse struct {
	Status  ResponseStatus    `json:"status"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// OutcomeKind enumerates the closed set of terminal dispatch results.
type OutcomeKind string

const (
	KindExecuted        OutcomeKind = "executed"
	KindDeduplicated    OutcomeKind = "deduplicated"
	KindSuppressed      OutcomeKind = "suppressed"
	KindRerouted        OutcomeKind = "rerouted"
	KindThrottled       OutcomeKind = "throttled"
	KindFailed          OutcomeKind = "failed"
	KindDryRun          OutcomeKind = "dry_run"
	KindQuotaExceeded   OutcomeKind = "quota_exceeded"
	KindPendingApproval OutcomeKind = "pending_approval"
	KindScheduled       OutcomeKind = "scheduled"
)

// ExecError describes a terminal execution failure. It is carried inside
// a Failed outcome rather than returned as a Go error: execution failure
// is a business result of dispatch, not a pipeline error.
type ExecError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Attempts  int    `json:"attempts"`
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s (attempts=%d, retryable=%t)", e.Code, e.Message, e.Attempts, e.Retryable)
}

// QuotaInfo carries the detail of a QuotaExceeded outcome.
type QuotaInfo struct {
	Tenant   string `json:"tenant"`
	Limit    int64  `json:"limit"`
	Used     int64  `json:"used"`
	Behavior string `json:"behavior"`
}

// Outcome is the single caller-visible result of one dispatch. Exactly
// one Outcome (or one typed error) is produced per call; callers branch
// on Kind for business logic. Only the fields relevant to the Kind are
// populated.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Response is set for Executed and Rerouted outcomes.
	Response *ProviderResponse `json:"response,omitempty"`

	// Rule names the rule behind Suppressed, Throttled, Rerouted and
	// PendingApproval outcomes, when one matched.
	Rule string `json:"rule,omitempty"`

	// From and To are set for Rerouted outcomes.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// RetryAfter is set for Throttled outcomes.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Failure is set for Failed outcomes.
	Failure *ExecError `json:"failure,omitempty"`

	// Verdict is set for DryRun outcomes and names the rule action that
	// would have been applied.
	Verdict string `json:"verdict,omitempty"`

	// Quota is set for QuotaExceeded outcomes.
	Quota *QuotaInfo `json:"quota,omitempty"`

	// ApprovalID is set for PendingApproval outcomes.
	ApprovalID string `json:"approval_id,omitempty"`

	// ScheduledAt is set for Scheduled outcomes.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Executed builds an Executed outcome from a provider response.
func Executed(resp *ProviderResponse) *Outcome {
	return &Outcome{Kind: KindExecuted, Response: resp}
}

// Deduplicated builds a Deduplicated outcome.
func Deduplicated() *Outcome { return &Outcome{Kind: KindDeduplicated} }

// Suppressed builds a Suppressed outcome naming the rule that fired.
func Suppressed(rule string) *Outcome {
	return &Outcome{Kind: KindSuppressed, Rule: rule}
}

// Rerouted builds a Rerouted outcome wrapping the execution response.
func Rerouted(from, to string, resp *ProviderResponse) *Outcome {
	return &Outcome{Kind: KindRerouted, From: from, To: to, Response: resp}
}

// Throttled builds a Throttled outcome with a retry-after hint.
func Throttled(rule string, retryAfter time.Duration) *Outcome {
	return &Outcome{Kind: KindThrottled, Rule: rule, RetryAfter: retryAfter}
}

// Failed builds a Failed outcome from a terminal execution error.
func Failed(err *ExecError) *Outcome {
	return &Outcome{Kind: KindFailed, Failure: err}
}

// DryRun builds a DryRun outcome recording the would-be verdict.
func DryRun(verdict string) *Outcome {
	return &Outcome{Kind: KindDryRun, Verdict: verdict}
}

// QuotaExceeded builds a QuotaExceeded outcome.
func QuotaExceeded(tenant string, limit, used int64, behavior string) *Outcome {
	return &Outcome{Kind: KindQuotaExceeded, Quota: &QuotaInfo{
		Tenant:   tenant,
		Limit:    limit,
		Used:     used,
		Behavior: behavior,
	}}
}

// Scheduled builds a Scheduled outcome recording the dispatch time.
func Scheduled(at time.Time) *Outcome {
	return &Outcome{Kind: KindScheduled, ScheduledAt: &at}
}

// PendingApproval builds a PendingApproval outcome.
func PendingApproval(rule, approvalID string) *Outcome {
	return &Outcome{Kind: KindPendingApproval, Rule: rule, ApprovalID: approvalID}
}
