package rules

import "encoding/json"

// ActionType enumerates the closed set of rule actions.
type ActionType string

const (
	ActionAllow           ActionType = "allow"
	ActionDeny            ActionType = "deny"
	ActionDeduplicate     ActionType = "deduplicate"
	ActionSuppress        ActionType = "suppress"
	ActionReroute         ActionType = "reroute"
	ActionThrottle        ActionType = "throttle"
	ActionModify          ActionType = "modify"
	ActionRequestApproval ActionType = "request_approval"
	ActionCustom          ActionType = "custom"
)

// RuleAction is the action a rule prescribes when its condition holds.
// Only the fields relevant to Type are populated.
type RuleAction struct {
	Type ActionType `json:"type"`

	// TTLSeconds is the dedup window for Deduplicate; zero selects the
	// engine default.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`

	// Target is the destination provider for Reroute.
	Target string `json:"target,omitempty"`

	// MaxCount and WindowSeconds bound Throttle.
	MaxCount      int64 `json:"max_count,omitempty"`
	WindowSeconds int64 `json:"window_seconds,omitempty"`

	// Changes is the merge-patch document for Modify.
	Changes json.RawMessage `json:"changes,omitempty"`

	// Handler and Params select the external capability for Custom.
	Handler string            `json:"handler,omitempty"`
	Params  map[string]string `json:"params,omitempty"`

	// NotifyProvider, TimeoutSeconds and Message configure
	// RequestApproval.
	NotifyProvider string `json:"notify_provider,omitempty"`
	TimeoutSeconds int64  `json:"timeout_seconds,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Rule is the normalized form every dialect compiles into.
type Rule struct {
	// Name uniquely identifies the rule within its set.
	Name string

	// Priority orders evaluation; lower values evaluate first. Ties are
	// broken by stable declaration order.
	Priority int

	// Description is optional documentation.
	Description string

	// Enabled rules participate in evaluation; disabled ones are
	// skipped but retained.
	Enabled bool

	// Condition must evaluate truthy for the rule to fire.
	Condition Expr

	// Action is applied when the rule fires.
	Action RuleAction

	// Source tags the dialect and origin, e.g. "yaml:rules/prod.yaml".
	Source string

	// Version increments on redefinition; it feeds the set hash.
	Version uint64

	// Timezone, when set, overrides the engine timezone for this
	// rule's time.* context.
	Timezone string
}

// Verdict is the evaluation result: the selected action and the name of
// the rule that produced it. An empty Rule with ActionAllow means no
// rule matched.
type Verdict struct {
	Rule   string
	Action RuleAction
}

// AllowVerdict is the default verdict when no rule matches.
func AllowVerdict() *Verdict {
	return &Verdict{Action: RuleAction{Type: ActionAllow}}
}
