package rules

// RuleStatus classifies how a rule fared during a traced evaluation.
type RuleStatus string

const (
	StatusMatched    RuleStatus = "matched"
	StatusNotMatched RuleStatus = "not_matched"
	StatusSkipped    RuleStatus = "skipped"
	StatusError      RuleStatus = "error"
)

// TraceEntry records the evaluation of one rule.
type TraceEntry struct {
	Rule     string     `json:"rule"`
	Priority int        `json:"priority"`
	Status   RuleStatus `json:"status"`
	Error    string     `json:"error,omitempty"`

	// Terminal marks the entry whose action became the verdict.
	Terminal bool `json:"terminal,omitempty"`
}

// Trace is the full per-rule record of one evaluation pass, produced in
// diagnostic and what-if modes.
type Trace struct {
	Entries []TraceEntry `json:"entries"`
}

func (t *Trace) add(entry TraceEntry) {
	if t == nil {
		return
	}
	t.Entries = append(t.Entries, entry)
}
