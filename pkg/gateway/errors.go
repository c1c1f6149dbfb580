package gateway

import "fmt"

// EnrichmentError aborts a dispatch whose enrichment step failed.
type EnrichmentError struct {
	ActionID string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed for action %s: %v", e.ActionID, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }
