package action

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is a single typed request targeting a named provider. It is
// constructed at intake and owned exclusively by the pipeline for the
// duration of one dispatch. The payload may be mutated by explicit
// Modify or enrichment steps before rule evaluation concludes; all
// other fields are immutable after construction.
type Action struct {
	// ID is a UUID v4 assigned at construction.
	ID string `json:"id"`

	// Namespace groups related actions (e.g. "alerts", "billing").
	Namespace string `json:"namespace"`

	// Tenant identifies the owning tenant within the namespace.
	Tenant string `json:"tenant"`

	// Provider names the integration that should execute this action.
	Provider string `json:"provider"`

	// ActionType is the type discriminator (e.g. "send_email").
	ActionType string `json:"action_type"`

	// Payload is the structured document handed to the provider.
	Payload json.RawMessage `json:"payload"`

	// DedupKey, when set, overrides the action ID as the deduplication
	// identity for Deduplicate verdicts.
	DedupKey string `json:"dedup_key,omitempty"`

	// Metadata carries free-form labels attached by the caller.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the intake timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// New constructs an Action with a fresh UUID and the current time.
func New(namespace, tenant, provider, actionType string, payload json.RawMessage) *Action {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return &Action{
		ID:         uuid.NewString(),
		Namespace:  namespace,
		Tenant:     tenant,
		Provider:   provider,
		ActionType: actionType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// WithDedupKey sets the explicit deduplication key and returns the action.
func (a *Action) WithDedupKey(key string) *Action {
	a.DedupKey = key
	return a
}

// WithMetadata attaches a metadata label and returns the action.
func (a *Action) WithMetadata(key, value string) *Action {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
	return a
}

// Key returns the composite identity used for locking and dedup scope.
func (a *Action) Key() Key {
	return Key{
		Namespace: a.Namespace,
		Tenant:    a.Tenant,
		ActionID:  a.ID,
	}
}

// DedupIdentity returns the identity used for deduplication: the
// explicit DedupKey when present, the action ID otherwise.
func (a *Action) DedupIdentity() string {
	if a.DedupKey != "" {
		return a.DedupKey
	}
	return a.ID
}

// Validate checks that the fields required for dispatch are present.
func (a *Action) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("action: missing id")
	case a.Namespace == "":
		return fmt.Errorf("action: missing namespace")
	case a.Tenant == "":
		return fmt.Errorf("action: missing tenant")
	case a.Provider == "":
		return fmt.Errorf("action: missing provider")
	case a.ActionType == "":
		return fmt.Errorf("action: missing action_type")
	}
	return nil
}
