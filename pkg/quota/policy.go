package quota

import (
	"fmt"
	"time"

	"penserai/acteon/pkg/state"
)

// Overage behaviors.
const (
	// OverageBlock rejects dispatches over the limit.
	OverageBlock = "block"

	// OverageWarn allows the dispatch and logs the overage.
	OverageWarn = "warn"

	// OverageDegrade rejects with a fallback provider hint.
	OverageDegrade = "degrade"

	// OverageNotify allows the dispatch and flags a notification
	// target.
	OverageNotify = "notify"
)

// Overage describes what happens when a tenant exceeds its limit.
type Overage struct {
	Behavior string `json:"behavior" yaml:"behavior"`

	// Fallback is the degraded provider for OverageDegrade.
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Target receives the overage notification for OverageNotify.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

func (o Overage) validate() error {
	switch o.Behavior {
	case OverageBlock, OverageWarn, OverageNotify:
		return nil
	case OverageDegrade:
		if o.Fallback == "" {
			return fmt.Errorf("degrade overage requires a fallback provider")
		}
		return nil
	default:
		return fmt.Errorf("unknown overage behavior %q", o.Behavior)
	}
}

// Policy limits how many actions a tenant may dispatch per window.
type Policy struct {
	ID          string            `json:"id"`
	Namespace   string            `json:"namespace"`
	Tenant      string            `json:"tenant"`
	MaxActions  int64             `json:"max_actions"`
	Window      Window            `json:"window"`
	Overage     Overage           `json:"overage"`
	Enabled     bool              `json:"enabled"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks the policy for storage.
func (p *Policy) Validate() error {
	if p.Namespace == "" {
		return fmt.Errorf("quota policy: missing namespace")
	}
	if p.Tenant == "" {
		return fmt.Errorf("quota policy: missing tenant")
	}
	if p.MaxActions <= 0 {
		return fmt.Errorf("quota policy %s/%s: max_actions must be positive, got %d", p.Namespace, p.Tenant, p.MaxActions)
	}
	if err := p.Window.validate(); err != nil {
		return fmt.Errorf("quota policy %s/%s: %w", p.Namespace, p.Tenant, err)
	}
	if err := p.Overage.validate(); err != nil {
		return fmt.Errorf("quota policy %s/%s: %w", p.Namespace, p.Tenant, err)
	}
	return nil
}

// CounterKey derives the usage counter key for the bucket containing
// now. All dispatches in the same bucket share one counter.
func CounterKey(ns, tenant string, w Window, now time.Time) state.Key {
	id := fmt.Sprintf("%s:%d", w.Label(), w.Bucket(now))
	return state.NewKey(ns, tenant, state.KindQuotaUsage, id)
}
