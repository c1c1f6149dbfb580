package state

import (
	"fmt"
	"strings"
)

// Kind tags the class of state a key addresses. Keys of distinct kinds
// never alias each other regardless of the rendering backend.
type Kind string

const (
	KindLock       Kind = "lock"
	KindDedup      Kind = "dedup"
	KindCounter    Kind = "counter"
	KindState      Kind = "state"
	KindQuota      Kind = "quota"
	KindQuotaUsage Kind = "quota_usage"
	KindRetention  Kind = "retention"
	KindTimeout    Kind = "timeout"
	KindClaim      Kind = "claim"
	KindApproval   Kind = "approval"
	KindCustom     Kind = "custom"
)

// GlobalTenant is the sentinel tenant for state that is not scoped to a
// single tenant.
const GlobalTenant = "global"

// Key addresses one piece of coordination state. Rendering via String
// is deterministic and lossless; ParseKey inverts it.
type Key struct {
	Namespace string
	Tenant    string
	Kind      Kind
	ID        string
}

// NewKey builds a Key, substituting GlobalTenant for an empty tenant.
func NewKey(namespace, tenant string, kind Kind, id string) Key {
	if tenant == "" {
		tenant = GlobalTenant
	}
	return Key{Namespace: namespace, Tenant: tenant, Kind: kind, ID: id}
}

// DedupKey builds the dedup-marker key for an action identity.
func DedupKey(namespace, tenant, identity string) Key {
	return NewKey(namespace, tenant, KindDedup, identity)
}

// String renders the key as "namespace:tenant:kind:id". The id segment
// may itself contain colons; the first three segments never do.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Namespace, k.Tenant, k.Kind, k.ID)
}

// Prefix returns the rendered prefix shared by all keys of one
// (namespace, tenant, kind) scope, including the trailing separator.
func Prefix(namespace, tenant string, kind Kind) string {
	if tenant == "" {
		tenant = GlobalTenant
	}
	return fmt.Sprintf("%s:%s:%s:", namespace, tenant, kind)
}

// ParseKey parses a rendered key back into its components.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("state: malformed key %q", s)
	}
	return Key{
		Namespace: parts[0],
		Tenant:    parts[1],
		Kind:      Kind(parts[2]),
		ID:        parts[3],
	}, nil
}
