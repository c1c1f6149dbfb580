package action

import "strings"

// Key is the composite identity that scopes locking, deduplication and
// suppression decisions. Two equal Keys always render to the same lock
// key; two distinct Keys never collide.
type Key struct {
	Namespace string
	Tenant    string
	ActionID  string

	// Discriminator optionally narrows the scope further, for callers
	// that need several independent lock domains per action.
	Discriminator string
}

// LockKey renders the key to its canonical string form,
// "namespace:tenant:action_id" with an optional ":discriminator" suffix.
func (k Key) LockKey() string {
	var b strings.Builder
	b.WriteString(k.Namespace)
	b.WriteByte(':')
	b.WriteString(k.Tenant)
	b.WriteByte(':')
	b.WriteString(k.ActionID)
	if k.Discriminator != "" {
		b.WriteByte(':')
		b.WriteString(k.Discriminator)
	}
	return b.String()
}

// String returns the canonical rendering, same as LockKey.
func (k Key) String() string { return k.LockKey() }
