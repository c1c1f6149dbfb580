package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"penserai/acteon/pkg/audit"
	"penserai/acteon/pkg/state"
)

// cachedRetention is one retention cache slot. A nil policy caches the
// absence of a policy, mirroring the quota cache.
type cachedRetention struct {
	policy  *audit.RetentionPolicy
	fetched time.Time
}

func retentionPolicyKey(ns, tenant string) state.Key {
	return state.NewKey(ns, tenant, state.KindRetention, "policy")
}

// SetRetentionPolicy validates and persists a per-scope audit retention
// policy. It takes effect for new dispatches within the cache TTL and
// overrides the gateway-wide retention default for that scope.
func (g *Gateway) SetRetentionPolicy(ctx context.Context, pol *audit.RetentionPolicy) error {
	if err := pol.Validate(); err != nil {
		return err
	}
	pol.UpdatedAt = g.clock().UTC()

	raw, err := json.Marshal(pol)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, retentionPolicyKey(pol.Namespace, pol.Tenant), string(raw), 0); err != nil {
		return err
	}

	g.invalidateRetentionCache(pol.Namespace, pol.Tenant)
	g.logger.Info("retention policy set",
		"namespace", pol.Namespace, "tenant", pol.Tenant, "days", pol.Days)
	return nil
}

// GetRetentionPolicy reads the stored policy, bypassing the cache. Nil
// without error means no policy exists for the scope.
func (g *Gateway) GetRetentionPolicy(ctx context.Context, ns, tenant string) (*audit.RetentionPolicy, error) {
	return g.loadRetentionPolicy(ctx, ns, tenant)
}

// DeleteRetentionPolicy removes the policy for (ns, tenant), reporting
// whether one existed. The scope falls back to the gateway default.
func (g *Gateway) DeleteRetentionPolicy(ctx context.Context, ns, tenant string) (bool, error) {
	existed, err := g.store.Delete(ctx, retentionPolicyKey(ns, tenant))
	if err != nil {
		return false, err
	}
	g.invalidateRetentionCache(ns, tenant)
	return existed, nil
}

func (g *Gateway) loadRetentionPolicy(ctx context.Context, ns, tenant string) (*audit.RetentionPolicy, error) {
	raw, ok, err := g.store.Get(ctx, retentionPolicyKey(ns, tenant))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var pol audit.RetentionPolicy
	if err := json.Unmarshal([]byte(raw), &pol); err != nil {
		return nil, fmt.Errorf("decode retention policy %s/%s: %w", ns, tenant, err)
	}
	return &pol, nil
}

// retentionPolicyCached resolves the policy for (ns, tenant) through
// the cache. Lookup failures fall back to the gateway default rather
// than failing the dispatch.
func (g *Gateway) retentionPolicyCached(ctx context.Context, ns, tenant string) *audit.RetentionPolicy {
	cacheKey := ns + "/" + tenant
	now := g.clock()

	g.rmu.Lock()
	if slot, ok := g.rcache[cacheKey]; ok && now.Sub(slot.fetched) < g.cfg.QuotaCacheTTL {
		g.rmu.Unlock()
		return slot.policy
	}
	g.rmu.Unlock()

	pol, err := g.loadRetentionPolicy(ctx, ns, tenant)
	if err != nil {
		g.logger.Warn("retention lookup failed, using default",
			"namespace", ns, "tenant", tenant, "error", err)
		return nil
	}

	g.rmu.Lock()
	g.rcache[cacheKey] = cachedRetention{policy: pol, fetched: now}
	g.rmu.Unlock()
	return pol
}

func (g *Gateway) invalidateRetentionCache(ns, tenant string) {
	g.rmu.Lock()
	delete(g.rcache, ns+"/"+tenant)
	g.rmu.Unlock()
}
