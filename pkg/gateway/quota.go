package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/quota"
	"penserai/acteon/pkg/state"
)

// Quota policies live under a reserved system scope so tenant data and
// policy data never share a key range.
const (
	quotaSystemNS     = "_system"
	quotaSystemTenant = "_quotas"
)

// cachedPolicy is one quota cache slot. A nil policy caches the
// absence of a policy, so unlimited tenants do not hit the store on
// every dispatch.
type cachedPolicy struct {
	policy  *quota.Policy
	fetched time.Time
}

func quotaPolicyKey(id string) state.Key {
	return state.NewKey(quotaSystemNS, quotaSystemTenant, state.KindQuota, "policy:"+id)
}

func quotaIndexKey(ns, tenant string) state.Key {
	return state.NewKey(quotaSystemNS, quotaSystemTenant, state.KindQuota, fmt.Sprintf("idx:%s:%s", ns, tenant))
}

// checkQuota counts the dispatch against the tenant's quota policy and
// returns a terminal outcome when the policy rejects it, nil to
// proceed. The counter is incremented first and rolled back on Block,
// so concurrent dispatches can overshoot by at most the number of
// in-flight calls. Store failures fail open: quota must never take
// down dispatch.
func (g *Gateway) checkQuota(ctx context.Context, act *action.Action) *action.Outcome {
	pol, err := g.quotaPolicy(ctx, act.Namespace, act.Tenant)
	if err != nil {
		g.logger.Warn("quota lookup failed, allowing dispatch",
			"namespace", act.Namespace, "tenant", act.Tenant, "error", err)
		return nil
	}
	if pol == nil || !pol.Enabled {
		return nil
	}

	now := g.clock()
	key := quota.CounterKey(act.Namespace, act.Tenant, pol.Window, now)
	ttl := time.Duration(pol.Window.Seconds()) * time.Second

	used, err := g.store.Increment(ctx, key, 1, ttl)
	if err != nil {
		g.logger.Warn("quota counter failed, allowing dispatch",
			"namespace", act.Namespace, "tenant", act.Tenant, "error", err)
		return nil
	}
	if used <= pol.MaxActions {
		return nil
	}

	switch pol.Overage.Behavior {
	case quota.OverageBlock:
		if _, err := g.store.Increment(ctx, key, -1, 0); err != nil {
			g.logger.Warn("quota rollback failed", "key", key.String(), "error", err)
		}
		return action.QuotaExceeded(act.Tenant, pol.MaxActions, used, quota.OverageBlock)

	case quota.OverageDegrade:
		return action.QuotaExceeded(act.Tenant, pol.MaxActions, used,
			"degrade:"+pol.Overage.Fallback)

	case quota.OverageNotify:
		g.logger.Warn("tenant over quota",
			"namespace", act.Namespace, "tenant", act.Tenant,
			"used", used, "limit", pol.MaxActions,
			"notify", pol.Overage.Target)
		return nil

	default: // warn
		g.logger.Warn("tenant over quota",
			"namespace", act.Namespace, "tenant", act.Tenant,
			"used", used, "limit", pol.MaxActions)
		return nil
	}
}

// quotaPolicy resolves the policy for (ns, tenant) through the cache.
func (g *Gateway) quotaPolicy(ctx context.Context, ns, tenant string) (*quota.Policy, error) {
	cacheKey := ns + "/" + tenant
	now := g.clock()

	g.qmu.Lock()
	if slot, ok := g.qcache[cacheKey]; ok && now.Sub(slot.fetched) < g.cfg.QuotaCacheTTL {
		g.qmu.Unlock()
		return slot.policy, nil
	}
	g.qmu.Unlock()

	pol, err := g.loadQuotaPolicy(ctx, ns, tenant)
	if err != nil {
		return nil, err
	}

	g.qmu.Lock()
	g.qcache[cacheKey] = cachedPolicy{policy: pol, fetched: now}
	g.qmu.Unlock()
	return pol, nil
}

func (g *Gateway) loadQuotaPolicy(ctx context.Context, ns, tenant string) (*quota.Policy, error) {
	id, ok, err := g.store.Get(ctx, quotaIndexKey(ns, tenant))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	raw, ok, err := g.store.Get(ctx, quotaPolicyKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Dangling index entry; treat as no policy.
		return nil, nil
	}

	var pol quota.Policy
	if err := json.Unmarshal([]byte(raw), &pol); err != nil {
		return nil, fmt.Errorf("decode quota policy %s: %w", id, err)
	}
	return &pol, nil
}

// SetQuotaPolicy validates and persists a policy, making it effective
// for new dispatches within the cache TTL.
func (g *Gateway) SetQuotaPolicy(ctx context.Context, pol *quota.Policy) error {
	if err := pol.Validate(); err != nil {
		return err
	}

	now := g.clock().UTC()
	if pol.ID == "" {
		pol.ID = uuid.NewString()
		pol.CreatedAt = now
	}
	pol.UpdatedAt = now

	raw, err := json.Marshal(pol)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, quotaPolicyKey(pol.ID), string(raw), 0); err != nil {
		return err
	}
	if err := g.store.Set(ctx, quotaIndexKey(pol.Namespace, pol.Tenant), pol.ID, 0); err != nil {
		return err
	}

	g.invalidateQuotaCache(pol.Namespace, pol.Tenant)
	g.logger.Info("quota policy set",
		"namespace", pol.Namespace, "tenant", pol.Tenant,
		"max_actions", pol.MaxActions, "window", pol.Window.Label(),
		"overage", pol.Overage.Behavior)
	return nil
}

// GetQuotaPolicy reads the stored policy, bypassing the cache. Nil
// without error means no policy exists.
func (g *Gateway) GetQuotaPolicy(ctx context.Context, ns, tenant string) (*quota.Policy, error) {
	return g.loadQuotaPolicy(ctx, ns, tenant)
}

// DeleteQuotaPolicy removes the policy for (ns, tenant), reporting
// whether one existed.
func (g *Gateway) DeleteQuotaPolicy(ctx context.Context, ns, tenant string) (bool, error) {
	id, ok, err := g.store.Get(ctx, quotaIndexKey(ns, tenant))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if _, err := g.store.Delete(ctx, quotaPolicyKey(id)); err != nil {
		return false, err
	}
	if _, err := g.store.Delete(ctx, quotaIndexKey(ns, tenant)); err != nil {
		return false, err
	}

	g.invalidateQuotaCache(ns, tenant)
	return true, nil
}

func (g *Gateway) invalidateQuotaCache(ns, tenant string) {
	g.qmu.Lock()
	delete(g.qcache, ns+"/"+tenant)
	g.qmu.Unlock()
}
