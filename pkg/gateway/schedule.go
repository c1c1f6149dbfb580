package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"penserai/acteon/pkg/action"
	"penserai/acteon/pkg/state"
)

// scheduledPrefix namespaces schedule entries inside the timeout kind
// so the sweep handler can skip unrelated timeout keys.
const scheduledPrefix = "sched:"

// scheduledRetainAfterFire keeps the parked action readable past its
// deadline, so a fire whose handler keeps failing can still be retried
// on later sweep passes.
const scheduledRetainAfterFire = 24 * time.Hour

func scheduledDeadlineKey(ns, tenant, actionID string) state.Key {
	return state.NewKey(ns, tenant, state.KindTimeout, scheduledPrefix+actionID)
}

func scheduledActionKey(ns, tenant, actionID string) state.Key {
	return state.NewKey(ns, tenant, state.KindState, scheduledPrefix+actionID)
}

// ScheduleAt parks the action for dispatch at a future time. Quota is
// counted now, at submission; the deferred dispatch carries an internal
// flag so it is not counted twice when the sweeper fires it. A deadline
// at or before the current time dispatches immediately.
func (g *Gateway) ScheduleAt(ctx context.Context, act *action.Action, at time.Time) (*action.Outcome, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}

	now := g.clock()
	if !at.After(now) {
		return g.Dispatch(ctx, act)
	}

	if !internalDispatch(act) {
		if outcome := g.checkQuota(ctx, act); outcome != nil {
			g.finish(ctx, act, nil, outcome, now)
			return outcome, nil
		}
	}

	raw, err := json.Marshal(act)
	if err != nil {
		return nil, err
	}

	ttl := at.Sub(now) + scheduledRetainAfterFire
	if err := g.store.Set(ctx, scheduledActionKey(act.Namespace, act.Tenant, act.ID), string(raw), ttl); err != nil {
		return nil, err
	}
	if err := g.store.Set(ctx, scheduledDeadlineKey(act.Namespace, act.Tenant, act.ID), at.UTC().Format(time.RFC3339), ttl); err != nil {
		return nil, err
	}

	g.logger.Info("action scheduled",
		"action_id", act.ID,
		"namespace", act.Namespace,
		"tenant", act.Tenant,
		"at", at.UTC().Format(time.RFC3339))

	outcome := action.Scheduled(at.UTC())
	g.finish(ctx, act, nil, outcome, now)
	return outcome, nil
}

// ScheduledSweepFunc adapts the gateway into a Sweeper handler that
// fires parked actions once their deadline passes. The stored action is
// deleted only after its dispatch returns an outcome, so a failed fire
// is retried on a later pass once the sweep claim expires.
func (g *Gateway) ScheduledSweepFunc() SweepFunc {
	return func(ctx context.Context, key state.Key, _ time.Time) error {
		if !strings.HasPrefix(key.ID, scheduledPrefix) {
			return nil
		}

		stored := state.NewKey(key.Namespace, key.Tenant, state.KindState, key.ID)
		raw, ok, err := g.store.Get(ctx, stored)
		if err != nil {
			return err
		}
		if !ok {
			// Already fired elsewhere, or expired unclaimed.
			return nil
		}

		var act action.Action
		if err := json.Unmarshal([]byte(raw), &act); err != nil {
			return fmt.Errorf("decode scheduled action %s: %w", key.ID, err)
		}

		payload, err := sjson.SetBytes(act.Payload, "_scheduled_dispatch", true)
		if err != nil {
			return err
		}
		act.Payload = payload

		if _, err := g.Dispatch(ctx, &act); err != nil {
			return err
		}

		if _, err := g.store.Delete(ctx, stored); err != nil {
			g.logger.Warn("scheduled action cleanup failed", "key", stored.String(), "error", err)
		}
		return nil
	}
}
