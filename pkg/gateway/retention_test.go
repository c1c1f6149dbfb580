package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"penserai/acteon/pkg/audit"
)

func TestRetentionPolicyCRUD(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	err := env.gw.SetRetentionPolicy(ctx, &audit.RetentionPolicy{Namespace: "alerts", Tenant: "acme"})
	require.Error(t, err, "zero days must be rejected")

	require.NoError(t, env.gw.SetRetentionPolicy(ctx, &audit.RetentionPolicy{
		Namespace: "alerts",
		Tenant:    "acme",
		Days:      7,
	}))

	pol, err := env.gw.GetRetentionPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	require.NotNil(t, pol)
	assert.Equal(t, 7, pol.Days)
	assert.Equal(t, env.clock.Now().UTC(), pol.UpdatedAt)

	pol, err = env.gw.GetRetentionPolicy(ctx, "alerts", "other")
	require.NoError(t, err)
	assert.Nil(t, pol)

	existed, err := env.gw.DeleteRetentionPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = env.gw.DeleteRetentionPolicy(ctx, "alerts", "acme")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRetentionPolicyOverridesDefault(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, WithAuditRetention(24*time.Hour))
	ctx := context.Background()

	require.NoError(t, env.gw.SetRetentionPolicy(ctx, &audit.RetentionPolicy{
		Namespace: "alerts",
		Tenant:    "acme",
		Days:      7,
	}))

	_, err := env.gw.Dispatch(ctx, newAction(""))
	require.NoError(t, err)

	recs, err := env.audits.Query(ctx, &audit.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), *recs[0].ExpiresAt)
}
