package assetgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

func TestTryClaimRejectsSecondActiveClaim(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewClaimManager(store)
	ctx := context.Background()

	_, err := mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.NoError(t, err)

	_, err = mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict))
}

func TestClaimLifecycleReleaseAllowsReclaim(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewClaimManager(store)
	ctx := context.Background()

	claim, err := mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.NoError(t, err)
	require.NoError(t, mgr.Claimed(ctx, claim, "run-1", "dispatcher"))

	claimed, _, err := store.FindActiveClaim(ctx, "wf-1", "daily_rollup", nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(ctx, claimed))

	_, err = mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.NoError(t, err)
}

func TestFailSetsCooldownThenBlocksUntilEligible(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewClaimManager(store)
	ctx := context.Background()

	claim, err := mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.NoError(t, err)
	require.NoError(t, mgr.Fail(ctx, claim))

	_, err = mgr.TryClaim(ctx, "wf-1", "daily_rollup", nil, "upstream-updated")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindThrottled))
}

func TestCooldownGrowsExponentiallyAndCaps(t *testing.T) {
	assert.Equal(t, cooldownBaseDelay, cooldown(1))
	assert.Equal(t, cooldownBaseDelay*2, cooldown(2))
	assert.Equal(t, cooldownMaxDelay, cooldown(20))
}
