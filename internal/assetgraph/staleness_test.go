package assetgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/dag"
)

func TestIsStaleWhenExplicitlyMarked(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.MarkStale(ctx, "daily_rollup", nil))

	stale, err := IsStale(ctx, store, BuildGraph(nil), "daily_rollup", nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStaleWhenUpstreamNewer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	graph := BuildGraph([]dag.WorkflowDefinition{
		{Steps: []dag.WorkflowStep{{
			Consumes: []dag.AssetDeclaration{{AssetID: "raw_events"}},
			Produces: []dag.AssetDeclaration{{AssetID: "daily_rollup"}},
		}}},
	})

	now := time.Now().UTC()
	require.NoError(t, store.PutSnapshot(ctx, AssetSnapshot{AssetID: "daily_rollup", ProducedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.PutSnapshot(ctx, AssetSnapshot{AssetID: "raw_events", ProducedAt: now}))

	stale, err := IsStale(ctx, store, graph, "daily_rollup", nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIsStaleFalseWhenDownstreamNewer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	graph := BuildGraph([]dag.WorkflowDefinition{
		{Steps: []dag.WorkflowStep{{
			Consumes: []dag.AssetDeclaration{{AssetID: "raw_events"}},
			Produces: []dag.AssetDeclaration{{AssetID: "daily_rollup"}},
		}}},
	})

	now := time.Now().UTC()
	require.NoError(t, store.PutSnapshot(ctx, AssetSnapshot{AssetID: "raw_events", ProducedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.PutSnapshot(ctx, AssetSnapshot{AssetID: "daily_rollup", ProducedAt: now}))

	stale, err := IsStale(ctx, store, graph, "daily_rollup", nil)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestIsStaleFalseWhenNotYetMaterialized(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stale, err := IsStale(ctx, store, BuildGraph(nil), "daily_rollup", nil)
	require.NoError(t, err)
	assert.False(t, stale)
}
