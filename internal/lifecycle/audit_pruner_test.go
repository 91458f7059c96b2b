package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

func TestAuditPrunerRemovesRowsOlderThanRetentionInBatches(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAuditEvent(ctx, manifeststore.AuditEvent{
			DatasetID: "ds-1", Kind: "test.event", CreatedAt: now.Add(-time.Duration(20+i) * 24 * time.Hour),
		}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, store.AppendAuditEvent(ctx, manifeststore.AuditEvent{
			DatasetID: "ds-1", Kind: "test.event", CreatedAt: now.Add(-time.Hour),
		}))
	}

	pruner := NewAuditPruner(store, 7*24*time.Hour, 2)
	removed, err := pruner.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 5, removed)

	remaining, err := store.ListAuditLog(ctx, "ds-1", time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestAuditPrunerStopsOnContextCancellation(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pruner := NewAuditPruner(store, time.Hour, 10)
	_, err := pruner.Run(ctx, time.Now())
	assert.Error(t, err)
}
