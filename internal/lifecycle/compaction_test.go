package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
	"github.com/R3E-Network/workflow_platform/internal/partitionio"
)

func seedManifest(t *testing.T, store *manifeststore.MemoryStore, n int) (datasetID, manifestID string) {
	t.Helper()
	ctx := context.Background()
	ds, err := store.CreateDataset(ctx, manifeststore.CreateDatasetInput{Slug: "events", Name: "events", WriteFormat: manifeststore.WriteFormatDuckDB})
	require.NoError(t, err)
	target, err := store.UpsertStorageTarget(ctx, manifeststore.StorageTarget{Kind: "local"})
	require.NoError(t, err)
	sv, err := store.CreateSchemaVersion(ctx, manifeststore.CreateSchemaVersionInput{DatasetID: ds.ID})
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var inputs []manifeststore.CreateManifestPartitionInput
	for i := 0; i < n; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		size := int64(1_000)
		rows := int64(100)
		inputs = append(inputs, manifeststore.CreateManifestPartitionInput{
			StorageTargetID: target.ID, FileFormat: manifeststore.WriteFormatDuckDB,
			FilePath: "x", FileSizeBytes: &size, RowCount: &rows,
			StartTime: start, EndTime: start.Add(time.Hour),
			Metadata: manifeststore.PartitionMetadata{TableName: "events"},
		})
	}
	mf, err := store.CreateDatasetManifest(ctx, manifeststore.CreateDatasetManifestInput{
		DatasetID: ds.ID, Version: 1, Status: manifeststore.ManifestPublished, SchemaVersionID: sv.ID,
		ManifestShard: "shard-0", Partitions: inputs,
	})
	require.NoError(t, err)
	return ds.ID, mf.Manifest.ID
}

func newTestExecutor(store *manifeststore.MemoryStore) (*CompactionExecutor, *MemoryCheckpointStore) {
	return newTestExecutorWithConfig(store, PlannerConfig{TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000})
}

func newTestExecutorWithConfig(store *manifeststore.MemoryStore, cfg PlannerConfig) (*CompactionExecutor, *MemoryCheckpointStore) {
	checkpoints := NewMemoryCheckpointStore()
	adapter := partitionio.NewLocalFSAdapter(".")
	exec := NewCompactionExecutor(store, checkpoints, adapter, NoopCacheInvalidator{}, cfg)
	return exec, checkpoints
}

func TestCompactionRunChunkCompactsAllPartitionsInOneChunk(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	_, manifestID := seedManifest(t, store, 3)
	exec, _ := newTestExecutor(store)

	done, err := exec.RunChunk(context.Background(), manifestID, "events", 10)
	require.NoError(t, err)
	assert.True(t, done)

	manifest, err := store.GetManifest(context.Background(), manifestID)
	require.NoError(t, err)
	assert.Len(t, manifest.Partitions, 1)
}

func TestCompactionRunChunkStopsAtChunkLimitThenFinishes(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	_, manifestID := seedManifest(t, store, 6)
	exec, checkpoints := newTestExecutorWithConfig(store, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 3, SmallPartitionBytes: 10_000,
	})

	done, err := exec.RunChunk(context.Background(), manifestID, "events", 3)
	require.NoError(t, err)
	assert.False(t, done)

	cp, found, err := checkpoints.GetCheckpoint(context.Background(), manifestID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CheckpointRunning, cp.Status)
	assert.Len(t, cp.Groups, 2)

	done, err = exec.RunChunk(context.Background(), manifestID, "events", 3)
	require.NoError(t, err)
	assert.True(t, done)

	manifest, err := store.GetManifest(context.Background(), manifestID)
	require.NoError(t, err)
	assert.Len(t, manifest.Partitions, 2)
}

func TestCompactionRunChunkIsIdempotentOnceCompleted(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	_, manifestID := seedManifest(t, store, 3)
	exec, _ := newTestExecutor(store)

	_, err := exec.RunChunk(context.Background(), manifestID, "events", 10)
	require.NoError(t, err)

	done, err := exec.RunChunk(context.Background(), manifestID, "events", 10)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCompactionRunChunkSkipsGroupWithMissingSourcePartition(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	_, manifestID := seedManifest(t, store, 3)
	exec, checkpoints := newTestExecutor(store)

	groups := PlanCompaction("events", "shard-0", mustPartitions(t, store, manifestID), PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	require.Len(t, groups, 1)
	groups[0].PartitionIDs = append(groups[0].PartitionIDs, "does-not-exist")

	now := time.Now().UTC()
	require.NoError(t, checkpoints.PutCheckpoint(context.Background(), CompactionCheckpoint{
		ManifestID: manifestID, Status: CheckpointPending, ChunkPartitionLimit: 10, Groups: groups,
		CreatedAt: now, UpdatedAt: now,
	}))

	done, err := exec.RunChunk(context.Background(), manifestID, "events", 10)
	require.NoError(t, err)
	assert.True(t, done)

	manifest, err := store.GetManifest(context.Background(), manifestID)
	require.NoError(t, err)
	assert.Len(t, manifest.Partitions, 3, "skipped group's source partitions are left untouched")
}

func TestCompactionRunChunkEmitsResumeAuditEventAfterFailure(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	datasetID, manifestID := seedManifest(t, store, 3)
	checkpoints := NewMemoryCheckpointStore()
	now := time.Now().UTC()
	require.NoError(t, checkpoints.PutCheckpoint(context.Background(), CompactionCheckpoint{
		ManifestID: manifestID, Status: CheckpointFailed, ChunkPartitionLimit: 10,
		Groups: PlanCompaction("events", "shard-0", mustPartitions(t, store, manifestID), PlannerConfig{
			TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
		}),
		CreatedAt: now, UpdatedAt: now,
	}))
	adapter := partitionio.NewLocalFSAdapter(t.TempDir())
	exec := NewCompactionExecutor(store, checkpoints, adapter, NoopCacheInvalidator{}, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})

	_, err := exec.RunChunk(context.Background(), manifestID, "events", 10)
	require.NoError(t, err)

	events, err := store.ListAuditLog(context.Background(), datasetID, time.Time{}, 50)
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.Kind == "compaction.resume" {
			found = true
		}
	}
	assert.True(t, found, "expected a compaction.resume audit event")
}

func mustPartitions(t *testing.T, store *manifeststore.MemoryStore, manifestID string) []manifeststore.Partition {
	t.Helper()
	m, err := store.GetManifest(context.Background(), manifestID)
	require.NoError(t, err)
	return m.Partitions
}
