package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

func TestRetentionEnforceRemovesPartitionsOlderThanMaxAge(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	ctx := context.Background()
	ds, err := store.CreateDataset(ctx, manifeststore.CreateDatasetInput{Slug: "events", WriteFormat: manifeststore.WriteFormatDuckDB})
	require.NoError(t, err)
	target, err := store.UpsertStorageTarget(ctx, manifeststore.StorageTarget{Kind: "local"})
	require.NoError(t, err)
	sv, err := store.CreateSchemaVersion(ctx, manifeststore.CreateSchemaVersionInput{DatasetID: ds.ID})
	require.NoError(t, err)

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-1 * time.Hour)
	size := int64(100)
	mf, err := store.CreateDatasetManifest(ctx, manifeststore.CreateDatasetManifestInput{
		DatasetID: ds.ID, Version: 1, Status: manifeststore.ManifestPublished, SchemaVersionID: sv.ID, ManifestShard: "shard-0",
		Partitions: []manifeststore.CreateManifestPartitionInput{
			{StorageTargetID: target.ID, FileFormat: manifeststore.WriteFormatDuckDB, FilePath: "old", FileSizeBytes: &size, StartTime: old, EndTime: old.Add(time.Hour), Metadata: manifeststore.PartitionMetadata{TableName: "events"}},
			{StorageTargetID: target.ID, FileFormat: manifeststore.WriteFormatDuckDB, FilePath: "recent", FileSizeBytes: &size, StartTime: recent, EndTime: recent.Add(time.Hour), Metadata: manifeststore.PartitionMetadata{TableName: "events"}},
		},
	})
	require.NoError(t, err)

	policies := NewMemoryRetentionPolicyStore()
	maxAgeMs := int64((24 * time.Hour).Milliseconds())
	policies.Put(RetentionPolicy{ID: "rp-1", DatasetID: ds.ID, MaxAgeMs: &maxAgeMs})

	exec := NewRetentionExecutor(store, policies, NoopCacheInvalidator{})
	removed, err := exec.Enforce(ctx, ds.ID, mf.Manifest.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	manifest, err := store.GetManifest(ctx, mf.Manifest.ID)
	require.NoError(t, err)
	require.Len(t, manifest.Partitions, 1)
	assert.Equal(t, "recent", manifest.Partitions[0].FilePath)

	events, err := store.ListAuditLog(ctx, ds.ID, time.Time{}, 50)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "retention.partition.expired", events[0].Kind)
}

func TestRetentionEnforceRemovesOldestUntilUnderByteCap(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	ctx := context.Background()
	ds, err := store.CreateDataset(ctx, manifeststore.CreateDatasetInput{Slug: "events", WriteFormat: manifeststore.WriteFormatDuckDB})
	require.NoError(t, err)
	target, err := store.UpsertStorageTarget(ctx, manifeststore.StorageTarget{Kind: "local"})
	require.NoError(t, err)
	sv, err := store.CreateSchemaVersion(ctx, manifeststore.CreateSchemaVersionInput{DatasetID: ds.ID})
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	size := int64(1_000)
	var inputs []manifeststore.CreateManifestPartitionInput
	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		inputs = append(inputs, manifeststore.CreateManifestPartitionInput{
			StorageTargetID: target.ID, FileFormat: manifeststore.WriteFormatDuckDB, FilePath: "p", FileSizeBytes: &size,
			StartTime: start, EndTime: start.Add(time.Hour), Metadata: manifeststore.PartitionMetadata{TableName: "events"},
		})
	}
	mf, err := store.CreateDatasetManifest(ctx, manifeststore.CreateDatasetManifestInput{
		DatasetID: ds.ID, Version: 1, Status: manifeststore.ManifestPublished, SchemaVersionID: sv.ID, ManifestShard: "shard-0", Partitions: inputs,
	})
	require.NoError(t, err)

	policies := NewMemoryRetentionPolicyStore()
	capBytes := int64(2_000)
	policies.Put(RetentionPolicy{ID: "rp-1", DatasetID: ds.ID, MaxTotalBytes: &capBytes})

	exec := NewRetentionExecutor(store, policies, NoopCacheInvalidator{})
	removed, err := exec.Enforce(ctx, ds.ID, mf.Manifest.ID, base.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	manifest, err := store.GetManifest(ctx, mf.Manifest.ID)
	require.NoError(t, err)
	assert.Len(t, manifest.Partitions, 2)
}

func TestRetentionEnforceNoopWithoutPolicy(t *testing.T) {
	store := manifeststore.NewMemoryStore()
	ctx := context.Background()
	ds, err := store.CreateDataset(ctx, manifeststore.CreateDatasetInput{Slug: "events", WriteFormat: manifeststore.WriteFormatDuckDB})
	require.NoError(t, err)
	sv, err := store.CreateSchemaVersion(ctx, manifeststore.CreateSchemaVersionInput{DatasetID: ds.ID})
	require.NoError(t, err)
	mf, err := store.CreateDatasetManifest(ctx, manifeststore.CreateDatasetManifestInput{
		DatasetID: ds.ID, Version: 1, Status: manifeststore.ManifestPublished, SchemaVersionID: sv.ID, ManifestShard: "shard-0",
	})
	require.NoError(t, err)

	exec := NewRetentionExecutor(store, NewMemoryRetentionPolicyStore(), NoopCacheInvalidator{})
	removed, err := exec.Enforce(ctx, ds.ID, mf.Manifest.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
