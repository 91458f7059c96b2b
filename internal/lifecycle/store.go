package lifecycle

import "context"

// CheckpointStore persists CompactionCheckpoints so compaction can resume
// across process restarts (spec.md §4.4 step 2).
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, manifestID string) (CompactionCheckpoint, bool, error)
	PutCheckpoint(ctx context.Context, checkpoint CompactionCheckpoint) error
}

// RetentionPolicyStore supplies the retention policy for a dataset.
type RetentionPolicyStore interface {
	GetRetentionPolicy(ctx context.Context, datasetID string) (RetentionPolicy, bool, error)
}

// CacheInvalidator is the subset of manifestcache.Cache the lifecycle
// engine needs: dropping a shard's cached snapshot after a mutation.
type CacheInvalidator interface {
	Invalidate(datasetID, shard string)
}
