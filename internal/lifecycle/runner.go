package lifecycle

import (
	"context"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/logging"
	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

// Runner sweeps every active dataset's shards on a tick, driving one
// compaction chunk and one retention pass per shard, the way the teacher's
// domain/datafeeds aggregation job walks its subscription set on each
// scheduler tick rather than reacting to individual writes.
type Runner struct {
	store               manifeststore.Store
	compaction          *CompactionExecutor
	retention           *RetentionExecutor
	logger              *logging.Logger
	chunkPartitionLimit int
}

// NewRunner builds a Runner.
func NewRunner(store manifeststore.Store, compaction *CompactionExecutor, retention *RetentionExecutor, logger *logging.Logger, chunkPartitionLimit int) *Runner {
	if chunkPartitionLimit <= 0 {
		chunkPartitionLimit = 8
	}
	return &Runner{store: store, compaction: compaction, retention: retention, logger: logger, chunkPartitionLimit: chunkPartitionLimit}
}

// RunOnce performs one sweep across every active dataset's manifest
// shards, logging but not aborting on a single shard's failure so one
// stuck dataset doesn't block the rest.
func (r *Runner) RunOnce(ctx context.Context) error {
	datasets, err := r.store.ListActiveDatasets(ctx)
	if err != nil {
		return err
	}

	for _, ds := range datasets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		shards, err := r.store.ListManifestShards(ctx, ds.ID)
		if err != nil {
			r.logf(ds.Slug, "", "list shards: %v", err)
			continue
		}
		for _, shard := range shards {
			r.runShard(ctx, ds, shard)
		}
	}
	return nil
}

func (r *Runner) runShard(ctx context.Context, ds manifeststore.Dataset, shard string) {
	manifest, found, err := r.store.GetLatestPublishedManifest(ctx, ds.ID, shard)
	if err != nil {
		r.logf(ds.Slug, shard, "get latest manifest: %v", err)
		return
	}
	if !found {
		return
	}

	if r.retention != nil {
		if _, err := r.retention.Enforce(ctx, ds.ID, manifest.Manifest.ID, time.Now().UTC()); err != nil {
			r.logf(ds.Slug, shard, "retention enforce: %v", err)
		}
	}

	if r.compaction != nil {
		if _, err := r.compaction.RunChunk(ctx, manifest.Manifest.ID, ds.Slug, r.chunkPartitionLimit); err != nil {
			r.logf(ds.Slug, shard, "compaction chunk: %v", err)
		}
	}
}

func (r *Runner) logf(slug, shard, format string, args ...any) {
	if r.logger == nil {
		return
	}
	entry := r.logger.Component("lifecycle-runner").WithField("dataset", slug)
	if shard != "" {
		entry = entry.WithField("shard", shard)
	}
	entry.Warnf(format, args...)
}
