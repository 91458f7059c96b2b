package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
	"github.com/R3E-Network/workflow_platform/internal/partitionio"
)

// CompactionExecutor drives spec.md §4.4's chunked, checkpointed compaction
// algorithm.
type CompactionExecutor struct {
	store       manifeststore.Store
	checkpoints CheckpointStore
	adapter     partitionio.Adapter
	cache       CacheInvalidator
	cfg         PlannerConfig
}

// NewCompactionExecutor builds a CompactionExecutor. cache may be nil if
// the caller invalidates the manifest cache itself.
func NewCompactionExecutor(store manifeststore.Store, checkpoints CheckpointStore, adapter partitionio.Adapter, cache CacheInvalidator, cfg PlannerConfig) *CompactionExecutor {
	return &CompactionExecutor{store: store, checkpoints: checkpoints, adapter: adapter, cache: cache, cfg: cfg}
}

// RunChunk executes at most one chunk of the compaction plan for
// manifestID, creating or resuming its checkpoint as needed, and reports
// whether the plan is now fully completed.
func (e *CompactionExecutor) RunChunk(ctx context.Context, manifestID, datasetSlug string, chunkPartitionLimit int) (bool, error) {
	manifest, err := e.store.GetManifest(ctx, manifestID)
	if err != nil {
		return false, err
	}

	checkpoint, found, err := e.checkpoints.GetCheckpoint(ctx, manifestID)
	if err != nil {
		return false, err
	}
	if !found || checkpoint.ChunkPartitionLimit != chunkPartitionLimit {
		groups := PlanCompaction(manifest.Manifest.DatasetID, manifest.Manifest.ManifestShard, manifest.Partitions, e.cfg)
		now := time.Now().UTC()
		checkpoint = CompactionCheckpoint{
			ID:                  uuid.NewString(),
			ManifestID:          manifestID,
			Status:              CheckpointPending,
			ChunkPartitionLimit: chunkPartitionLimit,
			Groups:              groups,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
	}

	if checkpoint.Status == CheckpointCompleted {
		return true, nil
	}

	resuming := checkpoint.Status == CheckpointFailed
	if resuming {
		checkpoint.RetryCount++
		if err := e.store.AppendAuditEvent(ctx, auditEvent(manifest.Manifest.DatasetID, "compaction.resume", map[string]any{
			"manifestId": manifestID, "cursor": checkpoint.Cursor, "retryCount": checkpoint.RetryCount,
		})); err != nil {
			return false, err
		}
	}
	checkpoint.Status = CheckpointRunning

	byID := make(map[string]manifeststore.Partition, len(manifest.Partitions))
	for _, p := range manifest.Partitions {
		byID[p.ID] = p
	}

	var (
		selected     []CompactionGroup
		selectedCount int
	)
	for i := checkpoint.Cursor; i < len(checkpoint.Groups); i++ {
		g := checkpoint.Groups[i]
		if checkpoint.isGroupComplete(g.ID) {
			continue
		}
		if len(selected) > 0 && selectedCount+len(g.PartitionIDs) > chunkPartitionLimit {
			break
		}
		selected = append(selected, g)
		selectedCount += len(g.PartitionIDs)
	}

	if len(selected) == 0 {
		checkpoint.Status = CheckpointCompleted
		checkpoint.UpdatedAt = time.Now().UTC()
		if err := e.checkpoints.PutCheckpoint(ctx, checkpoint); err != nil {
			return false, err
		}
		if e.cache != nil {
			e.cache.Invalidate(manifest.Manifest.DatasetID, manifest.Manifest.ManifestShard)
		}
		return true, nil
	}

	var (
		replaceIn = manifeststore.ReplacePartitionsInput{ManifestID: manifestID}
		compacted []CompactionGroup
		skipped   []CompactionGroup
		rowsTotal int64
	)

	for _, g := range selected {
		missing := false
		var rowSum int64
		var first manifeststore.Partition
		for i, pid := range g.PartitionIDs {
			p, ok := byID[pid]
			if !ok {
				missing = true
				break
			}
			if i == 0 {
				first = p
			}
			if p.RowCount != nil {
				rowSum += *p.RowCount
			}
		}

		if missing {
			skipped = append(skipped, g)
			continue
		}

		result, err := e.adapter.WritePartition(ctx, partitionio.WriteInput{
			DatasetSlug:  datasetSlug,
			PartitionID:  g.ReplacementPartitionID,
			PartitionKey: first.PartitionKey,
			TableName:    g.TableName,
			RowCountHint: &rowSum,
		})
		if err != nil {
			for gi := range checkpoint.Groups {
				if checkpoint.Groups[gi].ID == g.ID {
					checkpoint.Groups[gi].ChunkAttempts++
					break
				}
			}
			msg := err.Error()
			checkpoint.LastError = &msg
			checkpoint.Status = CheckpointFailed
			_ = e.checkpoints.PutCheckpoint(ctx, checkpoint)
			return false, apperrors.Wrap(apperrors.KindStorageIO, fmt.Sprintf("materialize compaction group %s", g.ID), err)
		}

		replaceIn.Add = append(replaceIn.Add, manifeststore.CreateManifestPartitionInput{
			PartitionKey:    first.PartitionKey,
			StorageTargetID: g.StorageTargetID,
			FileFormat:      manifeststore.WriteFormatDuckDB,
			FilePath:        result.RelativePath,
			FileSizeBytes:   &result.FileSizeBytes,
			RowCount:        &result.RowCount,
			StartTime:       g.StartTime,
			EndTime:         g.EndTime,
			Checksum:        &result.Checksum,
			Metadata:        manifeststore.PartitionMetadata{TableName: g.TableName},
		})
		replaceIn.RemovePartitionIDs = append(replaceIn.RemovePartitionIDs, g.PartitionIDs...)
		compacted = append(compacted, g)
		rowsTotal += result.RowCount
	}

	if _, err := e.store.ReplacePartitionsInManifest(ctx, replaceIn); err != nil {
		msg := err.Error()
		checkpoint.LastError = &msg
		checkpoint.Status = CheckpointFailed
		_ = e.checkpoints.PutCheckpoint(ctx, checkpoint)
		return false, err
	}

	for _, g := range compacted {
		checkpoint.CompletedGroupIDs = append(checkpoint.CompletedGroupIDs, g.ID)
		if err := e.store.AppendAuditEvent(ctx, auditEvent(manifest.Manifest.DatasetID, "compaction.group.compacted", map[string]any{
			"manifestId": manifestID, "groupId": g.ID, "partitionIds": g.PartitionIDs, "replacementPartitionId": g.ReplacementPartitionID,
		})); err != nil {
			return false, err
		}
	}
	for _, g := range skipped {
		checkpoint.CompletedGroupIDs = append(checkpoint.CompletedGroupIDs, g.ID)
		if err := e.store.AppendAuditEvent(ctx, auditEvent(manifest.Manifest.DatasetID, "compaction.group.skipped", map[string]any{
			"manifestId": manifestID, "groupId": g.ID, "reason": "source partition missing",
		})); err != nil {
			return false, err
		}
	}

	checkpoint.Cursor += len(selected)
	checkpoint.LastError = nil
	checkpoint.appendChunkHistory(ChunkRecord{
		Index: len(checkpoint.ChunkHistory), GroupIDs: groupIDs(selected), RowsWritten: rowsTotal, CompletedAt: time.Now().UTC(),
	})

	done := checkpoint.Cursor >= len(checkpoint.Groups)
	if done {
		checkpoint.Status = CheckpointCompleted
	} else {
		checkpoint.Status = CheckpointRunning
	}
	checkpoint.UpdatedAt = time.Now().UTC()
	if err := e.checkpoints.PutCheckpoint(ctx, checkpoint); err != nil {
		return false, err
	}
	if done && e.cache != nil {
		e.cache.Invalidate(manifest.Manifest.DatasetID, manifest.Manifest.ManifestShard)
	}
	return done, nil
}

func groupIDs(groups []CompactionGroup) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ID)
	}
	return out
}

func auditEvent(datasetID, kind string, detail map[string]any) manifeststore.AuditEvent {
	v, _ := jsonvalue.FromAny(detail)
	return manifeststore.AuditEvent{ID: uuid.NewString(), DatasetID: datasetID, Kind: kind, Detail: v, CreatedAt: time.Now().UTC()}
}
