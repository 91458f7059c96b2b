package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

// RetentionExecutor removes partitions that have aged out or that push a
// dataset's published manifest past its configured total-byte ceiling
// (spec.md §4.4's retention pass).
type RetentionExecutor struct {
	store    manifeststore.Store
	policies RetentionPolicyStore
	cache    CacheInvalidator
}

// NewRetentionExecutor builds a RetentionExecutor.
func NewRetentionExecutor(store manifeststore.Store, policies RetentionPolicyStore, cache CacheInvalidator) *RetentionExecutor {
	return &RetentionExecutor{store: store, policies: policies, cache: cache}
}

// Enforce applies datasetID's retention policy (if any) to the given
// manifest, removing expired/over-budget partitions in a single
// ReplacePartitionsInManifest call and emitting one audit event per removed
// partition. It reports the number of partitions removed.
func (e *RetentionExecutor) Enforce(ctx context.Context, datasetID, manifestID string, now time.Time) (int, error) {
	policy, found, err := e.policies.GetRetentionPolicy(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}

	manifest, err := e.store.GetManifest(ctx, manifestID)
	if err != nil {
		return 0, err
	}

	expired := make(map[string]struct{})
	if maxAge, ok := policy.maxAge(); ok {
		cutoff := now.Add(-maxAge)
		for _, p := range manifest.Partitions {
			if p.EndTime.Before(cutoff) || p.EndTime.Equal(cutoff) {
				expired[p.ID] = struct{}{}
			}
		}
	}

	if policy.MaxTotalBytes != nil {
		remaining := make([]manifeststore.Partition, 0, len(manifest.Partitions))
		for _, p := range manifest.Partitions {
			if _, already := expired[p.ID]; !already {
				remaining = append(remaining, p)
			}
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].StartTime.Before(remaining[j].StartTime) })

		var total int64
		for _, p := range remaining {
			if p.FileSizeBytes != nil {
				total += *p.FileSizeBytes
			}
		}
		for _, p := range remaining {
			if total <= *policy.MaxTotalBytes {
				break
			}
			expired[p.ID] = struct{}{}
			if p.FileSizeBytes != nil {
				total -= *p.FileSizeBytes
			}
		}
	}

	if len(expired) == 0 {
		return 0, nil
	}

	removeIDs := make([]string, 0, len(expired))
	byID := make(map[string]manifeststore.Partition, len(manifest.Partitions))
	for _, p := range manifest.Partitions {
		byID[p.ID] = p
	}
	for id := range expired {
		removeIDs = append(removeIDs, id)
	}
	sort.Strings(removeIDs)

	if _, err := e.store.ReplacePartitionsInManifest(ctx, manifeststore.ReplacePartitionsInput{
		ManifestID:         manifestID,
		RemovePartitionIDs: removeIDs,
	}); err != nil {
		return 0, err
	}

	for _, id := range removeIDs {
		p := byID[id]
		if err := e.store.AppendAuditEvent(ctx, auditEvent(datasetID, "retention.partition.expired", map[string]any{
			"manifestId": manifestID, "partitionId": id, "endTime": p.EndTime, "policyId": policy.ID,
		})); err != nil {
			return 0, err
		}
	}

	if e.cache != nil {
		e.cache.Invalidate(datasetID, manifest.Manifest.ManifestShard)
	}
	return len(removeIDs), nil
}
