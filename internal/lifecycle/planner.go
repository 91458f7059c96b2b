package lifecycle

import (
	"fmt"
	"sort"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
	"github.com/R3E-Network/workflow_platform/internal/partitionio"
)

// PlannerConfig bounds the compaction planner's grouping decisions
// (spec.md §4.4 step 1).
type PlannerConfig struct {
	TargetPartitionBytes int64
	MaxPartitionsPerGroup int
	SmallPartitionBytes   int64
}

// PlanCompaction groups manifest's eligible partitions (duckdb format,
// size ≤ SmallPartitionBytes) ordered by StartTime into CompactionGroups,
// each capped at TargetPartitionBytes/MaxPartitionsPerGroup and sharing a
// single (storageTargetId, tableName). Groups of size 1 are discarded, as
// they carry no compaction benefit. Each returned group is stamped with a
// deterministic replacement partition id via partitionio.NewPartitionID.
func PlanCompaction(datasetID, manifestShard string, partitions []manifeststore.Partition, cfg PlannerConfig) []CompactionGroup {
	eligible := make([]manifeststore.Partition, 0, len(partitions))
	for _, p := range partitions {
		if p.FileFormat != manifeststore.WriteFormatDuckDB {
			continue
		}
		if p.FileSizeBytes == nil || *p.FileSizeBytes > cfg.SmallPartitionBytes {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].StartTime.Before(eligible[j].StartTime) })

	// Bucket by (storageTargetId, tableName), keeping StartTime order inside
	// each bucket, so interleaved partitions of one key still group together.
	type bucketKey struct{ target, table string }
	var bucketOrder []bucketKey
	buckets := make(map[bucketKey][]manifeststore.Partition)
	for _, p := range eligible {
		k := bucketKey{p.StorageTargetID, p.Metadata.TableName}
		if _, ok := buckets[k]; !ok {
			bucketOrder = append(bucketOrder, k)
		}
		buckets[k] = append(buckets[k], p)
	}
	eligible = eligible[:0]
	for _, k := range bucketOrder {
		eligible = append(eligible, buckets[k]...)
	}

	var groups []CompactionGroup
	var current *CompactionGroup
	var currentBytes int64
	var currentCount int

	flush := func() {
		if current != nil && currentCount > 1 {
			current.ReplacementPartitionID = partitionio.NewPartitionID(datasetID, manifestShard, current.StartTime, current.EndTime)
			groups = append(groups, *current)
		}
		current = nil
		currentBytes = 0
		currentCount = 0
	}

	for _, p := range eligible {
		size := int64(0)
		if p.FileSizeBytes != nil {
			size = *p.FileSizeBytes
		}

		startsNewGroup := current == nil ||
			current.StorageTargetID != p.StorageTargetID ||
			current.TableName != p.Metadata.TableName ||
			currentCount+1 > cfg.MaxPartitionsPerGroup ||
			currentBytes+size > cfg.TargetPartitionBytes

		if startsNewGroup {
			flush()
			current = &CompactionGroup{
				StorageTargetID: p.StorageTargetID,
				TableName:       p.Metadata.TableName,
				StartTime:       p.StartTime,
				EndTime:         p.EndTime,
			}
		}

		current.PartitionIDs = append(current.PartitionIDs, p.ID)
		currentBytes += size
		currentCount++
		if p.StartTime.Before(current.StartTime) {
			current.StartTime = p.StartTime
		}
		if p.EndTime.After(current.EndTime) {
			current.EndTime = p.EndTime
		}
		current.TotalBytes = currentBytes
	}
	flush()

	for i := range groups {
		groups[i].ID = fmt.Sprintf("group-%d", i)
	}
	return groups
}
