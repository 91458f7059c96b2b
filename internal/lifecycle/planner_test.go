package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/R3E-Network/workflow_platform/internal/manifeststore"
)

func int64p(v int64) *int64 { return &v }

func partitionFixture(id, storageTarget, table string, start time.Time, bytes int64, format manifeststore.WriteFormat) manifeststore.Partition {
	return manifeststore.Partition{
		ID: id, StorageTargetID: storageTarget, FileFormat: format, FileSizeBytes: int64p(bytes),
		RowCount: int64p(bytes / 10), StartTime: start, EndTime: start.Add(time.Hour),
		Metadata: manifeststore.PartitionMetadata{TableName: table},
	}
}

func TestPlanCompactionGroupsSmallSameTargetPartitions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p2", "target-a", "events", base.Add(time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p3", "target-a", "events", base.Add(2*time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	if assert.Len(t, groups, 1) {
		assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, groups[0].PartitionIDs)
		assert.Equal(t, int64(3_000), groups[0].TotalBytes)
		assert.NotEmpty(t, groups[0].ReplacementPartitionID)
	}
}

func TestPlanCompactionDiscardsSingletonGroups(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 1_000, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	assert.Empty(t, groups)
}

func TestPlanCompactionSplitsByStorageTargetAndTable(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p2", "target-b", "events", base.Add(time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p3", "target-a", "metrics", base.Add(2*time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p4", "target-a", "events", base.Add(3*time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	assert.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"p1", "p4"}, groups[0].PartitionIDs)
}

func TestPlanCompactionExcludesLargePartitions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 1_000, manifeststore.WriteFormatDuckDB),
		partitionFixture("p2", "target-a", "events", base.Add(time.Hour), 1_000_000, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 10_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	assert.Empty(t, groups)
}

func TestPlanCompactionExcludesNonDuckDBPartitions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 1_000, manifeststore.WriteFormatParquet),
		partitionFixture("p2", "target-a", "events", base.Add(time.Hour), 1_000, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 1_000_000, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	assert.Empty(t, groups)
}

func TestPlanCompactionRespectsByteCap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	partitions := []manifeststore.Partition{
		partitionFixture("p1", "target-a", "events", base, 400, manifeststore.WriteFormatDuckDB),
		partitionFixture("p2", "target-a", "events", base.Add(time.Hour), 400, manifeststore.WriteFormatDuckDB),
		partitionFixture("p3", "target-a", "events", base.Add(2*time.Hour), 400, manifeststore.WriteFormatDuckDB),
	}
	groups := PlanCompaction("dataset-1", "shard-0", partitions, PlannerConfig{
		TargetPartitionBytes: 800, MaxPartitionsPerGroup: 10, SmallPartitionBytes: 10_000,
	})
	if assert.Len(t, groups, 1) {
		assert.ElementsMatch(t, []string{"p1", "p2"}, groups[0].PartitionIDs)
	}
}
