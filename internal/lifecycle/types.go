// Package lifecycle implements the C4 Lifecycle Engine: resumable chunked
// compaction driven by a persistent checkpoint, retention enforcement, and
// audit-log pruning. Grounded on the teacher's domain/datafeeds scheduled
// aggregation job shape for the chunked-execution skeleton and
// infrastructure/resilience's retry/backoff conventions for the
// checkpoint's retryCount/resume behavior.
package lifecycle

import "time"

// CompactionGroup is a set of small partitions, sharing a storage target
// and table name, slated to be replaced by a single materialized output
// partition.
type CompactionGroup struct {
	ID                     string
	PartitionIDs           []string
	TotalBytes             int64
	StartTime              time.Time
	EndTime                time.Time // exclusive, per manifeststore.Partition
	StorageTargetID        string
	TableName              string
	ReplacementPartitionID string
	ChunkAttempts          int
}

// CheckpointStatus is the lifecycle status of a CompactionCheckpoint.
type CheckpointStatus string

const (
	CheckpointPending   CheckpointStatus = "pending"
	CheckpointRunning   CheckpointStatus = "running"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

const maxChunkHistory = 50

// ChunkRecord is one entry of a checkpoint's bounded chunk history.
type ChunkRecord struct {
	Index       int
	GroupIDs    []string
	RowsWritten int64
	CompletedAt time.Time
}

// CompactionCheckpoint is the persistent, resumable compaction plan for one
// manifest (spec.md §4.4). ChunkPartitionLimit is recorded so a later
// config change can be detected and the plan rebuilt.
type CompactionCheckpoint struct {
	ID                  string
	ManifestID          string
	Status              CheckpointStatus
	ChunkPartitionLimit int
	Groups              []CompactionGroup
	CompletedGroupIDs   []string
	Cursor              int
	RetryCount          int
	LastError           *string
	ChunkHistory        []ChunkRecord
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// appendChunkHistory appends a record, capping the slice at maxChunkHistory
// by dropping the oldest entries.
func (c *CompactionCheckpoint) appendChunkHistory(r ChunkRecord) {
	c.ChunkHistory = append(c.ChunkHistory, r)
	if len(c.ChunkHistory) > maxChunkHistory {
		c.ChunkHistory = c.ChunkHistory[len(c.ChunkHistory)-maxChunkHistory:]
	}
}

func (c CompactionCheckpoint) isGroupComplete(groupID string) bool {
	for _, id := range c.CompletedGroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// RetentionPolicy bounds how long and how much data a dataset's partitions
// may occupy before the retention executor removes them.
type RetentionPolicy struct {
	ID          string
	DatasetID   string
	MaxAgeMs    *int64
	MaxTotalBytes *int64
}

func (p RetentionPolicy) maxAge() (time.Duration, bool) {
	if p.MaxAgeMs == nil {
		return 0, false
	}
	return time.Duration(*p.MaxAgeMs) * time.Millisecond, true
}
