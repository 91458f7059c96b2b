// Package manifeststore implements the persistent, transactional catalog of
// datasets, schema versions, manifests, partitions, and ingestion-batch
// idempotency entries (component C1 of the platform specification).
package manifeststore

import (
	"time"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// DatasetStatus is the lifecycle status of a Dataset.
type DatasetStatus string

const (
	DatasetActive   DatasetStatus = "active"
	DatasetInactive DatasetStatus = "inactive"
)

// WriteFormat is the storage format a dataset's partitions are written in.
type WriteFormat string

const (
	WriteFormatDuckDB  WriteFormat = "duckdb"
	WriteFormatParquet WriteFormat = "parquet"
)

// StorageTarget identifies a physical storage location partitions can be
// written to (bucket/container/etc). Resolution of the target into an
// actual URI is left to the partition storage adapter (C2).
type StorageTarget struct {
	ID       string
	Kind     string // e.g. "local", "s3", "gcs", "azure" — opaque to the core
	Bucket   string
	Prefix   string
	Metadata jsonvalue.Value
}

// Dataset is a named, versioned time-series table.
type Dataset struct {
	ID                    string
	Slug                  string
	Name                  string
	Status                DatasetStatus
	WriteFormat           WriteFormat
	DefaultStorageTargetID *string
	Metadata              jsonvalue.Value
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FieldType is the scalar type of a schema field.
type FieldType string

const (
	FieldTimestamp FieldType = "timestamp"
	FieldString    FieldType = "string"
	FieldDouble    FieldType = "double"
	FieldInteger   FieldType = "integer"
	FieldBoolean   FieldType = "boolean"
)

// SchemaField is one column in a dataset's schema.
type SchemaField struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// SchemaVersion pins a dataset's column layout at a point in time.
type SchemaVersion struct {
	ID        string
	DatasetID string
	Version   int64
	Checksum  *string
	Fields    []SchemaField
}

// ManifestStatus is the lifecycle status of a Manifest.
type ManifestStatus string

const (
	ManifestDraft      ManifestStatus = "draft"
	ManifestPublished  ManifestStatus = "published"
	ManifestSuperseded ManifestStatus = "superseded"
)

// ManifestStatistics carries the rollups derived from a manifest's
// partitions; recomputed on every mutation.
type ManifestStatistics struct {
	PartitionCount int64
	TotalRows      int64
	TotalBytes     int64
}

// Manifest is an immutable, versioned catalog row pointing at a set of
// partitions. Publishing a manifest whose parent is published supersedes
// the parent atomically (spec.md §3).
type Manifest struct {
	ID               string
	DatasetID        string
	Version          int64
	Status           ManifestStatus
	SchemaVersionID  string
	ParentManifestID *string
	ManifestShard    string
	Summary          jsonvalue.Value
	Statistics       jsonvalue.Value
	Metadata         jsonvalue.Value
	ManifestStatistics
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PartitionMetadata is the structured subset of a partition's metadata blob
// that the lifecycle engine reads/writes directly (spec.md §3's
// `metadata{tableName, lifecycle?}`).
type PartitionMetadata struct {
	TableName string
	Lifecycle jsonvalue.Value
}

// Partition is a physical data file owned by exactly one manifest.
type Partition struct {
	ID              string
	DatasetID       string
	ManifestID      string
	PartitionKey    map[string]string
	StorageTargetID string
	FileFormat      WriteFormat
	FilePath        string
	FileSizeBytes   *int64
	RowCount        *int64
	StartTime       time.Time
	EndTime         time.Time // exclusive
	Checksum        *string
	Metadata        PartitionMetadata
	IngestionBatch  *string // batch tag, used to permit intra-manifest overlap across distinct ingestion batches
	CreatedAt       time.Time
}

// Overlaps reports whether p's [start,end) range intersects [start,end).
func (p Partition) Overlaps(start, end time.Time) bool {
	return p.StartTime.Before(end) && start.Before(p.EndTime)
}

// PartitionWithTarget bundles a partition with its resolved storage target,
// the shape returned by listPartitionsForQuery.
type PartitionWithTarget struct {
	Partition
	Target StorageTarget
}

// IngestionBatch maps a (datasetID, idempotencyKey) pair to the manifest it
// produced, making ingestion idempotent.
type IngestionBatch struct {
	DatasetID      string
	IdempotencyKey string
	ManifestID     string
	CreatedAt      time.Time
}

// AuditEvent is one row of the dataset access / lifecycle audit log.
type AuditEvent struct {
	ID        string
	DatasetID string
	Kind      string // e.g. "compaction.group.compacted", "retention.partition.expired"
	Detail    jsonvalue.Value
	CreatedAt time.Time
}

// QueryRange selects partitions overlapping [Start, End).
type QueryRange struct {
	Start time.Time
	End   time.Time
}

// ManifestWithPartitions bundles a manifest with its partitions, the shape
// cached by the manifest cache (C3) and returned by replace/create calls.
type ManifestWithPartitions struct {
	Manifest   Manifest
	Partitions []Partition
}
