package manifeststore

import (
	"context"
	"time"
)

// CreateDatasetInput is the input to CreateDataset.
type CreateDatasetInput struct {
	Slug                   string
	Name                   string
	WriteFormat            WriteFormat
	DefaultStorageTargetID *string
	Metadata               map[string]any
}

// UpdateDatasetInput is the input to UpdateDataset. IfMatch, when non-nil,
// must equal the dataset's current UpdatedAt (millisecond-truncated) or the
// update fails with apperrors.KindConcurrentUpdate.
type UpdateDatasetInput struct {
	Name                   *string
	Status                 *DatasetStatus
	DefaultStorageTargetID *string
	Metadata               map[string]any
	IfMatch                *time.Time
}

// CreateSchemaVersionInput is the input to CreateSchemaVersion.
type CreateSchemaVersionInput struct {
	DatasetID string
	Checksum  *string
	Fields    []SchemaField
}

// CreateManifestPartitionInput describes one partition to insert alongside
// a new manifest.
type CreateManifestPartitionInput struct {
	PartitionKey    map[string]string
	StorageTargetID string
	FileFormat      WriteFormat
	FilePath        string
	FileSizeBytes   *int64
	RowCount        *int64
	StartTime       time.Time
	EndTime         time.Time
	Checksum        *string
	Metadata        PartitionMetadata
	IngestionBatch  *string
}

// CreateDatasetManifestInput is the input to CreateDatasetManifest.
type CreateDatasetManifestInput struct {
	DatasetID        string
	Version          int64
	Status           ManifestStatus
	SchemaVersionID  string
	ParentManifestID *string
	ManifestShard    string
	Summary          map[string]any
	Metadata         map[string]any
	Partitions       []CreateManifestPartitionInput
}

// ReplacePartitionsInput is the input to ReplacePartitionsInManifest.
type ReplacePartitionsInput struct {
	ManifestID    string
	RemovePartitionIDs []string
	Add           []CreateManifestPartitionInput
	SummaryPatch  map[string]any
	MetadataPatch map[string]any
}

// ListPartitionsForQueryInput filters listPartitionsForQuery.
type ListPartitionsForQueryInput struct {
	DatasetID    string
	Range        QueryRange
	PartitionKey map[string]string // equality filter on supplied keys only
}

// Store is the C1 Manifest Store contract (spec.md §4.1).
type Store interface {
	UpsertStorageTarget(ctx context.Context, target StorageTarget) (StorageTarget, error)
	GetStorageTarget(ctx context.Context, id string) (StorageTarget, error)

	CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error)
	UpdateDataset(ctx context.Context, id string, in UpdateDatasetInput) (Dataset, error)
	GetDataset(ctx context.Context, id string) (Dataset, error)
	GetDatasetBySlug(ctx context.Context, slug string) (Dataset, error)
	ListActiveDatasets(ctx context.Context) ([]Dataset, error)

	CreateSchemaVersion(ctx context.Context, in CreateSchemaVersionInput) (SchemaVersion, error)
	ListSchemaVersions(ctx context.Context, datasetID string) ([]SchemaVersion, error)
	GetSchemaVersion(ctx context.Context, id string) (SchemaVersion, error)

	CreateDatasetManifest(ctx context.Context, in CreateDatasetManifestInput) (ManifestWithPartitions, error)
	ReplacePartitionsInManifest(ctx context.Context, in ReplacePartitionsInput) (ManifestWithPartitions, error)
	GetManifest(ctx context.Context, id string) (ManifestWithPartitions, error)
	GetLatestPublishedManifest(ctx context.Context, datasetID, shard string) (ManifestWithPartitions, bool, error)
	ListManifestShards(ctx context.Context, datasetID string) ([]string, error)

	ListPartitionsForQuery(ctx context.Context, in ListPartitionsForQueryInput) ([]PartitionWithTarget, error)

	RecordIngestionBatch(ctx context.Context, datasetID, idempotencyKey, manifestID string) (IngestionBatch, error)

	AppendAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditLog(ctx context.Context, datasetID string, since time.Time, limit int) ([]AuditEvent, error)
	PruneAuditLog(ctx context.Context, olderThan time.Time, batchSize int) (int, error)
}
