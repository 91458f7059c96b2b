package manifeststore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
	"github.com/R3E-Network/workflow_platform/internal/sqlutil"
)

// InvalidationHook is invoked by PostgresStore whenever a manifest is
// published or its partitions are replaced, so C3's manifest cache can
// evict the affected (dataset, shard) entry. A nil hook is a no-op.
type InvalidationHook func(datasetID, shard string)

// PostgresStore implements Store against PostgreSQL via database/sql +
// lib/pq, with sqlx layered on top for the audit-log listing
// (ListAuditLog); every other read and write goes through the raw *sql.DB.
type PostgresStore struct {
	db         *sql.DB
	dbx        *sqlx.DB
	invalidate InvalidationHook
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, dbx: sqlx.NewDb(db, "postgres")}
}

// WithInvalidationHook sets the cache-invalidation callback and returns s.
func (s *PostgresStore) WithInvalidationHook(hook InvalidationHook) *PostgresStore {
	s.invalidate = hook
	return s
}

func (s *PostgresStore) notify(datasetID, shard string) {
	if s.invalidate != nil {
		s.invalidate(datasetID, shard)
	}
}

// --- Storage targets ---------------------------------------------------

func (s *PostgresStore) UpsertStorageTarget(ctx context.Context, target StorageTarget) (StorageTarget, error) {
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	metaJSON, err := jsonMetadata(target.Metadata)
	if err != nil {
		return StorageTarget{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO storage_targets (id, kind, bucket, prefix, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, bucket = EXCLUDED.bucket, prefix = EXCLUDED.prefix, metadata = EXCLUDED.metadata
	`, target.ID, target.Kind, target.Bucket, target.Prefix, metaJSON)
	if err != nil {
		return StorageTarget{}, apperrors.Wrap(apperrors.KindStorageIO, "upsert storage target", err)
	}
	return target, nil
}

func (s *PostgresStore) GetStorageTarget(ctx context.Context, id string) (StorageTarget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, bucket, prefix, metadata FROM storage_targets WHERE id = $1`, id)
	return scanStorageTarget(row)
}

func scanStorageTarget(row sqlutil.RowScanner) (StorageTarget, error) {
	var t StorageTarget
	var metaRaw []byte
	if err := row.Scan(&t.ID, &t.Kind, &t.Bucket, &t.Prefix, &metaRaw); err != nil {
		if err == sql.ErrNoRows {
			return StorageTarget{}, apperrors.NotFound("storage_target", t.ID)
		}
		return StorageTarget{}, apperrors.Wrap(apperrors.KindStorageIO, "scan storage target", err)
	}
	val, err := jsonvalue.FromRaw(metaRaw)
	if err != nil {
		return StorageTarget{}, apperrors.Internal(err)
	}
	t.Metadata = val
	return t, nil
}

// --- Datasets ------------------------------------------------------------

func (s *PostgresStore) CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error) {
	if strings.TrimSpace(in.Slug) == "" {
		return Dataset{}, apperrors.Validation("slug is required")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	ds := Dataset{
		ID:                     uuid.NewString(),
		Slug:                   in.Slug,
		Name:                   in.Name,
		Status:                 DatasetActive,
		WriteFormat:            in.WriteFormat,
		DefaultStorageTargetID: in.DefaultStorageTargetID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	metaVal, err := jsonvalue.FromAny(in.Metadata)
	if err != nil {
		return Dataset{}, apperrors.Validation("invalid metadata: %v", err)
	}
	ds.Metadata = metaVal

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ds.ID, ds.Slug, ds.Name, ds.Status, ds.WriteFormat, ds.DefaultStorageTargetID, ds.Metadata.Raw(), ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Dataset{}, apperrors.Conflict("dataset slug %q already exists", ds.Slug)
		}
		return Dataset{}, apperrors.Wrap(apperrors.KindStorageIO, "create dataset", err)
	}
	return ds, nil
}

func (s *PostgresStore) UpdateDataset(ctx context.Context, id string, in UpdateDatasetInput) (Dataset, error) {
	existing, err := s.GetDataset(ctx, id)
	if err != nil {
		return Dataset{}, err
	}
	if in.IfMatch != nil && !in.IfMatch.Truncate(time.Millisecond).Equal(existing.UpdatedAt.Truncate(time.Millisecond)) {
		return Dataset{}, apperrors.ConcurrentUpdate("dataset")
	}

	if in.Name != nil {
		existing.Name = *in.Name
	}
	if in.Status != nil {
		existing.Status = *in.Status
	}
	if in.DefaultStorageTargetID != nil {
		existing.DefaultStorageTargetID = in.DefaultStorageTargetID
	}
	if in.Metadata != nil {
		metaVal, err := jsonvalue.FromAny(in.Metadata)
		if err != nil {
			return Dataset{}, apperrors.Validation("invalid metadata: %v", err)
		}
		existing.Metadata = metaVal
	}
	prevUpdatedAt := existing.UpdatedAt
	existing.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		UPDATE datasets SET name=$2, status=$3, default_storage_target_id=$4, metadata=$5, updated_at=$6
		WHERE id=$1 AND updated_at=$7
	`, existing.ID, existing.Name, existing.Status, existing.DefaultStorageTargetID, existing.Metadata.Raw(), existing.UpdatedAt, prevUpdatedAt)
	if err != nil {
		return Dataset{}, apperrors.Wrap(apperrors.KindStorageIO, "update dataset", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Dataset{}, apperrors.Wrap(apperrors.KindStorageIO, "update dataset", err)
	}
	if rows == 0 {
		return Dataset{}, apperrors.ConcurrentUpdate("dataset")
	}
	return existing, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at
		FROM datasets WHERE id = $1
	`, id)
	return scanDataset(row)
}

func (s *PostgresStore) GetDatasetBySlug(ctx context.Context, slug string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at
		FROM datasets WHERE slug = $1
	`, slug)
	return scanDataset(row)
}

func (s *PostgresStore) ListActiveDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, status, write_format, default_storage_target_id, metadata, created_at, updated_at
		FROM datasets WHERE status = $1 ORDER BY slug ASC
	`, DatasetActive)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list active datasets", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func scanDataset(row sqlutil.RowScanner) (Dataset, error) {
	var ds Dataset
	var metaRaw []byte
	var defaultTarget sql.NullString
	if err := row.Scan(&ds.ID, &ds.Slug, &ds.Name, &ds.Status, &ds.WriteFormat, &defaultTarget, &metaRaw, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Dataset{}, apperrors.NotFound("dataset", "")
		}
		return Dataset{}, apperrors.Wrap(apperrors.KindStorageIO, "scan dataset", err)
	}
	if defaultTarget.Valid {
		v := defaultTarget.String
		ds.DefaultStorageTargetID = &v
	}
	val, err := jsonvalue.FromRaw(metaRaw)
	if err != nil {
		return Dataset{}, apperrors.Internal(err)
	}
	ds.Metadata = val
	ds.CreatedAt = ds.CreatedAt.UTC()
	ds.UpdatedAt = ds.UpdatedAt.UTC()
	return ds, nil
}

// --- Schema versions -------------------------------------------------------

func (s *PostgresStore) CreateSchemaVersion(ctx context.Context, in CreateSchemaVersionInput) (SchemaVersion, error) {
	if in.Checksum != nil {
		if existing, ok, err := s.findSchemaVersionByChecksum(ctx, in.DatasetID, *in.Checksum); err != nil {
			return SchemaVersion{}, err
		} else if ok {
			return existing, nil
		}
	}

	var nextVersion int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM schema_versions WHERE dataset_id = $1
	`, in.DatasetID).Scan(&nextVersion)
	if err != nil {
		return SchemaVersion{}, apperrors.Wrap(apperrors.KindStorageIO, "compute next schema version", err)
	}

	fieldsJSON, err := jsonvalue.FromAny(in.Fields)
	if err != nil {
		return SchemaVersion{}, apperrors.Validation("invalid schema fields: %v", err)
	}

	sv := SchemaVersion{
		ID:        uuid.NewString(),
		DatasetID: in.DatasetID,
		Version:   nextVersion,
		Checksum:  in.Checksum,
		Fields:    in.Fields,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schema_versions (id, dataset_id, version, checksum, fields)
		VALUES ($1,$2,$3,$4,$5)
	`, sv.ID, sv.DatasetID, sv.Version, sv.Checksum, fieldsJSON.Raw())
	if err != nil {
		return SchemaVersion{}, apperrors.Wrap(apperrors.KindStorageIO, "create schema version", err)
	}
	return sv, nil
}

func (s *PostgresStore) findSchemaVersionByChecksum(ctx context.Context, datasetID, checksum string) (SchemaVersion, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, version, checksum, fields FROM schema_versions
		WHERE dataset_id = $1 AND checksum = $2
	`, datasetID, checksum)
	sv, err := scanSchemaVersion(row)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return SchemaVersion{}, false, nil
		}
		return SchemaVersion{}, false, err
	}
	return sv, true, nil
}

func (s *PostgresStore) GetSchemaVersion(ctx context.Context, id string) (SchemaVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, dataset_id, version, checksum, fields FROM schema_versions WHERE id = $1`, id)
	return scanSchemaVersion(row)
}

func (s *PostgresStore) ListSchemaVersions(ctx context.Context, datasetID string) ([]SchemaVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, version, checksum, fields FROM schema_versions
		WHERE dataset_id = $1 ORDER BY version ASC
	`, datasetID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list schema versions", err)
	}
	defer rows.Close()
	var out []SchemaVersion
	for rows.Next() {
		sv, err := scanSchemaVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

func scanSchemaVersion(row sqlutil.RowScanner) (SchemaVersion, error) {
	var sv SchemaVersion
	var checksum sql.NullString
	var fieldsRaw []byte
	if err := row.Scan(&sv.ID, &sv.DatasetID, &sv.Version, &checksum, &fieldsRaw); err != nil {
		if err == sql.ErrNoRows {
			return SchemaVersion{}, apperrors.NotFound("schema_version", "")
		}
		return SchemaVersion{}, apperrors.Wrap(apperrors.KindStorageIO, "scan schema version", err)
	}
	if checksum.Valid {
		v := checksum.String
		sv.Checksum = &v
	}
	if err := decodeJSON(fieldsRaw, &sv.Fields); err != nil {
		return SchemaVersion{}, apperrors.Internal(err)
	}
	return sv, nil
}

// --- Manifests & partitions ------------------------------------------------

func (s *PostgresStore) CreateDatasetManifest(ctx context.Context, in CreateDatasetManifestInput) (ManifestWithPartitions, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM manifests WHERE dataset_id = $1`, in.DatasetID).Scan(&maxVersion); err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "read max manifest version", err)
	}
	if maxVersion.Valid && in.Version <= maxVersion.Int64 {
		return ManifestWithPartitions{}, apperrors.New(apperrors.KindInternal,
			fmt.Sprintf("manifest version %d is not strictly greater than existing max %d", in.Version, maxVersion.Int64))
	}

	now := time.Now().UTC()
	manifest := Manifest{
		ID:               uuid.NewString(),
		DatasetID:        in.DatasetID,
		Version:          in.Version,
		Status:           in.Status,
		SchemaVersionID:  in.SchemaVersionID,
		ParentManifestID: in.ParentManifestID,
		ManifestShard:    in.ManifestShard,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	summaryVal, err := jsonvalue.FromAny(in.Summary)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid summary: %v", err)
	}
	metaVal, err := jsonvalue.FromAny(in.Metadata)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid metadata: %v", err)
	}
	manifest.Summary = summaryVal
	manifest.Metadata = metaVal

	if manifest.Status == ManifestPublished {
		publishedAt := now
		manifest.PublishedAt = &publishedAt
	}

	partitions := make([]Partition, 0, len(in.Partitions))
	for _, p := range in.Partitions {
		partitions = append(partitions, toPartition(manifest.ID, in.DatasetID, p))
	}
	manifest.ManifestStatistics = rollup(partitions)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manifests
			(id, dataset_id, version, status, schema_version_id, parent_manifest_id, manifest_shard,
			 summary, statistics, metadata, partition_count, total_rows, total_bytes, published_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, manifest.ID, manifest.DatasetID, manifest.Version, manifest.Status, manifest.SchemaVersionID,
		manifest.ParentManifestID, manifest.ManifestShard, manifest.Summary.Raw(), statsJSON(manifest.ManifestStatistics),
		manifest.Metadata.Raw(), manifest.PartitionCount, manifest.TotalRows, manifest.TotalBytes,
		manifest.PublishedAt, manifest.CreatedAt, manifest.UpdatedAt); err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "insert manifest", err)
	}

	for _, p := range partitions {
		if err := insertPartition(ctx, tx, p); err != nil {
			return ManifestWithPartitions{}, err
		}
	}

	if manifest.Status == ManifestPublished && manifest.ParentManifestID != nil {
		if err := supersedeIfPublished(ctx, tx, *manifest.ParentManifestID); err != nil {
			return ManifestWithPartitions{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "commit manifest", err)
	}

	s.notify(manifest.DatasetID, manifest.ManifestShard)
	return ManifestWithPartitions{Manifest: manifest, Partitions: partitions}, nil
}

func supersedeIfPublished(ctx context.Context, tx *sql.Tx, parentID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE manifests SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, parentID, ManifestSuperseded, ManifestPublished)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "supersede parent manifest", err)
	}
	_ = res
	return nil
}

func insertPartition(ctx context.Context, tx *sql.Tx, p Partition) error {
	keyJSON, err := jsonvalue.FromAny(p.PartitionKey)
	if err != nil {
		return apperrors.Validation("invalid partition key: %v", err)
	}
	lifecycleJSON := p.Metadata.Lifecycle
	if lifecycleJSON.IsNull() {
		lifecycleJSON = jsonvalue.Null
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO partitions
			(id, dataset_id, manifest_id, partition_key, storage_target_id, file_format, file_path,
			 file_size_bytes, row_count, start_time, end_time, checksum, table_name, lifecycle, ingestion_batch, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, p.ID, p.DatasetID, p.ManifestID, keyJSON.Raw(), p.StorageTargetID, p.FileFormat, p.FilePath,
		sqlutil.ToNullInt64(p.FileSizeBytes), sqlutil.ToNullInt64(p.RowCount), p.StartTime, p.EndTime,
		p.Checksum, p.Metadata.TableName, lifecycleJSON.Raw(), p.IngestionBatch, p.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "insert partition", err)
	}
	return nil
}

func toPartition(manifestID, datasetID string, in CreateManifestPartitionInput) Partition {
	id := uuid.NewString()
	return Partition{
		ID:              id,
		DatasetID:       datasetID,
		ManifestID:      manifestID,
		PartitionKey:    in.PartitionKey,
		StorageTargetID: in.StorageTargetID,
		FileFormat:      in.FileFormat,
		FilePath:        in.FilePath,
		FileSizeBytes:   in.FileSizeBytes,
		RowCount:        in.RowCount,
		StartTime:       in.StartTime.UTC(),
		EndTime:         in.EndTime.UTC(),
		Checksum:        in.Checksum,
		Metadata:        in.Metadata,
		IngestionBatch:  in.IngestionBatch,
		CreatedAt:       time.Now().UTC(),
	}
}

func rollup(partitions []Partition) ManifestStatistics {
	var stats ManifestStatistics
	stats.PartitionCount = int64(len(partitions))
	for _, p := range partitions {
		if p.RowCount != nil {
			stats.TotalRows += *p.RowCount
		}
		if p.FileSizeBytes != nil {
			stats.TotalBytes += *p.FileSizeBytes
		}
	}
	return stats
}

func statsJSON(stats ManifestStatistics) []byte {
	val, _ := jsonvalue.FromAny(stats)
	return val.Raw()
}

// jsonMetadata renders a metadata Value for a JSONB column, defaulting a
// null/empty value to an empty object rather than storing SQL NULL.
func jsonMetadata(v jsonvalue.Value) ([]byte, error) {
	if v.IsNull() {
		return []byte("{}"), nil
	}
	return v.Raw(), nil
}

// ReplacePartitionsInManifest is used exclusively by the lifecycle engine
// (C4) to atomically swap source partitions for compacted/retained
// replacements within one manifest, deep-merging any `lifecycle` subtree
// patches under summary/metadata (spec.md §4.1).
func (s *PostgresStore) ReplacePartitionsInManifest(ctx context.Context, in ReplacePartitionsInput) (ManifestWithPartitions, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var manifest Manifest
	row := tx.QueryRowContext(ctx, `
		SELECT id, dataset_id, version, status, schema_version_id, parent_manifest_id, manifest_shard,
		       summary, statistics, metadata, partition_count, total_rows, total_bytes, published_at, created_at, updated_at
		FROM manifests WHERE id = $1 FOR UPDATE
	`, in.ManifestID)
	manifest, err = scanManifest(row)
	if err != nil {
		return ManifestWithPartitions{}, err
	}

	if len(in.RemovePartitionIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM partitions WHERE manifest_id = $1 AND id = ANY($2)`,
			in.ManifestID, pq.Array(in.RemovePartitionIDs)); err != nil {
			return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "delete replaced partitions", err)
		}
	}

	added := make([]Partition, 0, len(in.Add))
	for _, p := range in.Add {
		part := toPartition(manifest.ID, manifest.DatasetID, p)
		if err := insertPartition(ctx, tx, part); err != nil {
			return ManifestWithPartitions{}, err
		}
		added = append(added, part)
	}

	remaining, err := listPartitionsByManifestTx(ctx, tx, manifest.ID)
	if err != nil {
		return ManifestWithPartitions{}, err
	}
	manifest.ManifestStatistics = rollup(remaining)

	summaryPatchVal, err := jsonvalue.FromAny(in.SummaryPatch)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid summary patch: %v", err)
	}
	metadataPatchVal, err := jsonvalue.FromAny(in.MetadataPatch)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid metadata patch: %v", err)
	}
	mergedSummary, err := jsonvalue.Merge(manifest.Summary, summaryPatchVal)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Internal(err)
	}
	mergedMetadata, err := jsonvalue.Merge(manifest.Metadata, metadataPatchVal)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Internal(err)
	}
	manifest.Summary = mergedSummary
	manifest.Metadata = mergedMetadata
	manifest.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE manifests SET summary=$2, metadata=$3, statistics=$4, partition_count=$5, total_rows=$6, total_bytes=$7, updated_at=$8
		WHERE id=$1
	`, manifest.ID, manifest.Summary.Raw(), manifest.Metadata.Raw(), statsJSON(manifest.ManifestStatistics),
		manifest.PartitionCount, manifest.TotalRows, manifest.TotalBytes, manifest.UpdatedAt); err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "update manifest rollups", err)
	}

	if err := tx.Commit(); err != nil {
		return ManifestWithPartitions{}, apperrors.Wrap(apperrors.KindStorageIO, "commit replace partitions", err)
	}

	s.notify(manifest.DatasetID, manifest.ManifestShard)
	return ManifestWithPartitions{Manifest: manifest, Partitions: remaining}, nil
}

func (s *PostgresStore) GetManifest(ctx context.Context, id string) (ManifestWithPartitions, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, version, status, schema_version_id, parent_manifest_id, manifest_shard,
		       summary, statistics, metadata, partition_count, total_rows, total_bytes, published_at, created_at, updated_at
		FROM manifests WHERE id = $1
	`, id)
	manifest, err := scanManifest(row)
	if err != nil {
		return ManifestWithPartitions{}, err
	}
	partitions, err := s.listPartitionsByManifest(ctx, id)
	if err != nil {
		return ManifestWithPartitions{}, err
	}
	return ManifestWithPartitions{Manifest: manifest, Partitions: partitions}, nil
}

func (s *PostgresStore) GetLatestPublishedManifest(ctx context.Context, datasetID, shard string) (ManifestWithPartitions, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, version, status, schema_version_id, parent_manifest_id, manifest_shard,
		       summary, statistics, metadata, partition_count, total_rows, total_bytes, published_at, created_at, updated_at
		FROM manifests
		WHERE dataset_id = $1 AND manifest_shard = $2 AND status = $3
		ORDER BY version DESC LIMIT 1
	`, datasetID, shard, ManifestPublished)
	manifest, err := scanManifest(row)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return ManifestWithPartitions{}, false, nil
		}
		return ManifestWithPartitions{}, false, err
	}
	partitions, err := s.listPartitionsByManifest(ctx, manifest.ID)
	if err != nil {
		return ManifestWithPartitions{}, false, err
	}
	return ManifestWithPartitions{Manifest: manifest, Partitions: partitions}, true, nil
}

func (s *PostgresStore) ListManifestShards(ctx context.Context, datasetID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT manifest_shard FROM manifests WHERE dataset_id = $1 ORDER BY manifest_shard
	`, datasetID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list manifest shards", err)
	}
	defer rows.Close()
	var shards []string
	for rows.Next() {
		var shard string
		if err := rows.Scan(&shard); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorageIO, "scan manifest shard", err)
		}
		shards = append(shards, shard)
	}
	return shards, rows.Err()
}

func scanManifest(row sqlutil.RowScanner) (Manifest, error) {
	var m Manifest
	var parent sql.NullString
	var summaryRaw, statsRaw, metaRaw []byte
	var publishedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.DatasetID, &m.Version, &m.Status, &m.SchemaVersionID, &parent, &m.ManifestShard,
		&summaryRaw, &statsRaw, &metaRaw, &m.PartitionCount, &m.TotalRows, &m.TotalBytes, &publishedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Manifest{}, apperrors.NotFound("manifest", "")
		}
		return Manifest{}, apperrors.Wrap(apperrors.KindStorageIO, "scan manifest", err)
	}
	if parent.Valid {
		v := parent.String
		m.ParentManifestID = &v
	}
	m.PublishedAt = sqlutil.FromNullTimePtr(publishedAt)
	if v, err := jsonvalue.FromRaw(summaryRaw); err == nil {
		m.Summary = v
	}
	if v, err := jsonvalue.FromRaw(statsRaw); err == nil {
		m.Statistics = v
	}
	if v, err := jsonvalue.FromRaw(metaRaw); err == nil {
		m.Metadata = v
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (s *PostgresStore) listPartitionsByManifest(ctx context.Context, manifestID string) ([]Partition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, manifest_id, partition_key, storage_target_id, file_format, file_path,
		       file_size_bytes, row_count, start_time, end_time, checksum, table_name, lifecycle, ingestion_batch, created_at
		FROM partitions WHERE manifest_id = $1 ORDER BY start_time ASC
	`, manifestID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list partitions", err)
	}
	defer rows.Close()
	return scanPartitions(rows)
}

func listPartitionsByManifestTx(ctx context.Context, tx *sql.Tx, manifestID string) ([]Partition, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, dataset_id, manifest_id, partition_key, storage_target_id, file_format, file_path,
		       file_size_bytes, row_count, start_time, end_time, checksum, table_name, lifecycle, ingestion_batch, created_at
		FROM partitions WHERE manifest_id = $1 ORDER BY start_time ASC
	`, manifestID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list partitions (tx)", err)
	}
	defer rows.Close()
	return scanPartitions(rows)
}

func scanPartitions(rows *sql.Rows) ([]Partition, error) {
	var out []Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPartition(row sqlutil.RowScanner) (Partition, error) {
	var p Partition
	var keyRaw []byte
	var fileSize, rowCount sql.NullInt64
	var checksum, ingestionBatch sql.NullString
	var lifecycleRaw []byte
	if err := row.Scan(&p.ID, &p.DatasetID, &p.ManifestID, &keyRaw, &p.StorageTargetID, &p.FileFormat, &p.FilePath,
		&fileSize, &rowCount, &p.StartTime, &p.EndTime, &checksum, &p.Metadata.TableName, &lifecycleRaw, &ingestionBatch, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Partition{}, apperrors.NotFound("partition", "")
		}
		return Partition{}, apperrors.Wrap(apperrors.KindStorageIO, "scan partition", err)
	}
	if err := decodeJSON(keyRaw, &p.PartitionKey); err != nil {
		return Partition{}, apperrors.Internal(err)
	}
	p.FileSizeBytes = sqlutil.FromNullInt64(fileSize)
	p.RowCount = sqlutil.FromNullInt64(rowCount)
	if checksum.Valid {
		v := checksum.String
		p.Checksum = &v
	}
	if ingestionBatch.Valid {
		v := ingestionBatch.String
		p.IngestionBatch = &v
	}
	if lv, err := jsonvalue.FromRaw(lifecycleRaw); err == nil {
		p.Metadata.Lifecycle = lv
	}
	p.StartTime = p.StartTime.UTC()
	p.EndTime = p.EndTime.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// ListPartitionsForQuery implements the query-time partition selection
// contract: only partitions belonging to published manifests are visible,
// filtered by range overlap and equality on the supplied partition-key
// subset (spec.md §4.1).
func (s *PostgresStore) ListPartitionsForQuery(ctx context.Context, in ListPartitionsForQueryInput) ([]PartitionWithTarget, error) {
	query := `
		SELECT p.id, p.dataset_id, p.manifest_id, p.partition_key, p.storage_target_id, p.file_format, p.file_path,
		       p.file_size_bytes, p.row_count, p.start_time, p.end_time, p.checksum, p.table_name, p.lifecycle, p.ingestion_batch, p.created_at,
		       t.id, t.kind, t.bucket, t.prefix, t.metadata
		FROM partitions p
		JOIN manifests m ON m.id = p.manifest_id
		JOIN storage_targets t ON t.id = p.storage_target_id
		WHERE p.dataset_id = $1 AND m.status = $2 AND p.start_time < $3 AND p.end_time > $4
		ORDER BY p.start_time ASC
	`
	rows, err := s.db.QueryContext(ctx, query, in.DatasetID, ManifestPublished, in.Range.End, in.Range.Start)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list partitions for query", err)
	}
	defer rows.Close()

	var out []PartitionWithTarget
	for rows.Next() {
		var p Partition
		var t StorageTarget
		var keyRaw, lifecycleRaw, targetMetaRaw []byte
		var fileSize, rowCount sql.NullInt64
		var checksum, ingestionBatch sql.NullString
		if err := rows.Scan(&p.ID, &p.DatasetID, &p.ManifestID, &keyRaw, &p.StorageTargetID, &p.FileFormat, &p.FilePath,
			&fileSize, &rowCount, &p.StartTime, &p.EndTime, &checksum, &p.Metadata.TableName, &lifecycleRaw, &ingestionBatch, &p.CreatedAt,
			&t.ID, &t.Kind, &t.Bucket, &t.Prefix, &targetMetaRaw); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorageIO, "scan partition-for-query row", err)
		}
		if err := decodeJSON(keyRaw, &p.PartitionKey); err != nil {
			return nil, apperrors.Internal(err)
		}
		if !matchesPartitionKey(p.PartitionKey, in.PartitionKey) {
			continue
		}
		p.FileSizeBytes = sqlutil.FromNullInt64(fileSize)
		p.RowCount = sqlutil.FromNullInt64(rowCount)
		if checksum.Valid {
			v := checksum.String
			p.Checksum = &v
		}
		if ingestionBatch.Valid {
			v := ingestionBatch.String
			p.IngestionBatch = &v
		}
		if lv, err := jsonvalue.FromRaw(lifecycleRaw); err == nil {
			p.Metadata.Lifecycle = lv
		}
		if tv, err := jsonvalue.FromRaw(targetMetaRaw); err == nil {
			t.Metadata = tv
		}
		p.StartTime = p.StartTime.UTC()
		p.EndTime = p.EndTime.UTC()
		out = append(out, PartitionWithTarget{Partition: p, Target: t})
	}
	return out, rows.Err()
}

func matchesPartitionKey(actual, filter map[string]string) bool {
	for k, v := range filter {
		if actual[k] != v {
			return false
		}
	}
	return true
}

// --- Ingestion batches -----------------------------------------------------

func (s *PostgresStore) RecordIngestionBatch(ctx context.Context, datasetID, idempotencyKey, manifestID string) (IngestionBatch, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_batches (dataset_id, idempotency_key, manifest_id, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (dataset_id, idempotency_key) DO NOTHING
	`, datasetID, idempotencyKey, manifestID, now)
	if err != nil {
		return IngestionBatch{}, apperrors.Wrap(apperrors.KindStorageIO, "record ingestion batch", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT dataset_id, idempotency_key, manifest_id, created_at FROM ingestion_batches
		WHERE dataset_id = $1 AND idempotency_key = $2
	`, datasetID, idempotencyKey)
	var batch IngestionBatch
	if err := row.Scan(&batch.DatasetID, &batch.IdempotencyKey, &batch.ManifestID, &batch.CreatedAt); err != nil {
		return IngestionBatch{}, apperrors.Wrap(apperrors.KindStorageIO, "read ingestion batch", err)
	}
	batch.CreatedAt = batch.CreatedAt.UTC()
	return batch, nil
}

// --- Audit log ---------------------------------------------------------

func (s *PostgresStore) AppendAuditEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dataset_access_audit (id, dataset_id, kind, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.ID, event.DatasetID, event.Kind, event.Detail.Raw(), event.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "append audit event", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLog(ctx context.Context, datasetID string, since time.Time, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.dbx.QueryxContext(ctx, `
		SELECT id, dataset_id, kind, detail, created_at FROM dataset_access_audit
		WHERE dataset_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3
	`, datasetID, since, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStorageIO, "list audit log", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var id, dsID, kind string
		var detailRaw []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &dsID, &kind, &detailRaw, &createdAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStorageIO, "scan audit event", err)
		}
		detail, _ := jsonvalue.FromRaw(detailRaw)
		out = append(out, AuditEvent{ID: id, DatasetID: dsID, Kind: kind, Detail: detail, CreatedAt: createdAt.UTC()})
	}
	return out, rows.Err()
}

func (s *PostgresStore) PruneAuditLog(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dataset_access_audit WHERE id IN (
			SELECT id FROM dataset_access_audit WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStorageIO, "prune audit log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStorageIO, "read prune rows affected", err)
	}
	return int(n), nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}

func decodeJSON(raw []byte, target any) error {
	v, err := jsonvalue.FromRaw(raw)
	if err != nil {
		if len(raw) == 0 {
			return nil
		}
		return err
	}
	if v.IsNull() {
		return nil
	}
	return v.Decode(target)
}
