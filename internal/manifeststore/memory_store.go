package manifeststore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// MemoryStore is an in-process Store, mirroring PostgresStore's semantics
// (version monotonicity, supersede-on-publish, rollup recomputation) without
// a database; used by tests and by single-node/dev deployments.
type MemoryStore struct {
	mu sync.Mutex

	targets       map[string]StorageTarget
	datasets      map[string]Dataset
	datasetsBySlug map[string]string
	schemas       map[string]SchemaVersion
	manifests     map[string]Manifest
	partitions    map[string]map[string]Partition // manifestID -> partitionID -> partition
	batches       map[string]IngestionBatch        // datasetID+"/"+idempotencyKey
	audit         []AuditEvent

	invalidate InvalidationHook
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:        make(map[string]StorageTarget),
		datasets:       make(map[string]Dataset),
		datasetsBySlug: make(map[string]string),
		schemas:        make(map[string]SchemaVersion),
		manifests:      make(map[string]Manifest),
		partitions:     make(map[string]map[string]Partition),
		batches:        make(map[string]IngestionBatch),
	}
}

// WithInvalidationHook sets the cache-invalidation callback and returns m.
func (m *MemoryStore) WithInvalidationHook(hook InvalidationHook) *MemoryStore {
	m.invalidate = hook
	return m
}

func (m *MemoryStore) notify(datasetID, shard string) {
	if m.invalidate != nil {
		m.invalidate(datasetID, shard)
	}
}

func (m *MemoryStore) UpsertStorageTarget(ctx context.Context, target StorageTarget) (StorageTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	m.targets[target.ID] = target
	return target, nil
}

func (m *MemoryStore) GetStorageTarget(ctx context.Context, id string) (StorageTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return StorageTarget{}, apperrors.NotFound("storage_target", id)
	}
	return t, nil
}

func (m *MemoryStore) CreateDataset(ctx context.Context, in CreateDatasetInput) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.datasetsBySlug[in.Slug]; exists {
		return Dataset{}, apperrors.Conflict("dataset slug %q already exists", in.Slug)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	metaVal, err := jsonvalue.FromAny(in.Metadata)
	if err != nil {
		return Dataset{}, apperrors.Validation("invalid metadata: %v", err)
	}
	ds := Dataset{
		ID: uuid.NewString(), Slug: in.Slug, Name: in.Name, Status: DatasetActive,
		WriteFormat: in.WriteFormat, DefaultStorageTargetID: in.DefaultStorageTargetID,
		Metadata: metaVal, CreatedAt: now, UpdatedAt: now,
	}
	m.datasets[ds.ID] = ds
	m.datasetsBySlug[ds.Slug] = ds.ID
	return ds, nil
}

func (m *MemoryStore) UpdateDataset(ctx context.Context, id string, in UpdateDatasetInput) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return Dataset{}, apperrors.NotFound("dataset", id)
	}
	if in.IfMatch != nil && !in.IfMatch.Truncate(time.Millisecond).Equal(ds.UpdatedAt.Truncate(time.Millisecond)) {
		return Dataset{}, apperrors.ConcurrentUpdate("dataset")
	}
	if in.Name != nil {
		ds.Name = *in.Name
	}
	if in.Status != nil {
		ds.Status = *in.Status
	}
	if in.DefaultStorageTargetID != nil {
		ds.DefaultStorageTargetID = in.DefaultStorageTargetID
	}
	if in.Metadata != nil {
		val, err := jsonvalue.FromAny(in.Metadata)
		if err != nil {
			return Dataset{}, apperrors.Validation("invalid metadata: %v", err)
		}
		ds.Metadata = val
	}
	ds.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	m.datasets[id] = ds
	return ds, nil
}

func (m *MemoryStore) GetDataset(ctx context.Context, id string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok {
		return Dataset{}, apperrors.NotFound("dataset", id)
	}
	return ds, nil
}

func (m *MemoryStore) GetDatasetBySlug(ctx context.Context, slug string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.datasetsBySlug[slug]
	if !ok {
		return Dataset{}, apperrors.NotFound("dataset", slug)
	}
	return m.datasets[id], nil
}

func (m *MemoryStore) ListActiveDatasets(ctx context.Context) ([]Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Dataset
	for _, ds := range m.datasets {
		if ds.Status == DatasetActive {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MemoryStore) CreateSchemaVersion(ctx context.Context, in CreateSchemaVersionInput) (SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.Checksum != nil {
		for _, sv := range m.schemas {
			if sv.DatasetID == in.DatasetID && sv.Checksum != nil && *sv.Checksum == *in.Checksum {
				return sv, nil
			}
		}
	}
	var maxVersion int64
	for _, sv := range m.schemas {
		if sv.DatasetID == in.DatasetID && sv.Version > maxVersion {
			maxVersion = sv.Version
		}
	}
	sv := SchemaVersion{ID: uuid.NewString(), DatasetID: in.DatasetID, Version: maxVersion + 1, Checksum: in.Checksum, Fields: in.Fields}
	m.schemas[sv.ID] = sv
	return sv, nil
}

func (m *MemoryStore) ListSchemaVersions(ctx context.Context, datasetID string) ([]SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SchemaVersion
	for _, sv := range m.schemas {
		if sv.DatasetID == datasetID {
			out = append(out, sv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryStore) GetSchemaVersion(ctx context.Context, id string) (SchemaVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.schemas[id]
	if !ok {
		return SchemaVersion{}, apperrors.NotFound("schema_version", id)
	}
	return sv, nil
}

func (m *MemoryStore) CreateDatasetManifest(ctx context.Context, in CreateDatasetManifestInput) (ManifestWithPartitions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var maxVersion int64
	for _, mf := range m.manifests {
		if mf.DatasetID == in.DatasetID && mf.Version > maxVersion {
			maxVersion = mf.Version
		}
	}
	if in.Version <= maxVersion {
		return ManifestWithPartitions{}, apperrors.New(apperrors.KindInternal, "manifest version is not strictly greater than existing max")
	}

	now := time.Now().UTC()
	summaryVal, err := jsonvalue.FromAny(in.Summary)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid summary: %v", err)
	}
	metaVal, err := jsonvalue.FromAny(in.Metadata)
	if err != nil {
		return ManifestWithPartitions{}, apperrors.Validation("invalid metadata: %v", err)
	}

	manifest := Manifest{
		ID: uuid.NewString(), DatasetID: in.DatasetID, Version: in.Version, Status: in.Status,
		SchemaVersionID: in.SchemaVersionID, ParentManifestID: in.ParentManifestID, ManifestShard: in.ManifestShard,
		Summary: summaryVal, Metadata: metaVal, CreatedAt: now, UpdatedAt: now,
	}
	if manifest.Status == ManifestPublished {
		publishedAt := now
		manifest.PublishedAt = &publishedAt
	}

	partitions := make([]Partition, 0, len(in.Partitions))
	for _, p := range in.Partitions {
		partitions = append(partitions, toMemoryPartition(manifest.ID, in.DatasetID, p))
	}
	manifest.ManifestStatistics = rollup(partitions)

	m.manifests[manifest.ID] = manifest
	byID := make(map[string]Partition, len(partitions))
	for _, p := range partitions {
		byID[p.ID] = p
	}
	m.partitions[manifest.ID] = byID

	if manifest.Status == ManifestPublished && manifest.ParentManifestID != nil {
		if parent, ok := m.manifests[*manifest.ParentManifestID]; ok && parent.Status == ManifestPublished {
			parent.Status = ManifestSuperseded
			parent.UpdatedAt = now
			m.manifests[parent.ID] = parent
		}
	}

	m.notify(manifest.DatasetID, manifest.ManifestShard)
	return ManifestWithPartitions{Manifest: manifest, Partitions: sortedPartitions(partitions)}, nil
}

func (m *MemoryStore) ReplacePartitionsInManifest(ctx context.Context, in ReplacePartitionsInput) (ManifestWithPartitions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, ok := m.manifests[in.ManifestID]
	if !ok {
		return ManifestWithPartitions{}, apperrors.NotFound("manifest", in.ManifestID)
	}
	byID := m.partitions[in.ManifestID]
	if byID == nil {
		byID = make(map[string]Partition)
	}

	for _, id := range in.RemovePartitionIDs {
		delete(byID, id)
	}
	for _, p := range in.Add {
		part := toMemoryPartition(manifest.ID, manifest.DatasetID, p)
		byID[part.ID] = part
	}
	m.partitions[in.ManifestID] = byID

	remaining := make([]Partition, 0, len(byID))
	for _, p := range byID {
		remaining = append(remaining, p)
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
	m.manifests[manifest.ID] = manifest

	m.notify(manifest.DatasetID, manifest.ManifestShard)
	return ManifestWithPartitions{Manifest: manifest, Partitions: sortedPartitions(remaining)}, nil
}

func (m *MemoryStore) GetManifest(ctx context.Context, id string) (ManifestWithPartitions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[id]
	if !ok {
		return ManifestWithPartitions{}, apperrors.NotFound("manifest", id)
	}
	return ManifestWithPartitions{Manifest: manifest, Partitions: sortedPartitionsMap(m.partitions[id])}, nil
}

func (m *MemoryStore) GetLatestPublishedManifest(ctx context.Context, datasetID, shard string) (ManifestWithPartitions, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Manifest
	for id := range m.manifests {
		mf := m.manifests[id]
		if mf.DatasetID != datasetID || mf.ManifestShard != shard || mf.Status != ManifestPublished {
			continue
		}
		if best == nil || mf.Version > best.Version {
			cp := mf
			best = &cp
		}
	}
	if best == nil {
		return ManifestWithPartitions{}, false, nil
	}
	return ManifestWithPartitions{Manifest: *best, Partitions: sortedPartitionsMap(m.partitions[best.ID])}, true, nil
}

func (m *MemoryStore) ListManifestShards(ctx context.Context, datasetID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, mf := range m.manifests {
		if mf.DatasetID == datasetID {
			seen[mf.ManifestShard] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for shard := range seen {
		out = append(out, shard)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListPartitionsForQuery(ctx context.Context, in ListPartitionsForQueryInput) ([]PartitionWithTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PartitionWithTarget
	for _, mf := range m.manifests {
		if mf.DatasetID != in.DatasetID || mf.Status != ManifestPublished {
			continue
		}
		for _, p := range m.partitions[mf.ID] {
			if !p.Overlaps(in.Range.Start, in.Range.End) {
				continue
			}
			if !matchesPartitionKey(p.PartitionKey, in.PartitionKey) {
				continue
			}
			out = append(out, PartitionWithTarget{Partition: p, Target: m.targets[p.StorageTargetID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) RecordIngestionBatch(ctx context.Context, datasetID, idempotencyKey, manifestID string) (IngestionBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := datasetID + "/" + idempotencyKey
	if existing, ok := m.batches[key]; ok {
		return existing, nil
	}
	batch := IngestionBatch{DatasetID: datasetID, IdempotencyKey: idempotencyKey, ManifestID: manifestID, CreatedAt: time.Now().UTC()}
	m.batches[key] = batch
	return batch, nil
}

func (m *MemoryStore) AppendAuditEvent(ctx context.Context, event AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, event)
	return nil
}

func (m *MemoryStore) ListAuditLog(ctx context.Context, datasetID string, since time.Time, limit int) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []AuditEvent
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audit[i]
		if e.DatasetID == datasetID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) PruneAuditLog(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batchSize <= 0 {
		batchSize = 1000
	}
	kept := make([]AuditEvent, 0, len(m.audit))
	removed := 0
	for _, e := range m.audit {
		if removed < batchSize && e.CreatedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return removed, nil
}

func toMemoryPartition(manifestID, datasetID string, in CreateManifestPartitionInput) Partition {
	return Partition{
		ID: uuid.NewString(), DatasetID: datasetID, ManifestID: manifestID, PartitionKey: in.PartitionKey,
		StorageTargetID: in.StorageTargetID, FileFormat: in.FileFormat, FilePath: in.FilePath,
		FileSizeBytes: in.FileSizeBytes, RowCount: in.RowCount, StartTime: in.StartTime.UTC(), EndTime: in.EndTime.UTC(),
		Checksum: in.Checksum, Metadata: in.Metadata, IngestionBatch: in.IngestionBatch, CreatedAt: time.Now().UTC(),
	}
}

func sortedPartitions(partitions []Partition) []Partition {
	out := make([]Partition, len(partitions))
	copy(out, partitions)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func sortedPartitionsMap(byID map[string]Partition) []Partition {
	out := make([]Partition, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	return sortedPartitions(out)
}
