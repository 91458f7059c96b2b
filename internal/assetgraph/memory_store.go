package assetgraph

import (
	"context"
	"sync"
)

type snapshotKey struct {
	assetID string
	pk      string
}

// MemoryStore is an in-process Store used by tests and by the runtime when
// no database connection is opened.
type MemoryStore struct {
	mu      sync.Mutex
	latest  map[snapshotKey]AssetSnapshot
	stale   map[snapshotKey]struct{}
	claims  map[string]AutoMaterializeClaim
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest: make(map[snapshotKey]AssetSnapshot),
		stale:  make(map[snapshotKey]struct{}),
		claims: make(map[string]AutoMaterializeClaim),
	}
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, assetID string, partitionKey map[string]string) (AssetSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.latest[snapshotKey{assetID, encodePartitionKey(partitionKey)}]
	return snap, ok, nil
}

func (s *MemoryStore) PutSnapshot(_ context.Context, snap AssetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey{snap.AssetID, encodePartitionKey(snap.PartitionKey)}
	existing, ok := s.latest[key]
	if !ok || snap.ProducedAt.After(existing.ProducedAt) {
		s.latest[key] = snap
	}
	return nil
}

func (s *MemoryStore) IsMarkedStale(_ context.Context, assetID string, partitionKey map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stale[snapshotKey{assetID, encodePartitionKey(partitionKey)}]
	return ok, nil
}

func (s *MemoryStore) MarkStale(_ context.Context, assetID string, partitionKey map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[snapshotKey{assetID, encodePartitionKey(partitionKey)}] = struct{}{}
	return nil
}

func (s *MemoryStore) ClearStale(_ context.Context, assetID string, partitionKey map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stale, snapshotKey{assetID, encodePartitionKey(partitionKey)})
	return nil
}

func claimKey(workflowDefinitionID, assetID string, partitionKey map[string]string) string {
	return workflowDefinitionID + "/" + assetID + "/" + encodePartitionKey(partitionKey)
}

func (s *MemoryStore) FindActiveClaim(_ context.Context, workflowDefinitionID, assetID string, partitionKey map[string]string) (AutoMaterializeClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimKey(workflowDefinitionID, assetID, partitionKey)]
	return claim, ok, nil
}

func (s *MemoryStore) CreateClaim(_ context.Context, claim AutoMaterializeClaim) (AutoMaterializeClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimKey(claim.WorkflowDefinitionID, claim.AssetID, claim.PartitionKey)] = claim
	return claim, nil
}

func (s *MemoryStore) UpdateClaim(_ context.Context, claim AutoMaterializeClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claimKey(claim.WorkflowDefinitionID, claim.AssetID, claim.PartitionKey)] = claim
	return nil
}
