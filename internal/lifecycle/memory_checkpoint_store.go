package lifecycle

import (
	"context"
	"sync"
)

// MemoryCheckpointStore is an in-process CheckpointStore, used by tests and
// single-node/dev deployments.
type MemoryCheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[string]CompactionCheckpoint
}

// NewMemoryCheckpointStore returns an empty MemoryCheckpointStore.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]CompactionCheckpoint)}
}

func (s *MemoryCheckpointStore) GetCheckpoint(ctx context.Context, manifestID string) (CompactionCheckpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkpoints[manifestID]
	return c, ok, nil
}

func (s *MemoryCheckpointStore) PutCheckpoint(ctx context.Context, checkpoint CompactionCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[checkpoint.ManifestID] = checkpoint
	return nil
}

// MemoryRetentionPolicyStore is an in-process RetentionPolicyStore.
type MemoryRetentionPolicyStore struct {
	mu       sync.Mutex
	policies map[string]RetentionPolicy
}

// NewMemoryRetentionPolicyStore returns an empty MemoryRetentionPolicyStore.
func NewMemoryRetentionPolicyStore() *MemoryRetentionPolicyStore {
	return &MemoryRetentionPolicyStore{policies: make(map[string]RetentionPolicy)}
}

// Put registers or replaces the retention policy for a dataset.
func (s *MemoryRetentionPolicyStore) Put(policy RetentionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.DatasetID] = policy
}

func (s *MemoryRetentionPolicyStore) GetRetentionPolicy(ctx context.Context, datasetID string) (RetentionPolicy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[datasetID]
	return p, ok, nil
}

// NoopCacheInvalidator discards invalidation calls; used where tests don't
// wire a real manifestcache.Cache.
type NoopCacheInvalidator struct{}

func (NoopCacheInvalidator) Invalidate(datasetID, shard string) {}
