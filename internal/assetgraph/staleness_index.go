package assetgraph

import (
	"context"
	"sync"

	"github.com/R3E-Network/workflow_platform/internal/dag"
)

// StalenessIndex pairs a Store with a periodically-rebuilt Graph, giving
// callers (the workflow executor's replay gate, in particular) a single
// dependency that satisfies an IsStale(ctx, assetID, partitionKey) method
// without holding a read lock across the graph-construction pass.
type StalenessIndex struct {
	store Store

	mu    sync.RWMutex
	graph *Graph
}

// NewStalenessIndex builds a StalenessIndex with an empty graph; call
// Refresh once definitions are available and again whenever they change.
func NewStalenessIndex(store Store) *StalenessIndex {
	return &StalenessIndex{store: store, graph: BuildGraph(nil)}
}

// Refresh recomputes the producer/consumer graph from the current set of
// workflow definitions.
func (s *StalenessIndex) Refresh(defs []dag.WorkflowDefinition) {
	g := BuildGraph(defs)
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()
}

// IsStale implements workflow.AssetStaleness.
func (s *StalenessIndex) IsStale(ctx context.Context, assetID string, partitionKey map[string]string) (bool, error) {
	s.mu.RLock()
	g := s.graph
	s.mu.RUnlock()
	return IsStale(ctx, s.store, g, assetID, partitionKey)
}
