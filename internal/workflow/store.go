package workflow

import (
	"context"

	"github.com/R3E-Network/workflow_platform/internal/dag"
)

// Store is the persistence contract the executor depends on. MemoryStore
// is its only implementation in this module; internal/runtime wires it
// unless WithWorkflowStore supplies another Store, and tests use it
// directly.
type Store interface {
	GetDefinition(ctx context.Context, id string) (dag.WorkflowDefinition, error)
	GetDefinitionBySlug(ctx context.Context, slug string) (dag.WorkflowDefinition, error)

	// CreateRun inserts run if no run with the same
	// (WorkflowDefinitionID, RunKeyNormalized) is currently in
	// {pending,running}; otherwise it returns the existing run and
	// created=false.
	CreateRun(ctx context.Context, run WorkflowRun) (result WorkflowRun, created bool, err error)
	GetRun(ctx context.Context, id string) (WorkflowRun, error)
	UpdateRun(ctx context.Context, run WorkflowRun) error
	ListStepsForRun(ctx context.Context, runID string) ([]WorkflowRunStep, error)

	CreateStep(ctx context.Context, step WorkflowRunStep) (WorkflowRunStep, error)
	UpdateStep(ctx context.Context, step WorkflowRunStep) error
	GetStep(ctx context.Context, runID, stepID string) (WorkflowRunStep, error)
}

// AssetStaleness is consulted by Replay to gate on stale produced assets
// (C8's contribution to the executor).
type AssetStaleness interface {
	IsStale(ctx context.Context, assetID string, partitionKey map[string]string) (bool, error)
}
