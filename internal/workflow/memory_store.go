package workflow

import (
	"context"
	"sync"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/dag"
)

// MemoryStore is an in-process Store used by tests and by
// single-node/dev deployments that don't need Postgres-backed durability.
// It enforces the same run-key-uniqueness invariant a real store would via
// its own locking rather than a DB unique constraint.
type MemoryStore struct {
	mu          sync.Mutex
	definitions map[string]dag.WorkflowDefinition
	bySlug      map[string]string
	runs        map[string]WorkflowRun
	runKeys     map[string]string // workflowDefinitionID+"/"+runKeyNormalized -> active runID
	steps       map[string]map[string]WorkflowRunStep
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]dag.WorkflowDefinition),
		bySlug:      make(map[string]string),
		runs:        make(map[string]WorkflowRun),
		runKeys:     make(map[string]string),
		steps:       make(map[string]map[string]WorkflowRunStep),
	}
}

// PutDefinition registers a definition, available to later GetDefinition
// calls; used by tests to seed fixtures.
func (m *MemoryStore) PutDefinition(def dag.WorkflowDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	m.bySlug[def.Slug] = def.ID
}

func (m *MemoryStore) GetDefinition(_ context.Context, id string) (dag.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return dag.WorkflowDefinition{}, apperrors.NotFound("workflow_definition", id)
	}
	return def, nil
}

func (m *MemoryStore) GetDefinitionBySlug(_ context.Context, slug string) (dag.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySlug[slug]
	if !ok {
		return dag.WorkflowDefinition{}, apperrors.NotFound("workflow_definition", slug)
	}
	return m.definitions[id], nil
}

func runKeyMapKey(workflowDefinitionID, runKeyNormalized string) string {
	return workflowDefinitionID + "/" + runKeyNormalized
}

func (m *MemoryStore) CreateRun(_ context.Context, run WorkflowRun) (WorkflowRun, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.RunKeyNormalized != nil {
		mk := runKeyMapKey(run.WorkflowDefinitionID, *run.RunKeyNormalized)
		if existingID, ok := m.runKeys[mk]; ok {
			if existing, ok := m.runs[existingID]; ok && !existing.IsTerminal() {
				return existing, false, nil
			}
		}
		m.runKeys[mk] = run.ID
	}

	m.runs[run.ID] = run
	m.steps[run.ID] = make(map[string]WorkflowRunStep)
	return run, true, nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (WorkflowRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return WorkflowRun{}, apperrors.NotFound("workflow_run", id)
	}
	return run, nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return apperrors.NotFound("workflow_run", run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) ListStepsForRun(_ context.Context, runID string) ([]WorkflowRunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.steps[runID]
	if !ok {
		return nil, apperrors.NotFound("workflow_run", runID)
	}
	out := make([]WorkflowRunStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) CreateStep(_ context.Context, step WorkflowRunStep) (WorkflowRunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.steps[step.WorkflowRunID]
	if !ok {
		return WorkflowRunStep{}, apperrors.NotFound("workflow_run", step.WorkflowRunID)
	}
	steps[step.StepID] = step
	return step, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, step WorkflowRunStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.steps[step.WorkflowRunID]
	if !ok {
		return apperrors.NotFound("workflow_run", step.WorkflowRunID)
	}
	steps[step.StepID] = step
	return nil
}

func (m *MemoryStore) GetStep(_ context.Context, runID, stepID string) (WorkflowRunStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps, ok := m.steps[runID]
	if !ok {
		return WorkflowRunStep{}, apperrors.NotFound("workflow_run", runID)
	}
	step, ok := steps[stepID]
	if !ok {
		return WorkflowRunStep{}, apperrors.NotFound("workflow_run_step", stepID)
	}
	return step, nil
}
