// Package workflow implements the C6 Workflow Executor: run creation,
// run/step state machines, retries, partition/run-key enforcement, asset
// tracking, replay, and diffing. Grounded on the teacher's
// domain/automation job model (status enums + derived helpers) generalized
// to the spec's richer run/step lifecycle, with step retries delegated to
// internal/resilience.RetryPolicy.
package workflow

import (
	"time"

	"github.com/R3E-Network/workflow_platform/internal/dag"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// RunStatus is the lifecycle status of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// StepStatus is the lifecycle status of a WorkflowRunStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RetrySummary is the run-level rollup of pending retries (spec.md §3).
type RetrySummary struct {
	PendingSteps  int
	NextAttemptAt *time.Time
	OverdueSteps  int
}

// WorkflowRun is one attempt to execute a WorkflowDefinition with a fixed
// parameter/partition key (spec.md §3).
type WorkflowRun struct {
	ID                   string
	WorkflowDefinitionID string
	Status               RunStatus
	RunKey               *string
	RunKeyNormalized     *string
	Parameters           jsonvalue.Value
	Context              jsonvalue.Value
	Output               jsonvalue.Value
	PartitionKey         *string
	TriggeredBy          *string
	Trigger              jsonvalue.Value
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DurationMs           *int64
	CurrentStepID        *string
	CurrentStepIndex     *int
	Metrics              jsonvalue.Value
	RetrySummary         RetrySummary
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsTerminal reports whether the run has reached a terminal status.
func (r WorkflowRun) IsTerminal() bool {
	switch r.Status {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// ProducedAsset is one `{runId, stepId, partitionKey, producedAt, payload,
// schema, freshness}` asset snapshot recorded at step success.
type ProducedAsset struct {
	AssetID      string
	RunID        string
	StepID       string
	PartitionKey map[string]string
	ProducedAt   time.Time
	Payload      jsonvalue.Value
	Schema       jsonvalue.Value
	Freshness    *dag.Freshness
}

// RetryState is the per-step retry bookkeeping.
type RetryState struct {
	Attempts      int
	NextAttemptAt *time.Time
	LastError     *string
}

// WorkflowRunStep is one step execution attempt within a run (spec.md §3).
type WorkflowRunStep struct {
	ID              string
	WorkflowRunID   string
	StepID          string
	Attempt         int
	Status          StepStatus
	Input           jsonvalue.Value
	Output          jsonvalue.Value
	ErrorMessage    *string
	ProducedAssets  []ProducedAsset
	ParentStepID    *string
	FanoutIndex     *int
	TemplateStepID  *string
	RetryState      RetryState
	RetryAttempts   int
	NextAttemptAt   *time.Time
	LastHeartbeatAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RunRequest is the input to CreateRun.
type RunRequest struct {
	WorkflowDefinitionID string
	Parameters           map[string]any
	RunKey               *string
	PartitionKey         *string
	TriggeredBy          *string
	Trigger              map[string]any
}

// Diff is the output of Executor.Diff.
type Diff struct {
	Parameters         jsonvalue.Value
	Context            jsonvalue.Value
	Output             jsonvalue.Value
	StatusTransitions  []string
	Assets             []AssetDiffEntry
	StaleAssets        []string
}

// AssetDiffEntry describes one produced-asset difference between two runs.
type AssetDiffEntry struct {
	AssetID      string
	PartitionKey map[string]string
	InBase       bool
	InCompare    bool
}
