// Package dag implements the C5 Workflow Model & DAG Validator:
// normalization of workflow step inputs, adjacency/topological-order
// computation, and cycle/missing-dependency/collision detection. Grounded
// on the teacher's domain/automation workflow-step graph validation, with
// polymorphic steps modeled as a Go sum type (discriminant + per-variant
// struct) per the spec's Design Notes rather than an untyped map.
package dag

import (
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
	"github.com/R3E-Network/workflow_platform/internal/resilience"
)

// StepType is the discriminant of a polymorphic WorkflowStep.
type StepType string

const (
	StepJob     StepType = "job"
	StepService StepType = "service"
	StepFanout  StepType = "fanout"
)

// BundleStrategy selects how a job step resolves its job bundle version.
type BundleStrategy string

const (
	BundleLatest  BundleStrategy = "latest"
	BundlePinned  BundleStrategy = "pinned"
)

// JobBundleBinding binds a job step to a versioned job bundle.
type JobBundleBinding struct {
	Strategy   BundleStrategy
	Slug       string
	Version    *string
	ExportName string
}

// PartitioningType is the discriminant of a polymorphic Partitioning spec.
type PartitioningType string

const (
	PartitioningTimeWindow PartitioningType = "timeWindow"
	PartitioningStatic     PartitioningType = "static"
	PartitioningDynamic    PartitioningType = "dynamic"
)

// Partitioning is the sum type over the three partitioning variants.
type Partitioning struct {
	Type PartitioningType

	// timeWindow
	Granularity      string // e.g. "hour", "day"
	Timezone         string
	Format           string
	LookbackWindows  int

	// static
	Keys []string

	// dynamic
	MaxKeys      int
	RetentionDays int
}

// Freshness describes an asset's staleness budget.
type Freshness struct {
	MaxAgeMs  *int64
	TTLMs     *int64
	CadenceMs *int64
}

// AutoMaterialize is an asset's auto-materialize policy.
type AutoMaterialize struct {
	Enabled           bool
	OnUpstreamUpdate  bool
	Priority          int
	ParameterDefaults map[string]any
}

// AssetDirection is the discriminant of an AssetDeclaration.
type AssetDirection string

const (
	AssetProduces AssetDirection = "produces"
	AssetConsumes AssetDirection = "consumes"
)

// AssetDeclaration is one produces/consumes edge attached to a step.
type AssetDeclaration struct {
	AssetID         string
	Direction       AssetDirection
	Schema          jsonvalue.Value
	Freshness       *Freshness
	AutoMaterialize *AutoMaterialize
	Partitioning    *Partitioning
}

// WorkflowStep is the polymorphic step type. Only the fields relevant to
// Type are populated; the DAG validator switches on Type, never on the
// presence of a field, per the Design Notes' sum-type-with-discriminant
// requirement.
type WorkflowStep struct {
	ID            string
	Type          StepType
	DependsOn     []string
	RetryPolicy   resilience.RetryPolicy
	StoreResultAs string

	// job
	Bundle JobBundleBinding

	// service
	ServiceName  string
	ServicePath  string
	ServiceBody  jsonvalue.Value

	// fanout
	Collection      string // expression evaluated against run context to a sequence
	MaxItems        int
	MaxConcurrency  int
	Template        *WorkflowStep // the per-element step template; its ID is the fan-out's template id
	StoreResultsAs  string

	Produces []AssetDeclaration
	Consumes []AssetDeclaration
}

// DAGMetadata is the computed graph attached back onto a WorkflowDefinition.
type DAGMetadata struct {
	TopologicalOrder []string
	Adjacency        map[string][]string
	Roots            []string
}

// WorkflowDefinition is the persisted workflow shape (spec.md §3). Only the
// fields the DAG validator reads/writes are modeled here; executor-facing
// fields (parametersSchema, outputSchema, etc.) live alongside it in
// internal/workflow.
type WorkflowDefinition struct {
	ID          string
	Slug        string
	Name        string
	Version     int64
	Description string
	Steps       []WorkflowStep
	Metadata    jsonvalue.Value
	DAG         DAGMetadata
}
