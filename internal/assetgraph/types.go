// Package assetgraph implements the C8 Asset Graph & Auto-Materialize
// component: asset nodes derived from workflow step declarations,
// producer/consumer edges within and across workflow definitions,
// staleness detection, and the auto-materialize claim lifecycle.
// Grounded on the teacher's domain/datafeeds producer/consumer dependency
// tracking between feeds, generalized to arbitrary assets declared by
// workflow steps.
package assetgraph

import (
	"time"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// AssetSnapshot is one materialization of an asset partition, recorded at
// step success (spec.md §4.6's produces[] tracking).
type AssetSnapshot struct {
	AssetID      string
	PartitionKey map[string]string
	WorkflowRunID string
	StepID       string
	ProducedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Payload      jsonvalue.Value
	Schema       jsonvalue.Value
}

// ClaimStatus is the lifecycle status of an AutoMaterializeClaim.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimClaimed  ClaimStatus = "claimed"
	ClaimReleased ClaimStatus = "released"
	ClaimFailed   ClaimStatus = "failed"
)

// AutoMaterializeClaim enforces at most one in-flight auto-materialize run
// per (workflowDefinitionId, assetId, partitionKey), per spec.md §4.8.
type AutoMaterializeClaim struct {
	ID                   string
	WorkflowDefinitionID string
	AssetID              string
	PartitionKey         map[string]string
	WorkflowRunID        *string
	Reason               string
	Context              jsonvalue.Value
	Status               ClaimStatus
	RequestedAt          time.Time
	ClaimedAt            *time.Time
	ClaimOwner           *string
	ReleasedAt           *time.Time
	FailureCount         int
	NextEligibleAt       *time.Time
}

// Eligible reports whether a new claim attempt may be made now, honoring
// any cooldown set by a prior failure.
func (c AutoMaterializeClaim) Eligible(now time.Time) bool {
	if c.NextEligibleAt == nil {
		return true
	}
	return !now.Before(*c.NextEligibleAt)
}
