package assetgraph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// ClaimManager enforces spec.md §4.8's auto-materialize exclusivity: at
// most one active claim per (workflowDefinitionId, assetId, partitionKey).
type ClaimManager struct {
	store Store
}

// NewClaimManager builds a ClaimManager over store.
func NewClaimManager(store Store) *ClaimManager {
	return &ClaimManager{store: store}
}

const (
	cooldownBaseDelay = 30 * time.Second
	cooldownMaxDelay  = 1 * time.Hour
)

// cooldown implements Open Question decision #2:
// cooldown(failures) = min(baseDelay*2^(failures-1), maxDelay).
func cooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := cooldownBaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= cooldownMaxDelay {
			return cooldownMaxDelay
		}
	}
	return d
}

// TryClaim attempts to claim (workflowDefinitionID, assetID, partitionKey)
// for auto-materialization. It fails with apperrors.KindConflict if an
// active (pending or claimed) claim already exists, or
// apperrors.KindThrottled if a failed claim's cooldown has not elapsed. A
// new claim inherits the failure count of a failed predecessor.
func (m *ClaimManager) TryClaim(ctx context.Context, workflowDefinitionID, assetID string, partitionKey map[string]string, reason string) (AutoMaterializeClaim, error) {
	now := time.Now().UTC()
	existing, found, err := m.store.FindActiveClaim(ctx, workflowDefinitionID, assetID, partitionKey)
	if err != nil {
		return AutoMaterializeClaim{}, err
	}
	if found {
		if existing.Status == ClaimPending || existing.Status == ClaimClaimed {
			return AutoMaterializeClaim{}, apperrors.Conflict("active auto-materialize claim exists for asset %s", assetID)
		}
		if !existing.Eligible(now) {
			return AutoMaterializeClaim{}, apperrors.Wrap(apperrors.KindThrottled, "auto-materialize cooldown", nil)
		}
	}

	claim := AutoMaterializeClaim{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: workflowDefinitionID,
		AssetID:              assetID,
		PartitionKey:         partitionKey,
		Reason:               reason,
		Status:               ClaimPending,
		RequestedAt:          now,
	}
	if found && existing.Status == ClaimFailed {
		claim.FailureCount = existing.FailureCount
	}
	return m.store.CreateClaim(ctx, claim)
}

// Claimed transitions a pending claim to claimed once a run has been
// launched on its behalf.
func (m *ClaimManager) Claimed(ctx context.Context, claim AutoMaterializeClaim, workflowRunID, owner string) error {
	now := time.Now().UTC()
	claim.Status = ClaimClaimed
	claim.ClaimedAt = &now
	claim.WorkflowRunID = &workflowRunID
	claim.ClaimOwner = &owner
	return m.store.UpdateClaim(ctx, claim)
}

// Release marks a claim released after its run succeeds, clearing failure
// bookkeeping so the next eligible attempt starts fresh.
func (m *ClaimManager) Release(ctx context.Context, claim AutoMaterializeClaim) error {
	now := time.Now().UTC()
	claim.Status = ClaimReleased
	claim.ReleasedAt = &now
	claim.FailureCount = 0
	claim.NextEligibleAt = nil
	return m.store.UpdateClaim(ctx, claim)
}

// Fail marks a claim failed, incrementing the failure counter and setting
// the cooldown-gated next-eligible time.
func (m *ClaimManager) Fail(ctx context.Context, claim AutoMaterializeClaim) error {
	now := time.Now().UTC()
	claim.Status = ClaimFailed
	claim.FailureCount++
	next := now.Add(cooldown(claim.FailureCount))
	claim.NextEligibleAt = &next
	return m.store.UpdateClaim(ctx, claim)
}
