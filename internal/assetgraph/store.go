package assetgraph

import "context"

// Store is the persistence seam for asset snapshots, stale-partition
// markers, and auto-materialize claims (workflow_asset_snapshots,
// workflow_asset_stale_partitions, workflow_auto_run_claims per spec.md
// §6's schema list). Implemented by MemoryStore and by PostgresStore, which
// follows manifeststore.PostgresStore's shape.
type Store interface {
	LatestSnapshot(ctx context.Context, assetID string, partitionKey map[string]string) (AssetSnapshot, bool, error)
	PutSnapshot(ctx context.Context, snap AssetSnapshot) error
	IsMarkedStale(ctx context.Context, assetID string, partitionKey map[string]string) (bool, error)
	MarkStale(ctx context.Context, assetID string, partitionKey map[string]string) error
	ClearStale(ctx context.Context, assetID string, partitionKey map[string]string) error

	FindActiveClaim(ctx context.Context, workflowDefinitionID, assetID string, partitionKey map[string]string) (AutoMaterializeClaim, bool, error)
	CreateClaim(ctx context.Context, claim AutoMaterializeClaim) (AutoMaterializeClaim, error)
	UpdateClaim(ctx context.Context, claim AutoMaterializeClaim) error
}
