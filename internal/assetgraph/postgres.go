package assetgraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// PostgresStore implements Store against PostgreSQL, following
// manifeststore.PostgresStore's shape: raw database/sql, one method per
// table operation, JSON columns for caller-defined payloads, a canonical
// string encoding of the partition key for primary-key/uniqueness use
// alongside the JSONB column kept for reconstruction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, assetID string, partitionKey map[string]string) (AssetSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, partition_key, workflow_run_id, step_id, produced_at, created_at, updated_at, payload, schema
		FROM workflow_asset_snapshots
		WHERE asset_id = $1 AND partition_key_canonical = $2
	`, assetID, encodePartitionKey(partitionKey))

	var (
		snap       AssetSnapshot
		pkRaw      []byte
		payloadRaw []byte
		schemaRaw  []byte
	)
	err := row.Scan(&snap.AssetID, &pkRaw, &snap.WorkflowRunID, &snap.StepID, &snap.ProducedAt, &snap.CreatedAt, &snap.UpdatedAt, &payloadRaw, &schemaRaw)
	if err == sql.ErrNoRows {
		return AssetSnapshot{}, false, nil
	}
	if err != nil {
		return AssetSnapshot{}, false, apperrors.Wrap(apperrors.KindStorageIO, "scan asset snapshot", err)
	}

	if err := json.Unmarshal(pkRaw, &snap.PartitionKey); err != nil {
		return AssetSnapshot{}, false, apperrors.Internal(err)
	}
	if snap.Payload, err = jsonvalue.FromRaw(payloadRaw); err != nil {
		return AssetSnapshot{}, false, apperrors.Internal(err)
	}
	if snap.Schema, err = jsonvalue.FromRaw(schemaRaw); err != nil {
		return AssetSnapshot{}, false, apperrors.Internal(err)
	}
	return snap, true, nil
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, snap AssetSnapshot) error {
	pkRaw, err := json.Marshal(snap.PartitionKey)
	if err != nil {
		return apperrors.Internal(err)
	}
	now := time.Now().UTC()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_asset_snapshots
			(asset_id, partition_key_canonical, partition_key, workflow_run_id, step_id, produced_at, created_at, updated_at, payload, schema)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (asset_id, partition_key_canonical) DO UPDATE SET
			workflow_run_id = EXCLUDED.workflow_run_id,
			step_id = EXCLUDED.step_id,
			produced_at = EXCLUDED.produced_at,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload,
			schema = EXCLUDED.schema
		WHERE EXCLUDED.produced_at >= workflow_asset_snapshots.produced_at
	`, snap.AssetID, encodePartitionKey(snap.PartitionKey), pkRaw, snap.WorkflowRunID, snap.StepID, snap.ProducedAt, snap.CreatedAt, snap.UpdatedAt, snap.Payload.Raw(), snap.Schema.Raw())
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "put asset snapshot", err)
	}
	return nil
}

func (s *PostgresStore) IsMarkedStale(ctx context.Context, assetID string, partitionKey map[string]string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM workflow_asset_stale_partitions WHERE asset_id = $1 AND partition_key_canonical = $2)
	`, assetID, encodePartitionKey(partitionKey)).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStorageIO, "check asset staleness", err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkStale(ctx context.Context, assetID string, partitionKey map[string]string) error {
	pkRaw, err := json.Marshal(partitionKey)
	if err != nil {
		return apperrors.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_asset_stale_partitions (asset_id, partition_key_canonical, partition_key, marked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_id, partition_key_canonical) DO NOTHING
	`, assetID, encodePartitionKey(partitionKey), pkRaw, time.Now().UTC())
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "mark asset stale", err)
	}
	return nil
}

func (s *PostgresStore) ClearStale(ctx context.Context, assetID string, partitionKey map[string]string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_asset_stale_partitions WHERE asset_id = $1 AND partition_key_canonical = $2
	`, assetID, encodePartitionKey(partitionKey))
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "clear asset staleness", err)
	}
	return nil
}

func (s *PostgresStore) FindActiveClaim(ctx context.Context, workflowDefinitionID, assetID string, partitionKey map[string]string) (AutoMaterializeClaim, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_definition_id, asset_id, partition_key, workflow_run_id, reason, context,
		       status, requested_at, claimed_at, claim_owner, released_at, failure_count, next_eligible_at
		FROM workflow_auto_run_claims
		WHERE workflow_definition_id = $1 AND asset_id = $2 AND partition_key_canonical = $3
		  AND status IN ('pending', 'claimed', 'failed')
		ORDER BY requested_at DESC
		LIMIT 1
	`, workflowDefinitionID, assetID, encodePartitionKey(partitionKey))
	return scanClaim(row)
}

func scanClaim(row interface {
	Scan(dest ...any) error
}) (AutoMaterializeClaim, bool, error) {
	var (
		c          AutoMaterializeClaim
		pkRaw      []byte
		contextRaw []byte
	)
	err := row.Scan(&c.ID, &c.WorkflowDefinitionID, &c.AssetID, &pkRaw, &c.WorkflowRunID, &c.Reason, &contextRaw,
		&c.Status, &c.RequestedAt, &c.ClaimedAt, &c.ClaimOwner, &c.ReleasedAt, &c.FailureCount, &c.NextEligibleAt)
	if err == sql.ErrNoRows {
		return AutoMaterializeClaim{}, false, nil
	}
	if err != nil {
		return AutoMaterializeClaim{}, false, apperrors.Wrap(apperrors.KindStorageIO, "scan auto-materialize claim", err)
	}
	if err := json.Unmarshal(pkRaw, &c.PartitionKey); err != nil {
		return AutoMaterializeClaim{}, false, apperrors.Internal(err)
	}
	if c.Context, err = jsonvalue.FromRaw(contextRaw); err != nil {
		return AutoMaterializeClaim{}, false, apperrors.Internal(err)
	}
	return c, true, nil
}

func (s *PostgresStore) CreateClaim(ctx context.Context, claim AutoMaterializeClaim) (AutoMaterializeClaim, error) {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	pkRaw, err := json.Marshal(claim.PartitionKey)
	if err != nil {
		return AutoMaterializeClaim{}, apperrors.Internal(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_auto_run_claims
			(id, workflow_definition_id, asset_id, partition_key_canonical, partition_key, workflow_run_id,
			 reason, context, status, requested_at, claimed_at, claim_owner, released_at, failure_count, next_eligible_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, claim.ID, claim.WorkflowDefinitionID, claim.AssetID, encodePartitionKey(claim.PartitionKey), pkRaw, claim.WorkflowRunID,
		claim.Reason, claim.Context.Raw(), claim.Status, claim.RequestedAt, claim.ClaimedAt, claim.ClaimOwner, claim.ReleasedAt, claim.FailureCount, claim.NextEligibleAt)
	if err != nil {
		return AutoMaterializeClaim{}, apperrors.Wrap(apperrors.KindStorageIO, "create auto-materialize claim", err)
	}
	return claim, nil
}

func (s *PostgresStore) UpdateClaim(ctx context.Context, claim AutoMaterializeClaim) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_auto_run_claims SET
			workflow_run_id = $2, status = $3, claimed_at = $4, claim_owner = $5,
			released_at = $6, failure_count = $7, next_eligible_at = $8
		WHERE id = $1
	`, claim.ID, claim.WorkflowRunID, claim.Status, claim.ClaimedAt, claim.ClaimOwner, claim.ReleasedAt, claim.FailureCount, claim.NextEligibleAt)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "update auto-materialize claim", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "update auto-materialize claim", err)
	}
	if rows == 0 {
		return apperrors.NotFound("auto_materialize_claim", claim.ID)
	}
	return nil
}
