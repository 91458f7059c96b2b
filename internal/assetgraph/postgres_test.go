package assetgraph

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAssetStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresLatestSnapshotReturnsNotFound(t *testing.T) {
	store, mock := newMockAssetStore(t)
	mock.ExpectQuery(`SELECT asset_id, partition_key, workflow_run_id, step_id, produced_at, created_at, updated_at, payload, schema FROM workflow_asset_snapshots`).
		WithArgs("orders_daily", "").
		WillReturnError(sql.ErrNoRows)

	_, found, err := store.LatestSnapshot(context.Background(), "orders_daily", nil)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkStaleIssuesInsert(t *testing.T) {
	store, mock := newMockAssetStore(t)
	mock.ExpectExec(`INSERT INTO workflow_asset_stale_partitions`).
		WithArgs("orders_daily", "date=2026-07-30&", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkStale(context.Background(), "orders_daily", map[string]string{"date": "2026-07-30"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIsMarkedStaleQueriesExists(t *testing.T) {
	store, mock := newMockAssetStore(t)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM workflow_asset_stale_partitions`).
		WithArgs("orders_daily", "").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	stale, err := store.IsMarkedStale(context.Background(), "orders_daily", nil)
	require.NoError(t, err)
	assert.True(t, stale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateClaimAssignsID(t *testing.T) {
	store, mock := newMockAssetStore(t)
	mock.ExpectExec(`INSERT INTO workflow_auto_run_claims`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claim, err := store.CreateClaim(context.Background(), AutoMaterializeClaim{
		WorkflowDefinitionID: "wf-1",
		AssetID:              "orders_daily",
		Status:               ClaimPending,
		RequestedAt:          time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, claim.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateClaimReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockAssetStore(t)
	mock.ExpectExec(`UPDATE workflow_auto_run_claims SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateClaim(context.Background(), AutoMaterializeClaim{ID: "missing", Status: ClaimReleased})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
