package trigger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDeliveryStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresFindActiveDedupeReturnsNotFoundOnNoRows(t *testing.T) {
	store, mock := newMockDeliveryStore(t)
	mock.ExpectQuery(`SELECT id, trigger_id, event_id, status, attempts, dedupe_key, throttled_until, next_attempt_at`).
		WithArgs("trg-1", "evt-1").
		WillReturnError(sql.ErrNoRows)

	_, found, err := store.FindActiveDedupe(context.Background(), "trg-1", "evt-1")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDeliveryAssignsID(t *testing.T) {
	store, mock := newMockDeliveryStore(t)
	mock.ExpectExec(`INSERT INTO workflow_trigger_deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d, err := store.CreateDelivery(context.Background(), TriggerDelivery{
		TriggerID: "trg-1", EventID: "evt-1", Status: DeliveryMatched,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountActiveRunsForTrigger(t *testing.T) {
	store, mock := newMockDeliveryStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM workflow_trigger_deliveries`).
		WithArgs("trg-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := store.CountActiveRunsForTrigger(context.Background(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetTriggerReturnsNotFound(t *testing.T) {
	store, mock := newMockDeliveryStore(t)
	mock.ExpectQuery(`SELECT id, workflow_definition_id, status, event_type`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTrigger(context.Background(), "missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetTriggerScansRow(t *testing.T) {
	store, mock := newMockDeliveryStore(t)
	mock.ExpectQuery(`SELECT id, workflow_definition_id, status, event_type`).
		WithArgs("trg-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workflow_definition_id", "status", "event_type", "event_source", "predicates",
			"parameter_template", "run_key_template", "idempotency_key_expr", "throttle_window_ms",
			"throttle_count", "max_concurrency", "metadata", "failure_count", "next_eligible_at",
			"paused_until", "pause_reason",
		}).AddRow(
			"trg-1", "wf-1", TriggerActive, "order.created", nil, []byte(`[]`),
			"{}", nil, nil, nil,
			nil, nil, []byte(`{}`), 0, nil,
			nil, nil,
		))

	trg, err := store.GetTrigger(context.Background(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", trg.WorkflowDefinitionID)
	require.NoError(t, mock.ExpectationsWereMet())
}
