package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// PostgresStore implements DeliveryStore against PostgreSQL, following
// manifeststore.PostgresStore's per-method raw SQL shape.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindActiveDedupe(ctx context.Context, triggerID, dedupeKey string) (TriggerDelivery, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_id, event_id, status, attempts, dedupe_key, throttled_until, next_attempt_at,
		       error_message, workflow_run_id, created_at, updated_at
		FROM workflow_trigger_deliveries
		WHERE trigger_id = $1 AND dedupe_key = $2 AND status IN ('matched', 'launched', 'pending')
		ORDER BY created_at DESC
		LIMIT 1
	`, triggerID, dedupeKey)
	return scanDelivery(row)
}

func scanDelivery(row interface {
	Scan(dest ...any) error
}) (TriggerDelivery, bool, error) {
	var d TriggerDelivery
	err := row.Scan(&d.ID, &d.TriggerID, &d.EventID, &d.Status, &d.Attempts, &d.DedupeKey, &d.ThrottledUntil, &d.NextAttemptAt,
		&d.ErrorMessage, &d.WorkflowRunID, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return TriggerDelivery{}, false, nil
	}
	if err != nil {
		return TriggerDelivery{}, false, apperrors.Wrap(apperrors.KindStorageIO, "scan trigger delivery", err)
	}
	return d, true, nil
}

func (s *PostgresStore) CreateDelivery(ctx context.Context, d TriggerDelivery) (TriggerDelivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_trigger_deliveries
			(id, trigger_id, event_id, status, attempts, dedupe_key, throttled_until, next_attempt_at,
			 error_message, workflow_run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID, d.TriggerID, d.EventID, d.Status, d.Attempts, d.DedupeKey, d.ThrottledUntil, d.NextAttemptAt,
		d.ErrorMessage, d.WorkflowRunID, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return TriggerDelivery{}, apperrors.Wrap(apperrors.KindStorageIO, "create trigger delivery", err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDelivery(ctx context.Context, d TriggerDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_trigger_deliveries SET
			status = $2, attempts = $3, throttled_until = $4, next_attempt_at = $5,
			error_message = $6, workflow_run_id = $7, updated_at = $8
		WHERE id = $1
	`, d.ID, d.Status, d.Attempts, d.ThrottledUntil, d.NextAttemptAt, d.ErrorMessage, d.WorkflowRunID, time.Now().UTC())
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "update trigger delivery", err)
	}
	return nil
}

func (s *PostgresStore) CountActiveRunsForTrigger(ctx context.Context, triggerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_trigger_deliveries WHERE trigger_id = $1 AND status = 'launched'
	`, triggerID).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStorageIO, "count active trigger runs", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, t EventTrigger) error {
	predicatesRaw, err := json.Marshal(t.Predicates)
	if err != nil {
		return apperrors.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_event_triggers SET
			status = $2, event_type = $3, event_source = $4, predicates = $5, parameter_template = $6,
			run_key_template = $7, idempotency_key_expr = $8, throttle_window_ms = $9, throttle_count = $10,
			max_concurrency = $11, metadata = $12, failure_count = $13, next_eligible_at = $14,
			paused_until = $15, pause_reason = $16
		WHERE id = $1
	`, t.ID, t.Status, t.EventType, t.EventSource, predicatesRaw, t.ParameterTemplate,
		t.RunKeyTemplate, t.IdempotencyKeyExpr, t.ThrottleWindowMs, t.ThrottleCount,
		t.MaxConcurrency, t.Metadata.Raw(), t.FailureCount, t.NextEligibleAt,
		t.PausedUntil, t.PauseReason)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageIO, "update event trigger", err)
	}
	return nil
}

// GetTrigger loads a single EventTrigger by ID. It is not part of the
// DeliveryStore interface (the engine always receives the trigger from its
// caller) but is the counterpart every schedule/event dispatcher needs to
// rehydrate a trigger before calling Engine.ProcessDelivery.
func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (EventTrigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_definition_id, status, event_type, event_source, predicates, parameter_template,
		       run_key_template, idempotency_key_expr, throttle_window_ms, throttle_count, max_concurrency,
		       metadata, failure_count, next_eligible_at, paused_until, pause_reason
		FROM workflow_event_triggers
		WHERE id = $1
	`, id)

	var (
		t             EventTrigger
		predicatesRaw []byte
		metadataRaw   []byte
	)
	err := row.Scan(&t.ID, &t.WorkflowDefinitionID, &t.Status, &t.EventType, &t.EventSource, &predicatesRaw, &t.ParameterTemplate,
		&t.RunKeyTemplate, &t.IdempotencyKeyExpr, &t.ThrottleWindowMs, &t.ThrottleCount, &t.MaxConcurrency,
		&metadataRaw, &t.FailureCount, &t.NextEligibleAt, &t.PausedUntil, &t.PauseReason)
	if err == sql.ErrNoRows {
		return EventTrigger{}, apperrors.NotFound("event_trigger", id)
	}
	if err != nil {
		return EventTrigger{}, apperrors.Wrap(apperrors.KindStorageIO, "scan event trigger", err)
	}
	if err := json.Unmarshal(predicatesRaw, &t.Predicates); err != nil {
		return EventTrigger{}, apperrors.Internal(err)
	}
	if t.Metadata, err = jsonvalue.FromRaw(metadataRaw); err != nil {
		return EventTrigger{}, apperrors.Internal(err)
	}
	return t, nil
}
