package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

// DeliveryStore is the persistence seam the engine depends on for
// dedupe/concurrency bookkeeping. PostgresStore (postgres.go) and
// MemoryDeliveryStore (memory_store.go) both implement it.
type DeliveryStore interface {
	// FindActiveDedupe looks up an existing delivery for (triggerID,
	// dedupeKey) in {matched, launched, pending}.
	FindActiveDedupe(ctx context.Context, triggerID, dedupeKey string) (TriggerDelivery, bool, error)
	CreateDelivery(ctx context.Context, d TriggerDelivery) (TriggerDelivery, error)
	UpdateDelivery(ctx context.Context, d TriggerDelivery) error
	CountActiveRunsForTrigger(ctx context.Context, triggerID string) (int, error)
	UpdateTrigger(ctx context.Context, t EventTrigger) error
}

// RunLauncher creates a workflow run on behalf of a matched delivery,
// normally backed by workflow.Executor.CreateRun.
type RunLauncher interface {
	LaunchRun(ctx context.Context, workflowDefinitionID string, parameters map[string]any, runKey *string, triggeredBy, triggerID *string) (runID string, err error)
}

const failurePauseThreshold = 5

// Engine drives the per-trigger delivery pipeline described in spec.md
// §4.7.
type Engine struct {
	store    DeliveryStore
	launcher RunLauncher
	throttle *Throttler
}

// NewEngine builds an Engine.
func NewEngine(store DeliveryStore, launcher RunLauncher) *Engine {
	return &Engine{store: store, launcher: launcher, throttle: NewThrottler()}
}

// ProcessDelivery runs one event through the full match → dedupe →
// throttle → concurrency → launch pipeline for trigger t.
func (e *Engine) ProcessDelivery(ctx context.Context, t EventTrigger, env EventEnvelope) (TriggerDelivery, error) {
	now := time.Now().UTC()
	if !t.IsEligible(now) {
		return TriggerDelivery{}, apperrors.Conflict("trigger %s is not eligible (status=%s)", t.ID, t.Status)
	}

	if env.Expired(now) {
		skipped := TriggerDelivery{
			ID: uuid.NewString(), TriggerID: t.ID, EventID: env.ID, Status: DeliverySkipped,
			CreatedAt: now, UpdatedAt: now,
		}
		return e.store.CreateDelivery(ctx, skipped)
	}

	matched, err := MatchEvent(t, env)
	if err != nil {
		return e.failDelivery(ctx, t, env, err)
	}
	if !matched {
		return TriggerDelivery{}, nil
	}

	params, err := renderJSONTemplate(t.ParameterTemplate, env.Payload.Raw())
	if err != nil {
		return e.failDelivery(ctx, t, env, err)
	}

	var runKey *string
	if t.RunKeyTemplate != nil {
		rendered, err := RenderTemplate(*t.RunKeyTemplate, env.Payload.Raw())
		if err != nil {
			return e.failDelivery(ctx, t, env, err)
		}
		runKey = &rendered
	}

	dedupeKey := env.ID
	if t.IdempotencyKeyExpr != nil {
		rendered, err := RenderTemplate(*t.IdempotencyKeyExpr, env.Payload.Raw())
		if err != nil {
			return e.failDelivery(ctx, t, env, err)
		}
		dedupeKey = rendered
	}

	if _, found, err := e.store.FindActiveDedupe(ctx, t.ID, dedupeKey); err != nil {
		return TriggerDelivery{}, err
	} else if found {
		skipped := TriggerDelivery{
			ID: uuid.NewString(), TriggerID: t.ID, EventID: env.ID, Status: DeliverySkipped,
			DedupeKey: &dedupeKey, CreatedAt: now, UpdatedAt: now,
		}
		return e.store.CreateDelivery(ctx, skipped)
	}

	delivery := TriggerDelivery{
		ID: uuid.NewString(), TriggerID: t.ID, EventID: env.ID, Status: DeliveryMatched,
		DedupeKey: &dedupeKey, CreatedAt: now, UpdatedAt: now,
	}

	if t.ThrottleWindowMs != nil && t.ThrottleCount != nil {
		window := time.Duration(*t.ThrottleWindowMs) * time.Millisecond
		if allowed, until := e.throttle.Allow(t.ID, *t.ThrottleCount, window); !allowed {
			delivery.Status = DeliveryThrottled
			delivery.ThrottledUntil = &until
			return e.store.CreateDelivery(ctx, delivery)
		}
	}

	if t.MaxConcurrency != nil {
		active, err := e.store.CountActiveRunsForTrigger(ctx, t.ID)
		if err != nil {
			return TriggerDelivery{}, err
		}
		if active >= *t.MaxConcurrency {
			// Recorded as matched without a launch; nothing in this module
			// picks it up again when capacity frees.
			return e.store.CreateDelivery(ctx, delivery)
		}
	}

	triggeredBy := "trigger"
	runID, err := e.launcher.LaunchRun(ctx, t.WorkflowDefinitionID, params, runKey, &triggeredBy, &t.ID)
	if err != nil {
		return e.failDelivery(ctx, t, env, err)
	}

	delivery.Status = DeliveryLaunched
	delivery.WorkflowRunID = &runID
	delivery.UpdatedAt = time.Now().UTC()
	created, err := e.store.CreateDelivery(ctx, delivery)
	if err != nil {
		return TriggerDelivery{}, err
	}

	if t.FailureCount > 0 {
		t.FailureCount = 0
		_ = e.store.UpdateTrigger(ctx, t)
	}
	return created, nil
}

func (e *Engine) failDelivery(ctx context.Context, t EventTrigger, env EventEnvelope, cause error) (TriggerDelivery, error) {
	now := time.Now().UTC()
	msg := cause.Error()
	delivery := TriggerDelivery{
		ID: uuid.NewString(), TriggerID: t.ID, EventID: env.ID, Status: DeliveryFailed,
		ErrorMessage: &msg, CreatedAt: now, UpdatedAt: now,
	}
	created, createErr := e.store.CreateDelivery(ctx, delivery)
	if createErr != nil {
		return TriggerDelivery{}, createErr
	}

	t.FailureCount++
	if t.FailureCount > failurePauseThreshold {
		pausedUntil := now.Add(backoffForFailures(t.FailureCount))
		t.PausedUntil = &pausedUntil
		reason := "trigger_paused: exceeded failure threshold"
		t.PauseReason = &reason
	}
	_ = e.store.UpdateTrigger(ctx, t)
	return created, cause
}

// backoffForFailures mirrors the executor's exponential strategy so the
// trigger auto-pause backoff doesn't diverge conceptually from step retry
// backoff elsewhere in the codebase.
func backoffForFailures(failures int) time.Duration {
	base := 30 * time.Second
	capped := 30 * time.Minute
	d := base
	for i := 1; i < failures-failurePauseThreshold; i++ {
		d *= 2
		if d > capped {
			return capped
		}
	}
	return d
}

func renderJSONTemplate(tmpl string, payload []byte) (map[string]any, error) {
	rendered, err := RenderTemplate(tmpl, payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if rendered == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(rendered), &out); err != nil {
		return nil, apperrors.TemplateInvalid("rendered parameter template is not valid JSON: %v", err)
	}
	return out, nil
}
