package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

type fakeLauncher struct {
	calls int
}

func (f *fakeLauncher) LaunchRun(_ context.Context, _ string, _ map[string]any, _ *string, _, _ *string) (string, error) {
	f.calls++
	return uuid.NewString(), nil
}

func newEventEnvelope(eventType string, payload map[string]any) EventEnvelope {
	v, _ := jsonvalue.FromAny(payload)
	return EventEnvelope{ID: uuid.NewString(), Type: eventType, Source: "ingest", OccurredAt: time.Now().UTC(), Payload: v}
}

func TestEngineLaunchesOnMatch(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	trig := EventTrigger{
		ID: "trig-1", Status: TriggerActive, WorkflowDefinitionID: "wf-1",
		EventType: "partition.published", ParameterTemplate: `{"dataset":"{{dataset}}"}`,
	}
	env := newEventEnvelope("partition.published", map[string]any{"dataset": "orders"})

	delivery, err := eng.ProcessDelivery(context.Background(), trig, env)
	require.NoError(t, err)
	assert.Equal(t, DeliveryLaunched, delivery.Status)
	assert.Equal(t, 1, launcher.calls)
}

func TestEngineNoMatchReturnsZeroDelivery(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	trig := EventTrigger{ID: "trig-1", Status: TriggerActive, EventType: "partition.published"}
	env := newEventEnvelope("partition.failed", nil)

	delivery, err := eng.ProcessDelivery(context.Background(), trig, env)
	require.NoError(t, err)
	assert.Equal(t, "", delivery.ID)
	assert.Equal(t, 0, launcher.calls)
}

func TestEngineDedupesByIdempotencyKey(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	key := "{{dataset}}"
	trig := EventTrigger{
		ID: "trig-1", Status: TriggerActive, WorkflowDefinitionID: "wf-1",
		EventType: "partition.published", ParameterTemplate: `{}`, IdempotencyKeyExpr: &key,
	}
	env1 := newEventEnvelope("partition.published", map[string]any{"dataset": "orders"})
	env2 := newEventEnvelope("partition.published", map[string]any{"dataset": "orders"})

	first, err := eng.ProcessDelivery(context.Background(), trig, env1)
	require.NoError(t, err)
	assert.Equal(t, DeliveryLaunched, first.Status)

	second, err := eng.ProcessDelivery(context.Background(), trig, env2)
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, second.Status)
	assert.Equal(t, 1, launcher.calls)
}

func TestEngineThrottles(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	windowMs := int64(60000)
	count := 1
	trig := EventTrigger{
		ID: "trig-1", Status: TriggerActive, WorkflowDefinitionID: "wf-1",
		EventType: "partition.published", ParameterTemplate: `{}`,
		ThrottleWindowMs: &windowMs, ThrottleCount: &count,
	}

	first, err := eng.ProcessDelivery(context.Background(), trig, newEventEnvelope("partition.published", nil))
	require.NoError(t, err)
	assert.Equal(t, DeliveryLaunched, first.Status)

	second, err := eng.ProcessDelivery(context.Background(), trig, newEventEnvelope("partition.published", nil))
	require.NoError(t, err)
	assert.Equal(t, DeliveryThrottled, second.Status)
	assert.Equal(t, 1, launcher.calls)
}

func TestEngineRejectsIneligibleTrigger(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	trig := EventTrigger{ID: "trig-1", Status: TriggerDisabled, EventType: "partition.published"}
	_, err := eng.ProcessDelivery(context.Background(), trig, newEventEnvelope("partition.published", nil))
	require.Error(t, err)
}

func TestEngineSkipsExpiredEnvelopeWithoutMatchingOrLaunching(t *testing.T) {
	store := NewMemoryDeliveryStore()
	launcher := &fakeLauncher{}
	eng := NewEngine(store, launcher)

	trig := EventTrigger{
		ID: "trig-1", Status: TriggerActive, WorkflowDefinitionID: "wf-1",
		EventType: "partition.published", ParameterTemplate: `{}`,
	}
	ttlMs := int64(1000)
	env := newEventEnvelope("partition.published", nil)
	env.OccurredAt = time.Now().UTC().Add(-time.Hour)
	env.TTLMs = &ttlMs

	delivery, err := eng.ProcessDelivery(context.Background(), trig, env)
	require.NoError(t, err)
	assert.Equal(t, DeliverySkipped, delivery.Status)
	assert.Equal(t, 0, launcher.calls)
}
