package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

func envWithPayload(t *testing.T, eventType string, payload map[string]any) EventEnvelope {
	t.Helper()
	v, err := jsonvalue.FromAny(payload)
	require.NoError(t, err)
	return EventEnvelope{ID: "evt-1", Type: eventType, Source: "ingest", OccurredAt: time.Now().UTC(), Payload: v}
}

func TestMatchEventTypeMismatch(t *testing.T) {
	trig := EventTrigger{EventType: "partition.published"}
	env := envWithPayload(t, "partition.failed", map[string]any{})
	ok, err := MatchEvent(trig, env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchEventPredicateEqCaseInsensitive(t *testing.T) {
	trig := EventTrigger{
		EventType: "partition.published",
		Predicates: []Predicate{
			{Path: "$.dataset", Operator: OpEq, Value: "Orders"},
		},
	}
	env := envWithPayload(t, "partition.published", map[string]any{"dataset": "orders"})
	ok, err := MatchEvent(trig, env)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchEventPredicateGte(t *testing.T) {
	trig := EventTrigger{
		EventType: "partition.published",
		Predicates: []Predicate{
			{Path: "$.rowCount", Operator: OpGte, Value: float64(100)},
		},
	}
	below := envWithPayload(t, "partition.published", map[string]any{"rowCount": float64(50)})
	ok, err := MatchEvent(trig, below)
	require.NoError(t, err)
	assert.False(t, ok)

	above := envWithPayload(t, "partition.published", map[string]any{"rowCount": float64(500)})
	ok, err = MatchEvent(trig, above)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchEventExistsOperator(t *testing.T) {
	trig := EventTrigger{
		EventType:  "partition.published",
		Predicates: []Predicate{{Path: "$.schemaVersion", Operator: OpExists}},
	}
	ok, err := MatchEvent(trig, envWithPayload(t, "partition.published", map[string]any{}))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = MatchEvent(trig, envWithPayload(t, "partition.published", map[string]any{"schemaVersion": float64(3)}))
	require.NoError(t, err)
	assert.True(t, ok)
}
