package trigger

import (
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// NormalizeEnvelope fills in a missing id (generated UUID) and occurredAt
// (now), per spec.md §3's Event Envelope normalization rule.
func NormalizeEnvelope(env EventEnvelope, now time.Time) EventEnvelope {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now
	}
	if env.Payload.String() == "" {
		env.Payload = jsonvalue.Null
	}
	if env.Metadata.String() == "" {
		env.Metadata = jsonvalue.Null
	}
	return env
}
