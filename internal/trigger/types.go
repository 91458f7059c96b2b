// Package trigger implements the C7 Event & Schedule Engine: event
// envelope normalization, predicate matching, template rendering, the
// delivery state machine, throttle/concurrency/idempotency enforcement,
// cron materialization with catch-up, and trigger auto-pause. SourcePause
// only models an event source's pause state; no source-level auto-pause
// sets it.
// Grounded on the teacher's domain/trigger model (type-discriminated rule
// binding) generalized to the spec's richer event/predicate/delivery
// pipeline.
package trigger

import (
	"time"

	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
)

// TriggerStatus is the lifecycle status of an EventTrigger.
type TriggerStatus string

const (
	TriggerActive   TriggerStatus = "active"
	TriggerDisabled TriggerStatus = "disabled"
)

// PredicateOperator enumerates the jsonPath predicate comparison operators.
type PredicateOperator string

const (
	OpEq       PredicateOperator = "eq"
	OpNeq      PredicateOperator = "neq"
	OpIn       PredicateOperator = "in"
	OpContains PredicateOperator = "contains"
	OpRegex    PredicateOperator = "regex"
	OpExists   PredicateOperator = "exists"
	OpGt       PredicateOperator = "gt"
	OpGte      PredicateOperator = "gte"
	OpLt       PredicateOperator = "lt"
	OpLte      PredicateOperator = "lte"
)

// Predicate is a single `{type:'jsonPath', path, operator, value|values}`
// match clause (spec.md §4.7).
type Predicate struct {
	Path          string
	Operator      PredicateOperator
	Value         any
	Values        []any
	CaseSensitive bool
	Flags         string
}

// EventTrigger is the persisted trigger definition (spec.md §3).
type EventTrigger struct {
	ID                      string
	WorkflowDefinitionID    string
	Status                  TriggerStatus
	EventType               string
	EventSource             *string
	Predicates              []Predicate
	ParameterTemplate       string // JSON document with {{path}} placeholders
	RunKeyTemplate          *string
	IdempotencyKeyExpr      *string
	ThrottleWindowMs        *int64
	ThrottleCount           *int
	MaxConcurrency          *int
	Metadata                jsonvalue.Value
	FailureCount            int
	NextEligibleAt          *time.Time
	PausedUntil             *time.Time
	PauseReason             *string
}

// IsEligible reports whether the trigger may currently process deliveries.
func (t EventTrigger) IsEligible(now time.Time) bool {
	if t.Status != TriggerActive {
		return false
	}
	if t.PausedUntil != nil && now.Before(*t.PausedUntil) {
		return false
	}
	return true
}

// DeliveryStatus is the lifecycle status of a TriggerDelivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryMatched   DeliveryStatus = "matched"
	DeliveryThrottled DeliveryStatus = "throttled"
	DeliverySkipped   DeliveryStatus = "skipped"
	DeliveryLaunched  DeliveryStatus = "launched"
	DeliveryFailed    DeliveryStatus = "failed"
)

// TriggerDelivery is one event→trigger match evaluated through the
// pipeline state machine (spec.md §3).
type TriggerDelivery struct {
	ID             string
	TriggerID      string
	EventID        string
	Status         DeliveryStatus
	Attempts       int
	DedupeKey      *string
	ThrottledUntil *time.Time
	NextAttemptAt  *time.Time
	ErrorMessage   *string
	WorkflowRunID  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventEnvelope is the normalized inbound event (spec.md §3).
type EventEnvelope struct {
	ID            string
	Type          string
	Source        string
	OccurredAt    time.Time
	Payload       jsonvalue.Value
	CorrelationID *string
	TTLMs         *int64
	Metadata      jsonvalue.Value
}

// Expired reports whether the envelope's TTL has elapsed as of now.
func (e EventEnvelope) Expired(now time.Time) bool {
	if e.TTLMs == nil {
		return false
	}
	return now.After(e.OccurredAt.Add(time.Duration(*e.TTLMs) * time.Millisecond))
}

// Schedule is a cron-driven run materializer (spec.md §3).
type Schedule struct {
	ID                     string
	WorkflowDefinitionID   string
	Cron                   string
	Timezone               string
	Parameters             jsonvalue.Value
	StartWindow            *time.Time
	EndWindow              *time.Time
	CatchUp                bool
	NextRunAt              *time.Time
	LastMaterializedWindow *time.Time
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SourcePause is the per-event-source failure/pause state.
type SourcePause struct {
	Source       string
	Failures     int
	PausedUntil  *time.Time
	Reason       *string
}
