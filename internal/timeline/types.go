// Package timeline implements the C9 Activity & Timeline Aggregator:
// parallel fetch of runs, deliveries, and trigger/source pause-and-failure
// events within a window, merged into a single time-ordered feed. Grounded
// on the teacher's infrastructure/service.DeepHealthChecker's
// fan-out-then-merge shape, generalized from health checks to timeline
// sources.
package timeline

import "time"

// EntryKind discriminates the source a TimelineEntry was merged from.
type EntryKind string

const (
	EntryRun           EntryKind = "run"
	EntryDelivery      EntryKind = "delivery"
	EntryTriggerFailure EntryKind = "trigger_failure"
	EntryTriggerPause  EntryKind = "trigger_pause"
	EntrySourcePause   EntryKind = "source_pause"
)

// TimelineEntry is one merged, time-ordered activity item.
type TimelineEntry struct {
	ID        string
	Kind      EntryKind
	Timestamp time.Time
	Status    string
	Detail    map[string]any
}

// RangePreset names a relative lookback window (spec.md §4.9).
type RangePreset string

const (
	Range1h  RangePreset = "1h"
	Range3h  RangePreset = "3h"
	Range6h  RangePreset = "6h"
	Range12h RangePreset = "12h"
	Range24h RangePreset = "24h"
	Range3d  RangePreset = "3d"
	Range7d  RangePreset = "7d"
)

var rangeDurations = map[RangePreset]time.Duration{
	Range1h:  time.Hour,
	Range3h:  3 * time.Hour,
	Range6h:  6 * time.Hour,
	Range12h: 12 * time.Hour,
	Range24h: 24 * time.Hour,
	Range3d:  3 * 24 * time.Hour,
	Range7d:  7 * 24 * time.Hour,
}

// Duration resolves a RangePreset to a time.Duration, defaulting to 24h for
// an empty or unrecognized preset.
func (r RangePreset) Duration() time.Duration {
	if d, ok := rangeDurations[r]; ok {
		return d
	}
	return rangeDurations[Range24h]
}

const (
	defaultLimit = 200
	maxLimit     = 500
)

// Query is the parameters of a getTimeline call.
type Query struct {
	WorkflowSlug string
	From         time.Time
	To           time.Time
	Range        RangePreset
	Limit        int
	Statuses     []string
}

// Resolve fills in from/to from Range when not explicitly supplied, and
// clamps Limit to (0, maxLimit], defaulting to defaultLimit.
func (q Query) Resolve(now time.Time) Query {
	if q.To.IsZero() {
		q.To = now
	}
	if q.From.IsZero() {
		q.From = q.To.Add(-q.Range.Duration())
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultLimit
	case q.Limit > maxLimit:
		q.Limit = maxLimit
	}
	return q
}
