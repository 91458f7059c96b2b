package trigger

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCronSchedule validates a cron expression (standard 5-field or the
// @hourly/@daily/@every 1h style descriptors robfig/cron supports) and
// returns the ready-to-use cron.Schedule.
func ParseCronSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, apperrors.Validation("invalid cron schedule %q: %v", expr, err)
	}
	return sched, nil
}

// MaterializeRuns computes every fire time for s strictly after `from` and
// up to and including `to`, honoring startWindow/endWindow and the
// catchUp flag per spec.md §4.7's schedule materialization rule: when
// catchUp is false only the single latest missed fire time is returned, so
// a scheduler that was down for an extended period does not flood the
// queue with backlog. Fire times are computed in s.Timezone; an empty or
// unloadable Timezone leaves them in from's location.
func MaterializeRuns(s Schedule, parsed cron.Schedule, from, to time.Time) []time.Time {
	windowStart := from
	if s.StartWindow != nil && s.StartWindow.After(windowStart) {
		windowStart = *s.StartWindow
	}
	windowEnd := to
	if s.EndWindow != nil && s.EndWindow.Before(windowEnd) {
		windowEnd = *s.EndWindow
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	var fires []time.Time
	cursor := windowStart
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			cursor = cursor.In(loc)
		}
	}
	for {
		next := parsed.Next(cursor)
		if next.IsZero() || next.After(windowEnd) {
			break
		}
		fires = append(fires, next)
		cursor = next
	}

	if len(fires) == 0 {
		return nil
	}
	if !s.CatchUp && len(fires) > 1 {
		return fires[len(fires)-1:]
	}
	return fires
}
