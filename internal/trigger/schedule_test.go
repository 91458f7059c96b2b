package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronScheduleRejectsInvalid(t *testing.T) {
	_, err := ParseCronSchedule("not a cron expr")
	require.Error(t, err)
}

func TestMaterializeRunsHourly(t *testing.T) {
	parsed, err := ParseCronSchedule("0 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC)
	to := time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)
	s := Schedule{CatchUp: true}
	fires := MaterializeRuns(s, parsed, from, to)
	require.Len(t, fires, 3)
	assert.Equal(t, 11, fires[0].Hour())
	assert.Equal(t, 13, fires[2].Hour())
}

func TestMaterializeRunsWithoutCatchUpReturnsLatestOnly(t *testing.T) {
	parsed, err := ParseCronSchedule("0 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 10, 5, 0, 0, time.UTC)
	to := time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)
	s := Schedule{CatchUp: false}
	fires := MaterializeRuns(s, parsed, from, to)
	require.Len(t, fires, 1)
	assert.Equal(t, 13, fires[0].Hour())
}

func TestMaterializeRunsHonorsStartWindow(t *testing.T) {
	parsed, err := ParseCronSchedule("0 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)
	startWindow := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	s := Schedule{CatchUp: true, StartWindow: &startWindow}
	fires := MaterializeRuns(s, parsed, from, to)
	require.Len(t, fires, 1)
	assert.Equal(t, 11, fires[0].Hour())
}
