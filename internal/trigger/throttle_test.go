package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottlerAllowsUpToBurstThenBlocks(t *testing.T) {
	th := NewThrottler()
	window := time.Minute
	for i := 0; i < 3; i++ {
		allowed, _ := th.Allow("trig-1", 3, window)
		assert.True(t, allowed, "call %d should be allowed", i)
	}
	allowed, until := th.Allow("trig-1", 3, window)
	assert.False(t, allowed)
	assert.True(t, until.After(time.Now()))
}

func TestThrottlerZeroLimitsNeverThrottle(t *testing.T) {
	th := NewThrottler()
	allowed, _ := th.Allow("trig-1", 0, time.Minute)
	assert.True(t, allowed)
}

func TestThrottlerResetClearsLimiter(t *testing.T) {
	th := NewThrottler()
	for i := 0; i < 2; i++ {
		th.Allow("trig-1", 2, time.Minute)
	}
	allowed, _ := th.Allow("trig-1", 2, time.Minute)
	assert.False(t, allowed)

	th.Reset("trig-1")
	allowed, _ = th.Allow("trig-1", 2, time.Minute)
	assert.True(t, allowed)
}
