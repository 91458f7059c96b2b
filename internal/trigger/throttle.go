package trigger

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler enforces spec.md §4.7 step 4's sliding-window launch throttle
// per trigger, per Open Question decision #3: backed by
// golang.org/x/time/rate.Limiter with burst = maxPerWindow and refill rate
// = maxPerWindow/window, so a burst at the start of one window can't starve
// the start of the next the way a fixed reset-at-boundary bucket would.
type Throttler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottler returns an empty Throttler.
func NewThrottler() *Throttler {
	return &Throttler{limiters: make(map[string]*rate.Limiter)}
}

func (t *Throttler) limiterFor(triggerID string, maxPerWindow int, window time.Duration) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	lim, ok := t.limiters[triggerID]
	if !ok {
		refill := rate.Limit(float64(maxPerWindow) / window.Seconds())
		lim = rate.NewLimiter(refill, maxPerWindow)
		t.limiters[triggerID] = lim
	}
	return lim
}

// Allow reports whether a launch for triggerID is permitted right now under
// (maxPerWindow, window), consuming a token if so. When not allowed, it
// also returns the time the caller should set as throttledUntil.
func (t *Throttler) Allow(triggerID string, maxPerWindow int, window time.Duration) (bool, time.Time) {
	if maxPerWindow <= 0 || window <= 0 {
		return true, time.Time{}
	}
	lim := t.limiterFor(triggerID, maxPerWindow, window)
	now := time.Now()
	if lim.AllowN(now, 1) {
		return true, time.Time{}
	}
	return false, now.Add(window)
}

// Reset drops the limiter for triggerID, e.g. when its throttle config
// changes.
func (t *Throttler) Reset(triggerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, triggerID)
}
