// Package resilience provides the fault-tolerance primitives shared by the
// workflow executor's step retries and the service-client's outbound calls,
// adapted from the teacher's infrastructure/resilience package.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Strategy is a workflow step's retry backoff strategy.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// Jitter is a workflow step's retry jitter mode.
type Jitter string

const (
	JitterNone  Jitter = "none"
	JitterFull  Jitter = "full"
	JitterEqual Jitter = "equal"
)

// RetryPolicy mirrors the workflow step retryPolicy contract in spec.md §3.
type RetryPolicy struct {
	MaxAttempts    int
	Strategy       Strategy
	InitialDelayMs int64
	MaxDelayMs     int64
	Jitter         Jitter
}

// DefaultRetryPolicy returns a single-attempt (no retry) policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Strategy: StrategyNone}
}

// NextDelay computes the backoff delay before the given attempt (1-indexed:
// attempt=1 is the delay before the second try). It does not apply jitter;
// call Jittered to do so.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	initial := time.Duration(p.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(p.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 10 * time.Minute
	}

	var delay time.Duration
	switch p.Strategy {
	case StrategyFixed:
		delay = initial
	case StrategyExponential:
		delay = initial
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		delay = 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Jittered applies the policy's jitter mode to a computed delay.
func (p RetryPolicy) Jittered(delay time.Duration, rnd *rand.Rand) time.Duration {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	switch p.Jitter {
	case JitterFull:
		if delay <= 0 {
			return 0
		}
		return time.Duration(rnd.Int63n(int64(delay) + 1))
	case JitterEqual:
		half := delay / 2
		if half <= 0 {
			return delay
		}
		return half + time.Duration(rnd.Int63n(int64(half)+1))
	default:
		return delay
	}
}

// ShouldRetry reports whether attempt (1-indexed, the attempt that just
// failed) should be retried under the policy.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	if p.Strategy == StrategyNone {
		return false
	}
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempt < max
}

// Config configures the generic Retry helper for non-workflow callers (e.g.
// the service client's transient-failure local recovery).
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0..1
}

// DefaultConfig returns sensible retry defaults for service-client calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn with exponential backoff until it succeeds, the context
// is canceled, or attempts are exhausted.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.Jitter)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
