// Package backoff computes retry delays for the poll scheduler:
// multiplicative growth from an initial wait, capped above, with a
// bounded attempt budget.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config holds backoff policy parameters.
type Config struct {
	InitialWait time.Duration // delay before the first retry
	MaxWait     time.Duration // upper bound on any delay
	Multiplier  float64       // growth factor per retry
	Jitter      float64       // jitter factor (0-1), 0 disables
	MaxAttempts int           // attempt ceiling (0 = unbounded)
}

// DefaultConfig matches the daemon's convergence characteristics:
// searches populate over seconds, so retries start fast and settle at a
// gentle steady state.
func DefaultConfig() Config {
	return Config{
		InitialWait: 200 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  1.5,
		Jitter:      0,
		MaxAttempts: 40,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(attempt-1))
	if wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		wait += wait * c.Jitter * (rand.Float64()*2 - 1)
		if wait > float64(c.MaxWait) {
			wait = float64(c.MaxWait)
		}
	}
	return time.Duration(wait)
}

// Exhausted reports whether the attempt budget is spent.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}
