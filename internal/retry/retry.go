// Package retry provides the bounded backoff and poll-until primitives the
// bridge uses for socket reconnects and the login-confirmation wait.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls exponential backoff.
type Config struct {
	BaseDelay time.Duration // initial backoff delay
	MaxDelay  time.Duration // maximum backoff delay
}

// DefaultConfig returns the reconnect defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// Backoff computes delay = min(base * 2^attempt, max) + jitter(±25%).
func Backoff(cfg Config, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}

	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}

// Poll calls predicate every interval until it returns true, maxWait elapses,
// or ctx is cancelled. Returns true only when the predicate succeeded.
// The predicate is tried once immediately before any sleep.
func Poll(ctx context.Context, maxWait, interval time.Duration, predicate func() bool) bool {
	if predicate() {
		return true
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
			if predicate() {
				return true
			}
		}
	}
}
