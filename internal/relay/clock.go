package relay

import (
	"context"
	"time"
)

// Clock abstracts the timers used for pacing and backoff.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// After implements Clock.After.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// wait blocks for d, until signal fires, or until ctx is done.
// It returns false only when ctx is done.
func wait(ctx context.Context, clock Clock, d time.Duration, signal <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	case <-signal:
		return true
	}
}
