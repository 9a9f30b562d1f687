package coalesce

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle rate-limits executions to at most one per interval. Calls that
// arrive during the cooldown are dropped, not queued.
type Throttle struct {
	interval time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewThrottle creates a throttle with the given minimum interval between
// executions. The first call always executes.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Call runs fn synchronously if the interval has elapsed since the last
// execution, and reports whether it ran.
func (t *Throttle) Call(fn func()) bool {
	t.mu.Lock()
	allowed := t.limiter.Allow()
	t.mu.Unlock()

	if !allowed {
		return false
	}
	fn()
	return true
}

// Reset clears the cooldown so the next call executes immediately.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter = rate.NewLimiter(rate.Every(t.interval), 1)
}
