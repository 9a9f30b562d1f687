// Package coalesce collapses bursts of calls into fewer executions.
// A Debouncer keeps only the trailing call of a burst; a Throttle drops
// calls that arrive during a cooldown window.
package coalesce

import (
	"sync"
	"time"
)

// Debouncer delays a single pending action. Each Call replaces any pending
// action and restarts the delay; only the last call in a window executes.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a debouncer with the given trailing delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Call schedules fn to run after the delay, cancelling any previously
// scheduled function. fn runs on its own goroutine.
func (d *Debouncer) Call(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A Call or Cancel that won the lock first bumps the
		// generation; this fire is then stale and must not run.
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel clears any pending action without side effects. A cancel observed
// before the fire deterministically prevents it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether an action is scheduled but not yet run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
