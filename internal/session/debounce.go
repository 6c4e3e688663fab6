package session

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DebounceThrottle bounds how often a callback executes while guaranteeing
// the final call in a burst is never dropped. If at least throttleDelay has
// passed since the last execution, the callback runs immediately; otherwise
// it is (re)scheduled to run debounceDelay after the most recent call. At
// most one execution happens per throttleDelay window under sustained calls,
// and only one pending timer exists at a time.
type DebounceThrottle struct {
	clock         quartz.Clock
	debounceDelay time.Duration
	throttleDelay time.Duration

	mu          sync.Mutex
	lastExecute time.Time
	pending     *quartz.Timer
	pendingFn   func()
}

// NewDebounceThrottle creates a rate limiter with the given delays.
func NewDebounceThrottle(clock quartz.Clock, debounceDelay, throttleDelay time.Duration) *DebounceThrottle {
	return &DebounceThrottle{
		clock:         clock,
		debounceDelay: debounceDelay,
		throttleDelay: throttleDelay,
	}
}

// Debounce runs fn now if the throttle window has elapsed, or schedules it
// to run debounceDelay from now, replacing any previously pending callback.
func (d *DebounceThrottle) Debounce(fn func()) {
	d.mu.Lock()

	now := d.clock.Now()
	if d.lastExecute.IsZero() || now.Sub(d.lastExecute) >= d.throttleDelay {
		d.cancelPendingLocked()
		d.lastExecute = now
		d.mu.Unlock()
		fn()
		return
	}

	d.cancelPendingLocked()
	d.pendingFn = fn
	d.pending = d.clock.AfterFunc(d.debounceDelay, d.firePending)
	d.mu.Unlock()
}

// Flush executes any pending callback immediately and clears the timer.
func (d *DebounceThrottle) Flush() {
	d.mu.Lock()
	fn := d.pendingFn
	d.cancelPendingLocked()
	if fn != nil {
		d.lastExecute = d.clock.Now()
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stop cancels any pending callback without executing it.
func (d *DebounceThrottle) Stop() {
	d.mu.Lock()
	d.cancelPendingLocked()
	d.mu.Unlock()
}

// Pending reports whether a callback is currently scheduled.
func (d *DebounceThrottle) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingFn != nil
}

func (d *DebounceThrottle) firePending() {
	d.mu.Lock()
	fn := d.pendingFn
	d.pendingFn = nil
	d.pending = nil
	if fn != nil {
		d.lastExecute = d.clock.Now()
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (d *DebounceThrottle) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.pendingFn = nil
}
