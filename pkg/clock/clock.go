// Package clock provides the time source and the single cancellable-timeout
// primitive used by the settle delay, the gate throttle and safety timer, and
// TTL checks.
package clock

import (
	"sync"
	"time"
)

// Clock provides time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if it already fired or was stopped.
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Expired reports whether a value captured at capturedAt is older than ttl.
func Expired(c Clock, capturedAt time.Time, ttl time.Duration) bool {
	return c.Now().Sub(capturedAt) >= ttl
}

// Timeout is a re-armable single-shot timer. Re-arming replaces the pending
// callback, so bursts of Reset collapse into one firing.
type Timeout struct {
	clock Clock

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// NewTimeout creates an idle timeout on the given clock.
func NewTimeout(c Clock) *Timeout {
	if c == nil {
		c = Real{}
	}
	return &Timeout{clock: c}
}

// Reset cancels any pending callback and schedules fn after d.
func (t *Timeout) Reset(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen {
			// superseded between firing and acquiring the lock
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending callback, if any.
func (t *Timeout) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Active reports whether a callback is pending.
func (t *Timeout) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
