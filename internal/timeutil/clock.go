// Package timeutil holds the clock the run ledger stamps rows with and the
// conversion between wall time and stored unix-nanosecond stamps.
package timeutil

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// System reads the wall clock.
var System Clock = ClockFunc(time.Now)

// Elapsed returns the time c has moved since start.
func Elapsed(c Clock, start time.Time) time.Duration {
	return c.Now().Sub(start)
}

// Stamp converts t to the integer stored in ledger columns.
func Stamp(t time.Time) int64 {
	return t.UnixNano()
}

// FromStamp converts a stored stamp back to UTC.
func FromStamp(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// ManualClock only moves when told to. It is safe for concurrent use.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's time, then moves it forward by the step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetStep makes every Now call advance the clock by d afterwards.
func (c *ManualClock) SetStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}
