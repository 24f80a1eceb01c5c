// Package anticheat aggregates raw input activity into a 0-100 score and
// flags input patterns consistent with automated activity. It is a flagging
// system, not an enforcement gate: alerts are surfaced to the operator and
// never stop tracking on their own.
package anticheat

import (
	"sync/atomic"
	"time"
)

// Counters is the process-wide input tally. It is mutated only from the
// input-event intake path; timer-path readers tolerate torn-but-monotonic
// values, so plain atomics suffice and no lock is held on intake.
type Counters struct {
	mouseClicks   atomic.Int64
	keystrokes    atomic.Int64
	mouseMoves    atomic.Int64
	mouseDistance atomic.Int64 // whole pixels
	lastActivity  atomic.Int64 // unix nanoseconds
}

func (c *Counters) click(t time.Time) {
	c.mouseClicks.Add(1)
	c.touch(t)
}

func (c *Counters) key(t time.Time) {
	c.keystrokes.Add(1)
	c.touch(t)
}

func (c *Counters) move(distance float64, t time.Time) {
	c.mouseMoves.Add(1)
	c.mouseDistance.Add(int64(distance))
	c.touch(t)
}

func (c *Counters) touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// observe advances the last-activity clock without attributing the input
// to a device. The clock only moves forward: a stale OS idle reading must
// not regress activity already recorded through the intake path.
func (c *Counters) observe(t time.Time) {
	n := t.UnixNano()

	for {
		cur := c.lastActivity.Load()
		if cur >= n {
			return
		}

		if c.lastActivity.CompareAndSwap(cur, n) {
			return
		}
	}
}

// LastActivity returns the timestamp of the most recent input event, or
// the zero time if none has been recorded.
func (c *Counters) LastActivity() time.Time {
	n := c.lastActivity.Load()
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}

// Totals reports the accumulated counts since the last reset.
func (c *Counters) Totals() (clicks, keys, moves int64, distance float64) {
	return c.mouseClicks.Load(),
		c.keystrokes.Load(),
		c.mouseMoves.Load(),
		float64(c.mouseDistance.Load())
}

// Reset zeroes the counters at the start of a reporting window. The
// last-activity timestamp is preserved: it feeds idle detection, which
// spans windows.
func (c *Counters) Reset() {
	c.mouseClicks.Store(0)
	c.keystrokes.Store(0)
	c.mouseMoves.Store(0)
	c.mouseDistance.Store(0)
}
