package idle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/queue"
)

type harness struct {
	mon       *Monitor
	q         *queue.Queue
	now       time.Time
	lastInput time.Time
	starts    []time.Time
	ends      []models.IdlePeriod
	ticks     int
}

func newHarness(t *testing.T, threshold time.Duration) *harness {
	t.Helper()

	h := &harness{
		q:   queue.New(100, 50),
		now: time.Unix(1700000000, 0),
	}

	h.mon = New(
		func() time.Time { return h.lastInput },
		h.q,
		threshold,
		5*time.Second,
		func(since time.Time) { h.starts = append(h.starts, since) },
		func(p models.IdlePeriod) { h.ends = append(h.ends, p) },
		func() { h.ticks++ },
		func() time.Time { return h.now },
	)

	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func TestIdleStartsAtThresholdNotDetection(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.lastInput = h.now

	// Just under the threshold: still active.
	h.advance(299 * time.Second)
	h.mon.Tick()
	assert.False(t, h.mon.Idle())
	assert.Empty(t, h.starts)

	// The check cycle notices the crossing a little late; the period
	// still starts exactly one threshold after the last input.
	h.advance(3 * time.Second)
	h.mon.Tick()

	assert.True(t, h.mon.Idle())
	assert.Len(t, h.starts, 1)
	assert.Equal(t, h.lastInput.Add(300*time.Second), h.starts[0])
}

func TestIdleStartFiresOnce(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.lastInput = h.now

	h.advance(301 * time.Second)
	h.mon.Tick()
	h.advance(5 * time.Second)
	h.mon.Tick()
	h.advance(5 * time.Second)
	h.mon.Tick()

	assert.Len(t, h.starts, 1)
}

func TestIdleEndRecordsPeriod(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	start := h.now
	h.lastInput = start

	h.advance(305 * time.Second)
	h.mon.Tick()

	// Input returns 175s into the idle period.
	h.lastInput = start.Add(475 * time.Second)
	h.advance(172 * time.Second)
	h.mon.Tick()

	assert.False(t, h.mon.Idle())
	assert.Len(t, h.ends, 1)

	p := h.ends[0]
	assert.Equal(t, start.Add(300*time.Second), p.Start)
	assert.Equal(t, start.Add(475*time.Second), p.End)
	assert.Equal(t, 3, p.DurationMinutes)

	assert.Equal(t, 1, h.q.Depth().Idle)
}

func TestShortIdlePeriodRoundsToZeroMinutes(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	start := h.now
	h.lastInput = start

	h.advance(301 * time.Second)
	h.mon.Tick()

	h.lastInput = start.Add(320 * time.Second)
	h.advance(21 * time.Second)
	h.mon.Tick()

	assert.Len(t, h.ends, 1)
	assert.Equal(t, 0, h.ends[0].DurationMinutes)
}

func TestStaleInputDoesNotEndIdle(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.lastInput = h.now

	h.advance(301 * time.Second)
	h.mon.Tick()

	// No new input since the period began: still idle.
	h.advance(60 * time.Second)
	h.mon.Tick()

	assert.True(t, h.mon.Idle())
	assert.Empty(t, h.ends)
}

func TestNoInputYetMeasuresFromBaseline(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.mon.baseline = h.now

	h.advance(299 * time.Second)
	h.mon.Tick()
	assert.False(t, h.mon.Idle())

	h.advance(5 * time.Second)
	h.mon.Tick()
	assert.True(t, h.mon.Idle())
}

func TestIdleCycleRepeatsAfterInputReturns(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.lastInput = h.now

	h.advance(305 * time.Second)
	h.mon.Tick()
	assert.Len(t, h.starts, 1)

	h.lastInput = h.now
	h.advance(5 * time.Second)
	h.mon.Tick()
	assert.Len(t, h.ends, 1)

	// A fresh stretch of inactivity opens a second period.
	h.advance(305 * time.Second)
	h.mon.Tick()

	assert.Len(t, h.starts, 2)
	assert.True(t, h.mon.Idle())
}

func TestOnTickRunsEveryCycle(t *testing.T) {
	h := newHarness(t, 300*time.Second)

	h.lastInput = h.now

	h.mon.Tick()
	h.mon.Tick()
	h.mon.Tick()

	assert.Equal(t, 3, h.ticks)
}
