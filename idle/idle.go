// Package idle watches the last-input timestamp and raises idle-start and
// idle-end events around the configured inactivity threshold.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/internal/timeutil"
	"github.com/vantage-agent/vantage/queue"
)

// Monitor polls the input intake's last-activity timestamp. When the user
// has produced no input for the threshold it emits idle-start exactly
// once; the next qualifying input event ends the period, enqueues an
// IdlePeriod, and emits idle-end. Resuming tracking after idle requires
// explicit confirmation upstream so idle time is never silently merged
// into active time.
type Monitor struct {
	lastInput   func() time.Time
	q           *queue.Queue
	threshold   time.Duration
	interval    time.Duration
	onIdleStart func(since time.Time)
	onIdleEnd   func(p models.IdlePeriod)
	onTick      func()
	now         func() time.Time

	mu        sync.Mutex
	idleSince time.Time
	baseline  time.Time
}

// New returns an idle monitor. onTick, when non-nil, runs once per check
// cycle and exists so periodic analysis can share this timer instead of
// owning another one. now may be nil, in which case wall-clock time is
// used.
func New(
	lastInput func() time.Time,
	q *queue.Queue,
	threshold, interval time.Duration,
	onIdleStart func(since time.Time),
	onIdleEnd func(p models.IdlePeriod),
	onTick func(),
	now func() time.Time,
) *Monitor {
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		lastInput:   lastInput,
		q:           q,
		threshold:   threshold,
		interval:    interval,
		onIdleStart: onIdleStart,
		onIdleEnd:   onIdleEnd,
		onTick:      onTick,
		now:         now,
	}

	return m
}

// Run checks for idleness on a fixed cadence until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	if m.baseline.IsZero() {
		m.baseline = m.now()
	}
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs a single idle check.
func (m *Monitor) Tick() {
	if m.onTick != nil {
		m.onTick()
	}

	now := m.now()

	last := m.lastInput()
	if last.IsZero() {
		// no input seen yet; measure from monitor start
		m.mu.Lock()
		last = m.baseline
		m.mu.Unlock()
	}

	m.mu.Lock()
	idle := !m.idleSince.IsZero()
	since := m.idleSince
	m.mu.Unlock()

	if !idle {
		if now.Sub(last) < m.threshold {
			return
		}

		// The idle period starts when the threshold elapsed, not when
		// it was noticed.
		start := last.Add(m.threshold)

		m.mu.Lock()
		m.idleSince = start
		m.mu.Unlock()

		slog.Info("idle started", slog.Time("since", start))

		if m.onIdleStart != nil {
			m.onIdleStart(start)
		}

		return
	}

	// Idle ends on the first input event recorded after idle began.
	if !last.After(since) {
		return
	}

	period := models.IdlePeriod{
		Start:           since,
		End:             last,
		DurationMinutes: timeutil.RoundMinutes(last.Sub(since)),
	}

	m.q.AddIdle(period)

	m.mu.Lock()
	m.idleSince = time.Time{}
	m.baseline = last
	m.mu.Unlock()

	slog.Info(
		"idle ended",
		slog.Time("start", period.Start),
		slog.Time("end", period.End),
		slog.Int("duration_minutes", period.DurationMinutes),
	)

	if m.onIdleEnd != nil {
		m.onIdleEnd(period)
	}
}

// Idle reports whether an idle period is currently open.
func (m *Monitor) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.idleSince.IsZero()
}
