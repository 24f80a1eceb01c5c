package anticheat

import (
	"fmt"
	"sync"
	"time"

	"github.com/vantage-agent/vantage/internal/models"
)

// Thresholds configures the suspicious-pattern heuristics.
type Thresholds struct {
	// Window is the rolling detection window.
	Window time.Duration
	// MinMouseDistance is the minimum cumulative pointer travel (pixels)
	// expected alongside sustained clicking.
	MinMouseDistance float64
	// KeyDiversity is the minimum number of distinct keys expected in a
	// sustained typing burst.
	KeyDiversity int
	// MaxAlerts bounds the retained alert log (most recent N).
	MaxAlerts int
}

// sample counts needed before a heuristic is allowed to fire; thin data
// produces meaningless variance.
const (
	minClicksForPattern = 10
	minKeysForPattern   = 20
	captureBurstWindow  = 5 * time.Second
	captureBurstEvents  = 10
)

type inputEvent struct {
	at       time.Time
	key      string
	distance float64
	kind     byte // 'c' click, 'k' key, 'm' move
}

// Score summarises the current activity level and risk classification.
type Score struct {
	Value int              `json:"score"`
	Risk  models.RiskLevel `json:"risk_level"`
}

// Scorer is the input-event intake and analysis point. Click/Key/Move are
// called from the input path; Analyze and ScoreNow are called from timer
// paths.
type Scorer struct {
	Counters *Counters

	thresholds Thresholds
	now        func() time.Time

	mu          sync.Mutex
	events      []inputEvent
	lastCapture time.Time
	alerts      []models.SuspiciousEvent
	level       models.RiskLevel
	onAlert     func(models.SuspiciousEvent)
}

// NewScorer returns a scorer with the given heuristics. onAlert, when
// non-nil, is invoked for each newly raised alert.
func NewScorer(t Thresholds, onAlert func(models.SuspiciousEvent)) *Scorer {
	return &Scorer{
		Counters:   &Counters{},
		thresholds: t,
		now:        time.Now,
		level:      models.RiskLow,
		onAlert:    onAlert,
	}
}

// Click records a mouse click from the input intake path.
func (s *Scorer) Click() {
	t := s.now()
	s.Counters.click(t)
	s.record(inputEvent{kind: 'c', at: t})
}

// Key records a keystroke. code identifies the key for diversity analysis.
func (s *Scorer) Key(code string) {
	t := s.now()
	s.Counters.key(t)
	s.record(inputEvent{kind: 'k', at: t, key: code})
}

// Move records pointer travel in pixels.
func (s *Scorer) Move(distance float64) {
	t := s.now()
	s.Counters.move(distance, t)
	s.record(inputEvent{kind: 'm', at: t, distance: distance})
}

// MarkCapture notes a screenshot instant for the evasion heuristic.
func (s *Scorer) MarkCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCapture = s.now()
}

// ObserveActivity folds an OS-level idle reading into the last-activity
// clock. It carries no device attribution, so only idle detection and
// score decay move; the pattern heuristics still need attributed events
// from the intake path.
func (s *Scorer) ObserveActivity(at time.Time) {
	s.Counters.observe(at)
}

// CaptureWindow closes the reporting window around a screenshot: it
// snapshots the accumulated input totals and current score, marks the
// capture instant for the evasion heuristic, and resets the counters for
// the next window.
func (s *Scorer) CaptureWindow() models.ScreenshotActivity {
	s.MarkCapture()

	clicks, keys, moves, _ := s.Counters.Totals()
	score := s.scoreValue()

	s.Counters.Reset()

	return models.ScreenshotActivity{
		MouseClicks:   clicks,
		Keystrokes:    keys,
		MouseMoves:    moves,
		ActivityScore: score,
	}
}

func (s *Scorer) record(ev inputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
}

// ScoreNow derives the 0-100 activity score. Recent input pins the score
// at 100; absence of input decays it stepwise toward zero.
func (s *Scorer) ScoreNow() Score {
	s.mu.Lock()
	level := s.level
	s.mu.Unlock()

	return Score{
		Value: s.scoreValue(),
		Risk:  level,
	}
}

func (s *Scorer) scoreValue() int {
	last := s.Counters.LastActivity()
	if last.IsZero() {
		return 0
	}

	idle := s.now().Sub(last)
	if idle < 10*time.Second {
		return 100
	}

	idleMinutes := idle.Minutes()

	// Stepped decay toward zero while no input arrives.
	steps := []struct {
		minutes float64
		score   int
	}{
		{30, 0}, {20, 10}, {15, 20}, {10, 30}, {7, 40},
		{5, 50}, {4, 60}, {3, 70}, {2, 80}, {1, 90},
	}

	for _, step := range steps {
		if idleMinutes > step.minutes {
			return step.score
		}
	}

	return 100
}

// Analyze evaluates the heuristics over the rolling window, updates the
// risk classification, and appends any new alerts to the bounded log.
// Alert delivery happens after the scorer's lock is released, so an
// onAlert handler may call back into the scorer and the input intake
// path is never blocked behind it.
func (s *Scorer) Analyze() {
	now := s.now()

	var fired []models.SuspiciousEvent

	s.mu.Lock()

	s.sweep(now)

	var (
		clicks, keys   int
		clickTimes     []time.Time
		distance       float64
		distinctKeys   = make(map[string]struct{})
		nearCapture    int
		captureInRange = !s.lastCapture.IsZero() &&
			now.Sub(s.lastCapture) < s.thresholds.Window
	)

	for _, ev := range s.events {
		switch ev.kind {
		case 'c':
			clicks++
			clickTimes = append(clickTimes, ev.at)
		case 'k':
			keys++
			distinctKeys[ev.key] = struct{}{}
		case 'm':
			distance += ev.distance
		}

		if captureInRange {
			d := ev.at.Sub(s.lastCapture)
			if d < 0 {
				d = -d
			}

			if d <= captureBurstWindow {
				nearCapture++
			}
		}
	}

	level := models.RiskLow

	if clicks >= minClicksForPattern && distance < s.thresholds.MinMouseDistance {
		level = models.RiskHigh
		fired = append(fired, s.raise(now, "scripted_clicking", models.RiskHigh,
			fmt.Sprintf(
				"%d clicks with only %.0fpx of pointer travel in window",
				clicks, distance,
			)))
	}

	if keys >= minKeysForPattern && len(distinctKeys) < s.thresholds.KeyDiversity {
		level = models.RiskHigh
		fired = append(fired, s.raise(now, "key_injection", models.RiskHigh,
			fmt.Sprintf(
				"%d keystrokes across %d distinct keys in window",
				keys, len(distinctKeys),
			)))
	}

	if v, ok := clickIntervalVariance(clickTimes); ok && v < 0.01 {
		if level != models.RiskHigh {
			level = models.RiskMedium
		}

		fired = append(fired, s.raise(now, "uniform_clicking", models.RiskMedium,
			fmt.Sprintf(
				"click interval variance %.4fs² across %d clicks",
				v, len(clickTimes),
			)))
	}

	if nearCapture > captureBurstEvents {
		if level != models.RiskHigh {
			level = models.RiskMedium
		}

		fired = append(fired, s.raise(now, "capture_burst", models.RiskMedium,
			fmt.Sprintf(
				"%d input events within %s of a screenshot capture",
				nearCapture, captureBurstWindow,
			)))
	}

	s.level = level

	s.mu.Unlock()

	if s.onAlert != nil {
		for _, ev := range fired {
			s.onAlert(ev)
		}
	}
}

// sweep drops samples and alerts older than the rolling window. Callers
// must hold s.mu.
func (s *Scorer) sweep(now time.Time) {
	cutoff := now.Add(-s.thresholds.Window)

	kept := s.events[:0]

	for _, ev := range s.events {
		if ev.at.After(cutoff) {
			kept = append(kept, ev)
		}
	}

	s.events = kept
}

// raise appends an alert to the bounded log and returns it for delivery.
// Callers must hold s.mu and deliver the event only after unlocking.
func (s *Scorer) raise(
	at time.Time,
	kind string,
	severity models.RiskLevel,
	detail string,
) models.SuspiciousEvent {
	ev := models.SuspiciousEvent{
		Kind:      kind,
		Severity:  severity,
		Detail:    detail,
		Timestamp: at,
	}

	s.alerts = append(s.alerts, ev)
	if len(s.alerts) > s.thresholds.MaxAlerts {
		s.alerts = append(
			[]models.SuspiciousEvent(nil),
			s.alerts[len(s.alerts)-s.thresholds.MaxAlerts:]...,
		)
	}

	return ev
}

// Alerts returns a copy of the retained alert log, oldest first.
func (s *Scorer) Alerts() []models.SuspiciousEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SuspiciousEvent, len(s.alerts))
	copy(out, s.alerts)

	return out
}

// clickIntervalVariance returns the variance of click intervals in
// seconds² and whether enough clicks exist to make it meaningful.
func clickIntervalVariance(times []time.Time) (float64, bool) {
	if len(times) < minClicksForPattern {
		return 0, false
	}

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	var mean float64
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))

	var variance float64
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}

	return variance / float64(len(intervals)), true
}
