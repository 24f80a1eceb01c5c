// Package screenshot schedules pseudo-random screen captures with a hard
// mandatory-interval floor.
package screenshot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/queue"
)

// ScreenCapture grabs the screen. Implementations live outside this
// module and may fail when no capture source is available or permitted.
type ScreenCapture interface {
	Capture() ([]byte, error)
}

// Uploader ships the image payload to its external destination. The
// scheduler owns only scheduling, context capture, and metadata buffering.
type Uploader interface {
	Upload(ctx context.Context, image []byte, meta models.ScreenshotRecord) error
}

// Options configures a Scheduler.
type Options struct {
	// MinGap and MaxGap bound the randomized delay between captures.
	MinGap time.Duration
	MaxGap time.Duration
	// MandatoryGap is the hard ceiling on the gap between captures. The
	// random delay is clamped to the remaining mandatory budget so a
	// single loop serves both schedules.
	MandatoryGap time.Duration
	// CaptureTimeout bounds a single capture attempt; the attempt races
	// the timeout and the loser is treated as failure.
	CaptureTimeout time.Duration
	// MaxFailures is the number of consecutive capture failures after
	// which the scheduler suspends itself and signals degraded capability.
	MaxFailures int
}

// Scheduler emits captures at randomized intervals constrained to a
// target rate. Capture failure never propagates upstream; after
// MaxFailures consecutive failures the scheduler suspends and surfaces a
// degraded-capability signal without stopping tracking.
type Scheduler struct {
	capture    ScreenCapture
	uploader   Uploader
	q          *queue.Queue
	context    func() (appName, windowTitle, activeURL string)
	onCapture  func() models.ScreenshotActivity
	onDegraded func()
	opts       Options
	rng        *rand.Rand
	now        func() time.Time

	mu          sync.Mutex
	lastCapture time.Time
	failures    int
	suspended   bool
}

// New returns a screenshot scheduler. contextFn supplies the foreground
// state recorded alongside each capture. onCapture, when non-nil, closes
// the input reporting window and supplies the activity tally attached to
// the record; onDegraded may be nil.
func New(
	capture ScreenCapture,
	uploader Uploader,
	q *queue.Queue,
	contextFn func() (string, string, string),
	opts Options,
	seed int64,
	onCapture func() models.ScreenshotActivity,
	onDegraded func(),
) *Scheduler {
	return &Scheduler{
		capture:    capture,
		uploader:   uploader,
		q:          q,
		context:    contextFn,
		onCapture:  onCapture,
		onDegraded: onDegraded,
		opts:       opts,
		rng:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
	}
}

// Run schedules captures until ctx is cancelled or the scheduler
// suspends.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.lastCapture.IsZero() {
		s.lastCapture = s.now()
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.NextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.attempt(ctx)

			s.mu.Lock()
			suspended := s.suspended
			s.mu.Unlock()

			if suspended {
				return
			}

			timer.Reset(s.NextDelay())
		}
	}
}

// NextDelay draws the next randomized delay and clamps it to the
// remaining mandatory budget.
func (s *Scheduler) NextDelay() time.Duration {
	spread := s.opts.MaxGap - s.opts.MinGap

	delay := s.opts.MinGap
	if spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread) + 1))
	}

	s.mu.Lock()
	last := s.lastCapture
	s.mu.Unlock()

	remaining := s.opts.MandatoryGap - s.now().Sub(last)
	if remaining < delay {
		delay = remaining
	}

	if delay < time.Second {
		delay = time.Second
	}

	return delay
}

// attempt performs a single capture, racing it against the capture
// timeout.
func (s *Scheduler) attempt(ctx context.Context) {
	type result struct {
		image []byte
		err   error
	}

	ch := make(chan result, 1)

	go func() {
		img, err := s.capture.Capture()
		ch <- result{image: img, err: err}
	}()

	var res result

	select {
	case res = <-ch:
	case <-time.After(s.opts.CaptureTimeout):
		res.err = fmt.Errorf("capture timed out after %s", s.opts.CaptureTimeout)
	case <-ctx.Done():
		return
	}

	if res.err != nil {
		s.recordFailure(res.err)
		return
	}

	now := s.now()

	s.mu.Lock()
	s.failures = 0
	s.lastCapture = now
	s.mu.Unlock()

	var activity models.ScreenshotActivity
	if s.onCapture != nil {
		activity = s.onCapture()
	}

	app, win, activeURL := s.context()

	record := models.ScreenshotRecord{
		Filename:   fmt.Sprintf("screenshot_%d.png", now.UnixMilli()),
		CapturedAt: now,
		Context: models.ScreenshotContext{
			AppName:     app,
			WindowTitle: win,
			URL:         activeURL,
		},
		Activity: activity,
	}

	s.q.AddScreenshot(record)

	// The upload is fire-and-forget from the scheduling path; the
	// uploader bounds its own I/O.
	go func() {
		if err := s.uploader.Upload(ctx, res.image, record); err != nil {
			slog.Warn(
				"screenshot upload failed",
				slog.String("filename", record.Filename),
				slog.Any("error", err),
			)
		}
	}()
}

func (s *Scheduler) recordFailure(err error) {
	s.mu.Lock()
	s.failures++
	failures := s.failures

	degraded := failures >= s.opts.MaxFailures && !s.suspended
	if degraded {
		s.suspended = true
	}
	s.mu.Unlock()

	slog.Warn(
		"screenshot capture failed",
		slog.Int("consecutive_failures", failures),
		slog.Any("error", err),
	)

	if degraded {
		slog.Warn("screenshot capture suspended; tracking continues")

		if s.onDegraded != nil {
			s.onDegraded()
		}
	}
}

// Suspended reports whether captures are suspended after repeated
// failures.
func (s *Scheduler) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.suspended
}
