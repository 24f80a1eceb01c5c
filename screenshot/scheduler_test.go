package screenshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/queue"
)

var errNoDisplay = errors.New("no display")

type fakeCapture struct {
	mu    sync.Mutex
	image []byte
	err   error
	block chan struct{}
}

func (f *fakeCapture) Capture() ([]byte, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.image, f.err
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []models.ScreenshotRecord
	done     chan struct{}
}

func (f *fakeUploader) Upload(
	_ context.Context,
	_ []byte,
	meta models.ScreenshotRecord,
) error {
	f.mu.Lock()
	f.uploaded = append(f.uploaded, meta)
	f.mu.Unlock()

	if f.done != nil {
		f.done <- struct{}{}
	}

	return nil
}

func testOptions() Options {
	return Options{
		MinGap:         2 * time.Minute,
		MaxGap:         6 * time.Minute,
		MandatoryGap:   15 * time.Minute,
		CaptureTimeout: 5 * time.Second,
		MaxFailures:    3,
	}
}

func noContext() (string, string, string) {
	return "Code", "main.go", ""
}

func newTestScheduler(
	capture *fakeCapture,
	up *fakeUploader,
	opts Options,
) (*Scheduler, *queue.Queue, *time.Time) {
	q := queue.New(100, 50)
	s := New(capture, up, q, noContext, opts, 42, nil, nil)

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	return s, q, &now
}

func TestNextDelayStaysWithinRandomBounds(t *testing.T) {
	opts := testOptions()
	s, _, now := newTestScheduler(&fakeCapture{}, &fakeUploader{}, opts)

	s.lastCapture = *now

	for i := 0; i < 200; i++ {
		d := s.NextDelay()

		assert.GreaterOrEqual(t, d, opts.MinGap)
		assert.LessOrEqual(t, d, opts.MaxGap)
	}
}

func TestNextDelayClampedToMandatoryBudget(t *testing.T) {
	opts := testOptions()
	s, _, now := newTestScheduler(&fakeCapture{}, &fakeUploader{}, opts)

	// 14m30s since the last capture leaves only 30s of mandatory budget.
	s.lastCapture = now.Add(-(opts.MandatoryGap - 30*time.Second))

	for i := 0; i < 50; i++ {
		d := s.NextDelay()
		assert.LessOrEqual(t, d, 30*time.Second)
	}
}

func TestNextDelayNeverBelowOneSecond(t *testing.T) {
	opts := testOptions()
	s, _, now := newTestScheduler(&fakeCapture{}, &fakeUploader{}, opts)

	// Mandatory budget already exhausted.
	s.lastCapture = now.Add(-opts.MandatoryGap - time.Minute)

	assert.Equal(t, time.Second, s.NextDelay())
}

func TestAttemptBuffersRecordAndUploads(t *testing.T) {
	capture := &fakeCapture{image: []byte{0x89, 'P', 'N', 'G'}}
	up := &fakeUploader{done: make(chan struct{}, 1)}

	s, q, now := newTestScheduler(capture, up, testOptions())

	s.attempt(context.Background())

	assert.Equal(t, 1, q.Depth().Screenshot)
	assert.Equal(t, *now, s.lastCapture)
	assert.False(t, s.Suspended())

	select {
	case <-up.done:
	case <-time.After(time.Second):
		t.Fatal("upload never happened")
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	assert.Len(t, up.uploaded, 1)
	assert.Equal(t, "Code", up.uploaded[0].Context.AppName)
	assert.Equal(t, *now, up.uploaded[0].CapturedAt)
	assert.Contains(t, up.uploaded[0].Filename, "screenshot_")
}

func TestRepeatedFailuresSuspendScheduler(t *testing.T) {
	capture := &fakeCapture{err: errNoDisplay}
	up := &fakeUploader{}

	degraded := 0

	q := queue.New(100, 50)
	s := New(capture, up, q, noContext, testOptions(), 42, nil, func() {
		degraded++
	})
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	for i := 0; i < 3; i++ {
		assert.False(t, s.Suspended())
		s.attempt(context.Background())
	}

	assert.True(t, s.Suspended())
	assert.Equal(t, 1, degraded)
	assert.Equal(t, 0, q.Depth().Screenshot)

	// Further failures do not re-fire the degraded signal.
	s.attempt(context.Background())
	assert.Equal(t, 1, degraded)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	capture := &fakeCapture{err: errNoDisplay}
	up := &fakeUploader{}

	s, _, _ := newTestScheduler(capture, up, testOptions())

	s.attempt(context.Background())
	s.attempt(context.Background())

	capture.mu.Lock()
	capture.err = nil
	capture.image = []byte{1}
	capture.mu.Unlock()

	s.attempt(context.Background())
	assert.Equal(t, 0, s.failures)

	capture.mu.Lock()
	capture.err = errNoDisplay
	capture.mu.Unlock()

	s.attempt(context.Background())
	s.attempt(context.Background())
	assert.False(t, s.Suspended())
}

func TestSlowCaptureCountsAsFailure(t *testing.T) {
	capture := &fakeCapture{block: make(chan struct{})}
	defer close(capture.block)

	opts := testOptions()
	opts.CaptureTimeout = 10 * time.Millisecond

	s, q, _ := newTestScheduler(capture, &fakeUploader{}, opts)

	s.attempt(context.Background())

	assert.Equal(t, 1, s.failures)
	assert.Equal(t, 0, q.Depth().Screenshot)
}

func TestCaptureClosesActivityWindow(t *testing.T) {
	capture := &fakeCapture{image: []byte{1}}
	up := &fakeUploader{done: make(chan struct{}, 1)}

	windows := 0

	q := queue.New(100, 50)
	s := New(capture, up, q, noContext, testOptions(), 42,
		func() models.ScreenshotActivity {
			windows++

			return models.ScreenshotActivity{
				MouseClicks:   7,
				Keystrokes:    42,
				MouseMoves:    13,
				ActivityScore: 90,
			}
		}, nil)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	s.attempt(context.Background())
	assert.Equal(t, 1, windows)

	select {
	case <-up.done:
	case <-time.After(time.Second):
		t.Fatal("upload never happened")
	}

	up.mu.Lock()
	defer up.mu.Unlock()

	// The window tally travels with the record, buffered and uploaded.
	assert.Equal(t, int64(7), up.uploaded[0].Activity.MouseClicks)
	assert.Equal(t, int64(42), up.uploaded[0].Activity.Keystrokes)
	assert.Equal(t, int64(13), up.uploaded[0].Activity.MouseMoves)
	assert.Equal(t, 90, up.uploaded[0].Activity.ActivityScore)
}

// simulateSchedule replays the Run loop's draw-sleep-capture cycle on a
// driven clock and returns the capture instants.
func simulateSchedule(
	s *Scheduler,
	now *time.Time,
	runtime time.Duration,
) []time.Time {
	start := *now
	s.lastCapture = start

	var captures []time.Time

	for {
		d := s.NextDelay()

		*now = now.Add(d)
		if now.Sub(start) > runtime {
			return captures
		}

		s.attempt(context.Background())
		captures = append(captures, *now)
	}
}

func TestScheduleMeetsMandatoryRateOverLongWindow(t *testing.T) {
	opts := testOptions()
	capture := &fakeCapture{image: []byte{1}}

	s, _, now := newTestScheduler(capture, &fakeUploader{}, opts)

	const runtime = 100 * time.Minute

	captures := simulateSchedule(s, now, runtime)

	// The mandatory interval guarantees a floor on the capture rate.
	assert.GreaterOrEqual(
		t,
		len(captures),
		int(runtime/opts.MandatoryGap),
	)

	last := time.Unix(1700000000, 0)
	for _, at := range captures {
		gap := at.Sub(last)
		assert.LessOrEqual(t, gap, opts.MandatoryGap)
		assert.GreaterOrEqual(t, gap, opts.MinGap)

		last = at
	}
}

func TestScheduleClampsWideRandomDrawsToMandatoryGap(t *testing.T) {
	opts := testOptions()
	opts.MinGap = 10 * time.Minute
	opts.MaxGap = 40 * time.Minute

	capture := &fakeCapture{image: []byte{1}}

	s, _, now := newTestScheduler(capture, &fakeUploader{}, opts)

	captures := simulateSchedule(s, now, 100*time.Minute)

	assert.GreaterOrEqual(t, len(captures), 6)

	last := time.Unix(1700000000, 0)
	for _, at := range captures {
		assert.LessOrEqual(t, at.Sub(last), opts.MandatoryGap)

		last = at
	}
}
