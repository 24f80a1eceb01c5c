// Package queue buffers observations locally until the batch sync worker
// drains them to the remote store.
package queue

import (
	"log/slog"
	"sync"

	"github.com/vantage-agent/vantage/internal/models"
)

// buffer is a bounded FIFO of one observation kind. Exceeding maxLen trims
// the buffer to the most recent trimTo entries; recency is prioritized over
// completeness when the consumer cannot keep up.
type buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	kind   string
	maxLen int
	trimTo int
}

func (b *buffer[T]) push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, v)
	b.trim()
}

// trim enforces the cap. Callers must hold b.mu.
func (b *buffer[T]) trim() {
	if len(b.items) <= b.maxLen {
		return
	}

	dropped := len(b.items) - b.trimTo
	b.items = append([]T(nil), b.items[dropped:]...)

	slog.Warn(
		"queue overflow: oldest entries dropped",
		slog.String("kind", b.kind),
		slog.Int("dropped", dropped),
	)
}

// take removes and returns the current contents. Items pushed after take
// returns belong to the next snapshot.
func (b *buffer[T]) take() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.items
	b.items = nil

	return snap
}

// requeue restores a failed snapshot at the front of the buffer, ahead of
// anything pushed while the upload was in flight.
func (b *buffer[T]) requeue(snap []T) {
	if len(snap) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(snap, b.items...)
	b.trim()
}

func (b *buffer[T]) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

// Queue holds the four observation buffers. Enqueueing is O(1) and never
// blocks on I/O.
type Queue struct {
	apps  buffer[models.AppObservation]
	urls  buffer[models.URLObservation]
	shots buffer[models.ScreenshotRecord]
	idles buffer[models.IdlePeriod]
}

// New returns a queue whose buffers are capped at maxLen entries and
// trimmed to the most recent trimTo entries on overflow.
func New(maxLen, trimTo int) *Queue {
	q := &Queue{
		apps:  buffer[models.AppObservation]{kind: "app"},
		urls:  buffer[models.URLObservation]{kind: "url"},
		shots: buffer[models.ScreenshotRecord]{kind: "screenshot"},
		idles: buffer[models.IdlePeriod]{kind: "idle"},
	}

	for _, limits := range []*struct{ maxLen, trimTo *int }{
		{&q.apps.maxLen, &q.apps.trimTo},
		{&q.urls.maxLen, &q.urls.trimTo},
		{&q.shots.maxLen, &q.shots.trimTo},
		{&q.idles.maxLen, &q.idles.trimTo},
	} {
		*limits.maxLen = maxLen
		*limits.trimTo = trimTo
	}

	return q
}

func (q *Queue) AddApp(o models.AppObservation) {
	q.apps.push(o)
}

func (q *Queue) AddURL(o models.URLObservation) {
	q.urls.push(o)
}

func (q *Queue) AddScreenshot(r models.ScreenshotRecord) {
	q.shots.push(r)
}

func (q *Queue) AddIdle(p models.IdlePeriod) {
	q.idles.push(p)
}

// Depth reports the current number of buffered entries per kind.
func (q *Queue) Depth() models.QueueDepth {
	return models.QueueDepth{
		App:        q.apps.depth(),
		URL:        q.urls.depth(),
		Screenshot: q.shots.depth(),
		Idle:       q.idles.depth(),
	}
}
