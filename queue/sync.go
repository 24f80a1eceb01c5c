package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantage-agent/vantage/internal/models"
)

// RemoteStore receives bulk observation uploads. Its consumers must
// tolerate duplicate records: a failed upload is retried with the same
// snapshot on the next cycle (at-least-once delivery).
type RemoteStore interface {
	InsertApps(ctx context.Context, records []models.AppObservation) error
	InsertURLs(ctx context.Context, records []models.URLObservation) error
	InsertScreenshots(ctx context.Context, records []models.ScreenshotRecord) error
	InsertIdlePeriods(ctx context.Context, records []models.IdlePeriod) error
}

// Worker drains the queue buffers to the remote store on a fixed interval.
// Each buffer is flushed independently: a failure in one kind leaves that
// buffer intact without affecting the others. There is no per-item retry
// backoff; failures wait for the next cycle.
type Worker struct {
	store     RemoteStore
	q         *Queue
	interval  time.Duration
	warnDepth int
	warned    bool
}

// NewWorker returns a sync worker for q. warnDepth sets the buffer depth
// past which sustained upload failure is surfaced to the operator; zero
// disables the warning.
func NewWorker(
	store RemoteStore,
	q *Queue,
	interval time.Duration,
	warnDepth int,
) *Worker {
	return &Worker{
		store:     store,
		q:         q,
		interval:  interval,
		warnDepth: warnDepth,
	}
}

// Run flushes on a fixed cadence until ctx is cancelled, then performs one
// final best-effort flush bounded by the request timeouts of the store.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush attempts a single bulk upload per buffer. On success exactly the
// snapshotted items are removed; items enqueued during the attempt remain
// for the next cycle. On failure the snapshot is restored untouched.
func (w *Worker) Flush(ctx context.Context) {
	flushKind(ctx, &w.q.apps, w.store.InsertApps)
	flushKind(ctx, &w.q.urls, w.store.InsertURLs)
	flushKind(ctx, &w.q.shots, w.store.InsertScreenshots)
	flushKind(ctx, &w.q.idles, w.store.InsertIdlePeriods)

	w.checkDepth()
}

func flushKind[T any](
	ctx context.Context,
	b *buffer[T],
	insert func(context.Context, []T) error,
) {
	snap := b.take()
	if len(snap) == 0 {
		return
	}

	if err := insert(ctx, snap); err != nil {
		b.requeue(snap)

		slog.Warn(
			"batch upload failed, buffer retained",
			slog.String("kind", b.kind),
			slog.Int("records", len(snap)),
			slog.Any("error", err),
		)

		return
	}

	slog.Info(
		"batch uploaded",
		slog.String("kind", b.kind),
		slog.Int("records", len(snap)),
	)
}

// checkDepth surfaces sustained delivery failure once any buffer crosses
// the warning threshold. The warning latches until depth recovers so the
// log is not flooded every cycle.
func (w *Worker) checkDepth() {
	if w.warnDepth <= 0 {
		return
	}

	depth := w.q.Depth()
	over := depth.App >= w.warnDepth || depth.URL >= w.warnDepth ||
		depth.Screenshot >= w.warnDepth || depth.Idle >= w.warnDepth

	switch {
	case over && !w.warned:
		w.warned = true

		slog.Warn(
			"observation backlog exceeds warning threshold",
			slog.Int("app", depth.App),
			slog.Int("url", depth.URL),
			slog.Int("screenshot", depth.Screenshot),
			slog.Int("idle", depth.Idle),
		)
	case !over:
		w.warned = false
	}
}
