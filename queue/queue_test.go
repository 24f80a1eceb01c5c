package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/vantage-agent/vantage/internal/models"
)

var errUploadFailed = errors.New("upload failed")

func appObs(n int) models.AppObservation {
	return models.AppObservation{
		AppName:   fmt.Sprintf("app-%d", n),
		Timestamp: time.Unix(int64(n), 0),
	}
}

func TestBufferTrimsOnOverflow(t *testing.T) {
	q := New(100, 50)

	for i := 0; i < 101; i++ {
		q.AddApp(appObs(i))
	}

	depth := q.Depth()
	assert.Equal(t, 50, depth.App)

	// The oldest entries were dropped; the newest survive in order.
	snap := q.apps.take()
	assert.Len(t, snap, 50)
	assert.Equal(t, "app-51", snap[0].AppName)
	assert.Equal(t, "app-100", snap[49].AppName)
}

func TestBufferBelowCapIsUntouched(t *testing.T) {
	q := New(100, 50)

	for i := 0; i < 100; i++ {
		q.AddApp(appObs(i))
	}

	assert.Equal(t, 100, q.Depth().App)
}

func TestTakeAndRequeueOrdering(t *testing.T) {
	q := New(100, 50)

	q.AddApp(appObs(1))
	q.AddApp(appObs(2))

	snap := q.apps.take()
	assert.Len(t, snap, 2)
	assert.Equal(t, 0, q.Depth().App)

	// Entries arriving while the snapshot is in flight...
	q.AddApp(appObs(3))

	// ...end up behind the requeued snapshot.
	q.apps.requeue(snap)

	got := q.apps.take()

	want := []models.AppObservation{appObs(1), appObs(2), appObs(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requeue ordering mismatch (-want +got):\n%s", diff)
	}
}

type fakeStore struct {
	apps     [][]models.AppObservation
	urls     [][]models.URLObservation
	failApps bool
	onApps   func()
}

func (f *fakeStore) InsertApps(
	_ context.Context,
	records []models.AppObservation,
) error {
	if f.onApps != nil {
		f.onApps()
	}

	if f.failApps {
		return errUploadFailed
	}

	f.apps = append(f.apps, records)

	return nil
}

func (f *fakeStore) InsertURLs(
	_ context.Context,
	records []models.URLObservation,
) error {
	f.urls = append(f.urls, records)
	return nil
}

func (f *fakeStore) InsertScreenshots(
	_ context.Context,
	_ []models.ScreenshotRecord,
) error {
	return nil
}

func (f *fakeStore) InsertIdlePeriods(
	_ context.Context,
	_ []models.IdlePeriod,
) error {
	return nil
}

func TestWorkerFlushRemovesUploadedEntries(t *testing.T) {
	q := New(100, 50)
	store := &fakeStore{}
	w := NewWorker(store, q, time.Minute, 0)

	q.AddApp(appObs(1))
	q.AddURL(models.URLObservation{URL: "https://example.com"})

	w.Flush(context.Background())

	assert.Equal(t, 0, q.Depth().Total())
	assert.Len(t, store.apps, 1)
	assert.Len(t, store.urls, 1)
}

func TestWorkerFlushFailureIsolatedPerKind(t *testing.T) {
	q := New(100, 50)
	store := &fakeStore{failApps: true}
	w := NewWorker(store, q, time.Minute, 0)

	q.AddApp(appObs(1))
	q.AddURL(models.URLObservation{URL: "https://example.com"})

	w.Flush(context.Background())

	// The failed kind keeps its entries; the others drain normally.
	depth := q.Depth()
	assert.Equal(t, 1, depth.App)
	assert.Equal(t, 0, depth.URL)

	store.failApps = false

	w.Flush(context.Background())
	assert.Equal(t, 0, q.Depth().App)
	assert.Equal(t, []models.AppObservation{appObs(1)}, store.apps[0])
}

func TestWorkerFlushFailureKeepsInFlightEntries(t *testing.T) {
	q := New(100, 50)

	store := &fakeStore{failApps: true}
	store.onApps = func() {
		// Simulates an observation arriving mid-upload.
		q.AddApp(appObs(9))
	}

	w := NewWorker(store, q, time.Minute, 0)

	q.AddApp(appObs(1))
	q.AddApp(appObs(2))

	w.Flush(context.Background())

	store.failApps = false
	store.onApps = nil

	w.Flush(context.Background())

	// Failed snapshot first, mid-flight arrival after it.
	want := []models.AppObservation{appObs(1), appObs(2), appObs(9)}
	if diff := cmp.Diff(want, store.apps[0]); diff != "" {
		t.Errorf("retry payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkerEmptyFlushSkipsUpload(t *testing.T) {
	q := New(100, 50)
	store := &fakeStore{}
	w := NewWorker(store, q, time.Minute, 0)

	w.Flush(context.Background())

	assert.Empty(t, store.apps)
	assert.Empty(t, store.urls)
}
