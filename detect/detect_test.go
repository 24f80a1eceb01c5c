package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/probe"
	"github.com/vantage-agent/vantage/queue"
)

type fakeForeground struct {
	fg  probe.Foreground
	err error
}

func (f *fakeForeground) Probe() (probe.Foreground, error) {
	if f.err != nil {
		return probe.Foreground{}, f.err
	}

	return f.fg, nil
}

type fakePerms struct{}

func (fakePerms) HasCapability() bool { return true }

type fakeURLs struct {
	url string
	err error
}

func (f *fakeURLs) Probe(_ string) (string, error) {
	return f.url, f.err
}

// drain captures everything currently buffered in q.
type drain struct {
	apps []models.AppObservation
	urls []models.URLObservation
}

func (d *drain) InsertApps(
	_ context.Context,
	records []models.AppObservation,
) error {
	d.apps = append(d.apps, records...)
	return nil
}

func (d *drain) InsertURLs(
	_ context.Context,
	records []models.URLObservation,
) error {
	d.urls = append(d.urls, records...)
	return nil
}

func (d *drain) InsertScreenshots(
	_ context.Context,
	_ []models.ScreenshotRecord,
) error {
	return nil
}

func (d *drain) InsertIdlePeriods(
	_ context.Context,
	_ []models.IdlePeriod,
) error {
	return nil
}

func (d *drain) flush(t *testing.T, q *queue.Queue) {
	t.Helper()

	w := queue.NewWorker(d, q, time.Minute, 0)
	w.Flush(context.Background())
}

func isBrowser(appName string) bool {
	return appName == "Chrome" || appName == "Safari"
}

func newTestLoop(
	fg *fakeForeground,
	urls *fakeURLs,
) (*Loop, *queue.Queue) {
	q := queue.New(100, 50)
	gate := probe.NewGate(fg, fakePerms{}, 5, nil)

	l := New(gate, urls, q, isBrowser, 250*time.Millisecond, "u1", "s1")
	l.now = func() time.Time { return time.Unix(1700000000, 0) }

	return l, q
}

func TestTickEmitsOnlyOnForegroundChange(t *testing.T) {
	fg := &fakeForeground{
		fg: probe.Foreground{AppName: "Code", WindowTitle: "main.go"},
	}
	l, q := newTestLoop(fg, &fakeURLs{})

	// An unchanged foreground produces exactly one observation no matter
	// how many ticks pass.
	for i := 0; i < 5; i++ {
		l.Tick()
	}

	assert.Equal(t, 1, q.Depth().App)

	// A window change within the same app counts as a change.
	fg.fg.WindowTitle = "detect.go"
	l.Tick()
	l.Tick()

	// So does an app change.
	fg.fg = probe.Foreground{AppName: "Terminal", WindowTitle: "zsh"}
	l.Tick()

	d := &drain{}
	d.flush(t, q)

	assert.Len(t, d.apps, 3)
	assert.Equal(t, "Code", d.apps[0].AppName)
	assert.Equal(t, "main.go", d.apps[0].WindowTitle)
	assert.Equal(t, "detect.go", d.apps[1].WindowTitle)
	assert.Equal(t, "Terminal", d.apps[2].AppName)

	for _, obs := range d.apps {
		assert.Equal(t, "u1", obs.UserID)
		assert.Equal(t, "s1", obs.SessionID)
	}
}

func TestTickSkipsEmptyAndFailedProbes(t *testing.T) {
	fg := &fakeForeground{err: errors.New("probe failed")}
	l, q := newTestLoop(fg, &fakeURLs{})

	l.Tick()
	assert.Equal(t, 0, q.Depth().App)

	fg.err = nil
	fg.fg = probe.Foreground{}

	l.Tick()
	assert.Equal(t, 0, q.Depth().App)
}

func TestURLTracking(t *testing.T) {
	fg := &fakeForeground{
		fg: probe.Foreground{AppName: "Chrome", WindowTitle: "Tab"},
	}
	urls := &fakeURLs{url: "https://www.example.com/page"}
	l, q := newTestLoop(fg, urls)

	// Same URL across ticks records once.
	l.Tick()
	l.Tick()
	assert.Equal(t, 1, q.Depth().URL)

	// Navigation to a new URL records again.
	urls.url = "https://news.example.org/story"
	l.Tick()

	// Leaving the browser clears the last-known URL without recording.
	fg.fg = probe.Foreground{AppName: "Code", WindowTitle: "main.go"}
	l.Tick()
	assert.Equal(t, 2, q.Depth().URL)

	// Returning to the same page is a fresh visit.
	fg.fg = probe.Foreground{AppName: "Chrome", WindowTitle: "Tab"}
	l.Tick()

	d := &drain{}
	d.flush(t, q)

	assert.Len(t, d.urls, 3)
	assert.Equal(t, "example.com", d.urls[0].Domain)
	assert.Equal(t, "news.example.org", d.urls[1].Domain)
	assert.Equal(t, "https://news.example.org/story", d.urls[2].URL)
	assert.Equal(t, "Chrome", d.urls[0].Browser)
}

func TestURLProbeFailureKeepsLastKnown(t *testing.T) {
	fg := &fakeForeground{fg: probe.Foreground{AppName: "Safari"}}
	urls := &fakeURLs{url: "https://example.com"}
	l, q := newTestLoop(fg, urls)

	l.Tick()
	assert.Equal(t, 1, q.Depth().URL)

	// A failing URL probe neither records nor clears state.
	urls.err = errors.New("applescript denied")
	l.Tick()

	urls.err = nil
	l.Tick()
	assert.Equal(t, 1, q.Depth().URL)
}

func TestCurrentReflectsLastKnownState(t *testing.T) {
	fg := &fakeForeground{
		fg: probe.Foreground{AppName: "Chrome", WindowTitle: "Docs"},
	}
	urls := &fakeURLs{url: "https://docs.example.com"}
	l, _ := newTestLoop(fg, urls)

	l.Tick()

	app, win, activeURL := l.Current()
	assert.Equal(t, "Chrome", app)
	assert.Equal(t, "Docs", win)
	assert.Equal(t, "https://docs.example.com", activeURL)
}

func TestDomainOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/a/b", "example.com"},
		{"http://sub.example.org", "sub.example.org"},
		{"example.com/path", "example.com"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, domainOf(tc.in), tc.in)
	}
}
