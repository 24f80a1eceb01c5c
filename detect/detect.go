// Package detect polls the foreground probe at a fixed cadence and turns
// raw polls into change-only observations.
package detect

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vantage-agent/vantage/internal/models"
	"github.com/vantage-agent/vantage/probe"
	"github.com/vantage-agent/vantage/queue"
)

// Loop samples the foreground application and browser URL. It emits an
// observation only when the composite (app, window) key differs from the
// last-known value: raw polling never translates 1:1 into stored records.
type Loop struct {
	gate      *probe.Gate
	urls      probe.URLProbe
	q         *queue.Queue
	isBrowser func(appName string) bool
	interval  time.Duration
	userID    string
	sessionID string
	now       func() time.Time

	mu      sync.Mutex
	lastApp string
	lastWin string
	lastURL string
}

// New returns a detection loop for the given session. isBrowser decides
// whether the URL probe is consulted for a foreground application.
func New(
	gate *probe.Gate,
	urls probe.URLProbe,
	q *queue.Queue,
	isBrowser func(appName string) bool,
	interval time.Duration,
	userID, sessionID string,
) *Loop {
	return &Loop{
		gate:      gate,
		urls:      urls,
		q:         q,
		isBrowser: isBrowser,
		interval:  interval,
		userID:    userID,
		sessionID: sessionID,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick performs a single detection pass. Probe failures are contained
// here: the gate counts them and the loop simply waits for the next tick.
func (l *Loop) Tick() {
	fg, err := l.gate.Probe()
	if err != nil {
		if !errors.Is(err, probe.ErrDisabled) {
			slog.Debug("foreground probe failed", slog.Any("error", err))
		}

		return
	}

	if fg.AppName == "" {
		return
	}

	ts := l.now()

	l.mu.Lock()
	changed := fg.AppName != l.lastApp || fg.WindowTitle != l.lastWin
	l.mu.Unlock()

	if changed {
		// Enqueue before updating last-known state so a crash in
		// between loses at most the in-flight sample.
		l.q.AddApp(models.AppObservation{
			UserID:      l.userID,
			SessionID:   l.sessionID,
			AppName:     fg.AppName,
			WindowTitle: fg.WindowTitle,
			Timestamp:   ts,
		})

		l.mu.Lock()
		l.lastApp = fg.AppName
		l.lastWin = fg.WindowTitle
		l.mu.Unlock()
	}

	l.tickURL(fg, ts)
}

// tickURL tracks the active browser URL. Focus leaving the browser
// allow-list clears the last-known URL without storing a change.
func (l *Loop) tickURL(fg probe.Foreground, ts time.Time) {
	if !l.isBrowser(fg.AppName) {
		l.mu.Lock()
		l.lastURL = ""
		l.mu.Unlock()

		return
	}

	rawURL, err := l.urls.Probe(fg.AppName)
	if err != nil || rawURL == "" {
		return
	}

	l.mu.Lock()
	changed := rawURL != l.lastURL
	l.mu.Unlock()

	if !changed {
		return
	}

	l.q.AddURL(models.URLObservation{
		UserID:    l.userID,
		SessionID: l.sessionID,
		URL:       rawURL,
		Domain:    domainOf(rawURL),
		Browser:   fg.AppName,
		Timestamp: ts,
	})

	l.mu.Lock()
	l.lastURL = rawURL
	l.mu.Unlock()
}

// Current returns the last-known foreground state for use as screenshot
// context.
func (l *Loop) Current() (appName, windowTitle, activeURL string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastApp, l.lastWin, l.lastURL
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// bare domains pasted without a scheme
		host, _, found := strings.Cut(rawURL, "/")
		if !found && !strings.Contains(host, ".") {
			return ""
		}

		return strings.TrimPrefix(host, "www.")
	}

	return strings.TrimPrefix(u.Hostname(), "www.")
}
