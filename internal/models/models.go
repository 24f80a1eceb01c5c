// Package models defines the records exchanged between the monitoring
// loops, the local journal, and the remote store.
package models

import "time"

// SessionStatus represents the lifecycle status of a tracking session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// Session represents a single tracking session. At most one session per
// user may have a zero EndTime at any time.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	ProjectID string        `json:"project_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Status    SessionStatus `json:"status"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s.EndTime == nil
}

// AppObservation is recorded once per detected foreground change, never
// once per poll.
type AppObservation struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title"`
	Timestamp   time.Time `json:"timestamp"`
}

// URLObservation is recorded while the foreground application is a
// recognized browser.
type URLObservation struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Browser   string    `json:"browser"`
	Timestamp time.Time `json:"timestamp"`
}

// ScreenshotContext captures the foreground state at the moment of capture.
type ScreenshotContext struct {
	AppName     string `json:"app_name"`
	WindowTitle string `json:"window_title"`
	URL         string `json:"url,omitempty"`
}

// ScreenshotActivity is the input tally for the reporting window that a
// screenshot closes. Counters reset when the window closes, so each
// record carries only its own window's activity.
type ScreenshotActivity struct {
	MouseClicks   int64 `json:"mouse_clicks"`
	Keystrokes    int64 `json:"keystrokes"`
	MouseMoves    int64 `json:"mouse_moves"`
	ActivityScore int   `json:"activity_score"`
}

// ScreenshotRecord is the metadata for a captured screenshot. The image
// payload itself is handed to the uploader; only the metadata is buffered.
type ScreenshotRecord struct {
	Filename   string             `json:"filename"`
	CapturedAt time.Time          `json:"captured_at"`
	Context    ScreenshotContext  `json:"context"`
	Activity   ScreenshotActivity `json:"activity"`
}

// IdlePeriod is a closed interval of user inactivity. It is created when
// the idle period ends, since the duration is only known at that point.
type IdlePeriod struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// QueueDepth reports the number of buffered observations per kind.
type QueueDepth struct {
	App        int `json:"app"`
	URL        int `json:"url"`
	Screenshot int `json:"screenshot"`
	Idle       int `json:"idle"`
}

// Total returns the combined depth across all buffers.
func (q QueueDepth) Total() int {
	return q.App + q.URL + q.Screenshot + q.Idle
}

// RiskLevel classifies input-activity patterns for fraud flagging.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// SuspiciousEvent is a single anti-cheat flag surfaced to the operator.
type SuspiciousEvent struct {
	Kind      string    `json:"kind"`
	Severity  RiskLevel `json:"severity"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}
