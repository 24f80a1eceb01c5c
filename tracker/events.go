package tracker

import (
	"time"

	"github.com/vantage-agent/vantage/internal/models"
)

// State represents the tracking state machine.
type State string

const (
	StateStopped   State = "stopped"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateSuspended State = "suspended"
)

// PauseReason records why tracking was paused.
type PauseReason string

const (
	PauseManual     PauseReason = "manual"
	PauseIdle       PauseReason = "idle"
	PausePermission PauseReason = "permission"
)

// requiresConfirmation reports whether resuming from this pause reason
// needs an explicit operator confirmation. Idle time must never be merged
// into active time silently.
func (r PauseReason) requiresConfirmation() bool {
	return r == PauseIdle
}

// EventType identifies a tracker notification.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventIdleStart   EventType = "idle_start"
	EventIdleEnd     EventType = "idle_end"
	EventDegraded    EventType = "degraded"
	EventAlert       EventType = "alert"
)

// Event is a tracker update delivered to subscribers.
type Event struct {
	Type   EventType               `json:"type"`
	State  State                   `json:"state"`
	Reason PauseReason             `json:"reason,omitempty"`
	Idle   *models.IdlePeriod      `json:"idle,omitempty"`
	Alert  *models.SuspiciousEvent `json:"alert,omitempty"`
	Detail string                  `json:"detail,omitempty"`
	At     time.Time               `json:"at"`
}
