// Package probe defines the OS foreground-window collaborators and the
// failure gate that protects the agent from a denied or broken probe.
package probe

import (
	"time"

	"github.com/vantage-agent/vantage/internal/apperr"
)

// Foreground describes the currently focused application and window.
type Foreground struct {
	AppName     string
	WindowTitle string
	BundleID    string
}

// ForegroundProbe queries the operating system for the focused window.
// Implementations live outside this module and may fail or be denied.
type ForegroundProbe interface {
	Probe() (Foreground, error)
}

// URLProbe extracts the active tab URL from a running browser. It returns
// an empty string when no URL can be determined.
type URLProbe interface {
	Probe(appName string) (string, error)
}

// PermissionChecker reports whether the OS capability required by the
// foreground probe is currently granted. It is polled, never pushed.
type PermissionChecker interface {
	HasCapability() bool
}

// IdleProbe reports how long the OS has gone without any input event on
// any device. It is the fallback activity source when no input hook is
// available.
type IdleProbe interface {
	IdleTime() (time.Duration, error)
}

var (
	// ErrDenied indicates the OS permission for the probe is not granted.
	ErrDenied = &apperr.Error{
		Message: "foreground probe denied: required OS capability not granted",
	}

	// ErrDisabled indicates the gate has disabled the probe after repeated
	// failures.
	ErrDisabled = &apperr.Error{
		Message: "foreground probe disabled after repeated failures",
	}
)
