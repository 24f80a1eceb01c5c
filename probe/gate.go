package probe

import (
	"log/slog"
	"sync"
)

// Gate wraps a ForegroundProbe and disables it after a run of consecutive
// failures, preventing runaway failing probe invocations. A periodic
// permission re-check re-enables the probe once the OS capability is
// confirmed granted again.
type Gate struct {
	probe       ForegroundProbe
	permissions PermissionChecker
	onDisable   func()
	mu          sync.Mutex
	failures    int
	maxFailures int
	disabled    bool
}

// NewGate returns a gate that disables the probe after maxFailures
// consecutive errors. onDisable, when non-nil, is invoked once each time
// the gate trips, after the gate's own lock has been released.
func NewGate(
	p ForegroundProbe,
	perms PermissionChecker,
	maxFailures int,
	onDisable func(),
) *Gate {
	return &Gate{
		probe:       p,
		permissions: perms,
		maxFailures: maxFailures,
		onDisable:   onDisable,
	}
}

// Probe invokes the underlying probe unless the gate is disabled, in which
// case it fails fast with ErrDisabled. A success resets the failure count;
// a failure counts toward the disable threshold.
func (g *Gate) Probe() (Foreground, error) {
	g.mu.Lock()
	if g.disabled {
		g.mu.Unlock()
		return Foreground{}, ErrDisabled
	}
	g.mu.Unlock()

	fg, err := g.probe.Probe()

	g.mu.Lock()

	if err != nil {
		g.failures++

		tripped := false
		if g.failures >= g.maxFailures && !g.disabled {
			g.disabled = true
			tripped = true

			slog.Warn(
				"foreground probe disabled",
				slog.Int("consecutive_failures", g.failures),
			)
		}

		g.mu.Unlock()

		if tripped && g.onDisable != nil {
			g.onDisable()
		}

		return Foreground{}, err
	}

	g.failures = 0
	g.mu.Unlock()

	return fg, nil
}

// Recheck polls the permission checker and re-enables a disabled probe
// when the required capability is granted. It reports whether the gate is
// enabled afterwards.
func (g *Gate) Recheck() bool {
	g.mu.Lock()
	disabled := g.disabled
	g.mu.Unlock()

	if !disabled {
		return true
	}

	if !g.permissions.HasCapability() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.disabled = false
	g.failures = 0

	slog.Info("foreground probe re-enabled after permission re-check")

	return true
}

// Disabled reports whether the gate is currently refusing probes.
func (g *Gate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.disabled
}
