// Package sysprobe implements the OS-facing probes with the command-line
// tools each platform ships: osascript on macOS, xdotool and xprop on
// Linux. Every invocation is bounded by a timeout so a wedged tool cannot
// stall the detection loop.
package sysprobe

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/vantage-agent/vantage/internal/apperr"
	"github.com/vantage-agent/vantage/probe"
)

const commandTimeout = 3 * time.Second

var (
	errUnsupportedPlatform = &apperr.Error{
		Message: "foreground probe is not supported on %s",
	}

	errNoIdleCounter = &apperr.Error{
		Message: "HIDIdleTime counter not present in ioreg output",
	}
)

func run(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}

func osascript(script string) (string, error) {
	return run("osascript", "-e", script)
}

// Foreground queries the focused application and window title.
type Foreground struct{}

func (Foreground) Probe() (probe.Foreground, error) {
	switch runtime.GOOS {
	case "darwin":
		return probeDarwin()
	case "linux":
		return probeLinux()
	default:
		return probe.Foreground{}, errUnsupportedPlatform.Fmt(runtime.GOOS)
	}
}

func probeDarwin() (probe.Foreground, error) {
	app, err := osascript(
		`tell application "System Events" to get name of first application process whose frontmost is true`,
	)
	if err != nil {
		return probe.Foreground{}, probe.ErrDenied.Wrap(err)
	}

	// Window titles need the accessibility capability and fail
	// independently of the app name. A missing title is not a probe
	// failure.
	title, err := osascript(
		`tell application "System Events" to get title of front window of (first application process whose frontmost is true)`,
	)
	if err != nil {
		title = ""
	}

	bundle, err := osascript(
		`tell application "System Events" to get bundle identifier of first application process whose frontmost is true`,
	)
	if err != nil {
		bundle = ""
	}

	return probe.Foreground{
		AppName:     app,
		WindowTitle: title,
		BundleID:    bundle,
	}, nil
}

func probeLinux() (probe.Foreground, error) {
	win, err := run("xdotool", "getactivewindow")
	if err != nil {
		return probe.Foreground{}, err
	}

	title, err := run("xdotool", "getwindowname", win)
	if err != nil {
		title = ""
	}

	app := ""

	cls, err := run("xprop", "-id", win, "WM_CLASS")
	if err == nil {
		app = parseWMClass(cls)
	}

	if app == "" {
		app = title
	}

	return probe.Foreground{AppName: app, WindowTitle: title}, nil
}

// parseWMClass extracts the class name from xprop output of the form
// WM_CLASS(STRING) = "navigator", "Firefox".
func parseWMClass(out string) string {
	_, val, ok := strings.Cut(out, "=")
	if !ok {
		return ""
	}

	parts := strings.Split(val, ",")

	last := strings.TrimSpace(parts[len(parts)-1])

	return strings.Trim(last, `"`)
}

// URL extracts the active tab URL from a focused browser. Only macOS
// exposes a scripting surface for this; other platforms report no URL.
type URL struct{}

func (URL) Probe(appName string) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", nil
	}

	name := strings.ToLower(appName)

	switch {
	case strings.Contains(name, "safari"):
		return osascript(`tell application "Safari" to get URL of front document`)
	case strings.Contains(name, "chrome"):
		return osascript(`tell application "Google Chrome" to get URL of active tab of front window`)
	case strings.Contains(name, "edge"):
		return osascript(`tell application "Microsoft Edge" to get URL of active tab of front window`)
	case strings.Contains(name, "brave"):
		return osascript(`tell application "Brave Browser" to get URL of active tab of front window`)
	case strings.Contains(name, "arc"):
		return osascript(`tell application "Arc" to get URL of active tab of front window`)
	}

	return "", nil
}

// SystemIdle reports the time since the last OS input event on any
// device, read from the IOHIDSystem registry on macOS and xprintidle on
// Linux. It is the activity source for the idle monitor when no input
// hook feeds the intake path.
type SystemIdle struct{}

func (SystemIdle) IdleTime() (time.Duration, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := run("ioreg", "-c", "IOHIDSystem", "-d", "4", "-k", "HIDIdleTime")
		if err != nil {
			return 0, err
		}

		return parseHIDIdleTime(out)
	case "linux":
		out, err := run("xprintidle")
		if err != nil {
			return 0, err
		}

		ms, err := strconv.ParseInt(out, 10, 64)
		if err != nil {
			return 0, err
		}

		return time.Duration(ms) * time.Millisecond, nil
	default:
		return 0, errUnsupportedPlatform.Fmt(runtime.GOOS)
	}
}

// parseHIDIdleTime extracts the nanosecond idle counter from ioreg
// output of the form "HIDIdleTime" = 123456789.
func parseHIDIdleTime(out string) (time.Duration, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "HIDIdleTime") {
			continue
		}

		_, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		ns, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, err
		}

		return time.Duration(ns), nil
	}

	return 0, errNoIdleCounter
}

// Permissions reports whether the foreground probe can currently reach
// the OS. The check is the probe itself run once, so a granted
// accessibility permission re-enables the gate on the next recheck.
type Permissions struct{}

func (Permissions) HasCapability() bool {
	_, err := Foreground{}.Probe()
	return err == nil
}

// Capture grabs the primary screen as a PNG using the platform screenshot
// tool. The image is written to a temporary file and read back, since
// neither tool writes to stdout reliably.
type Capture struct{}

func (Capture) Capture() ([]byte, error) {
	f, err := os.CreateTemp("", "vantage-*.png")
	if err != nil {
		return nil, err
	}

	path := f.Name()

	f.Close()
	defer os.Remove(path)

	switch runtime.GOOS {
	case "darwin":
		_, err = run("screencapture", "-x", "-t", "png", path)
	case "linux":
		_, err = run("import", "-window", "root", path)
	default:
		return nil, errUnsupportedPlatform.Fmt(runtime.GOOS)
	}

	if err != nil {
		return nil, err
	}

	return os.ReadFile(filepath.Clean(path))
}
