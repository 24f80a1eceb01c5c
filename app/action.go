package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/vantage-agent/vantage/internal/config"
	"github.com/vantage-agent/vantage/internal/logutil"
	"github.com/vantage-agent/vantage/internal/sysprobe"
	"github.com/vantage-agent/vantage/store"
	"github.com/vantage-agent/vantage/tracker"
)

const (
	envNoColor        = "NO_COLOR"
	envVantageNoColor = "VANTAGE_NO_COLOR"
)

// statusAction handles the status command and prints the snapshot left by
// a running agent.
func statusAction(ctx *cli.Context) error {
	s, err := tracker.ReadStatus()
	if err != nil {
		return err
	}

	if s == nil {
		pterm.Info.Println("The vantage agent is not running")
		return nil
	}

	if ctx.Bool("json") {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}

		pterm.Println(string(b))

		return nil
	}

	pterm.Printfln("State: %s", s.State)

	if s.PauseReason != "" {
		pterm.Printfln("Paused: %s", s.PauseReason)
	}

	if s.Session != nil {
		pterm.Printfln("Session: %s", s.Session.ID)
		pterm.Printfln("Started: %s", s.Session.StartTime.Format("Jan 02 15:04:05"))
	}

	pterm.Printfln(
		"Activity: %d (%s risk)",
		s.Activity.Value,
		s.Activity.Risk,
	)
	pterm.Printfln("Pending uploads: %d", s.QueueDepth.Total())

	if s.ProbeDisabled {
		pterm.Warning.Println("App detection is disabled (permission missing?)")
	}

	if s.ScreenshotsSuspended {
		pterm.Warning.Println("Screenshot capture is suspended")
	}

	return nil
}

// defaultAction starts the agent and runs it until interrupted.
func defaultAction(ctx *cli.Context) error {
	cfg, err := config.New(
		config.WithViperConfig(config.ConfigFilePath()),
		config.WithCLIConfig(ctx),
	)
	if err != nil {
		return err
	}

	logutil.Init(config.LogFilePath())

	db, err := store.NewClient(config.DBFilePath())
	if err != nil {
		return err
	}

	defer db.Close()

	remote := store.NewAPIClient(
		cfg.Sync.APIURL,
		cfg.Sync.APIToken,
		cfg.Sync.RequestTimeout,
	)

	t := tracker.New(cfg, db, remote, tracker.Collaborators{
		Foreground:  sysprobe.Foreground{},
		URLs:        sysprobe.URL{},
		Permissions: sysprobe.Permissions{},
		Idle:        sysprobe.SystemIdle{},
		Capture:     sysprobe.Capture{},
		Uploader:    remote,
	})

	events := t.Subscribe()

	if err := t.Start(ctx.String("project")); err != nil {
		return err
	}

	pterm.Info.Println(
		"Tracking started. Press ENTER to confirm a resume after idleness,",
	)
	pterm.Info.Println("'p' to pause, 'r' to resume, or 'q' (or Ctrl-C) to stop.")

	return runLoop(t, events)
}

const (
	// sleepTick is how often the run loop samples the wall clock to
	// detect system sleep; a gap beyond the grace means the machine was
	// suspended.
	sleepTick  = 30 * time.Second
	sleepGrace = 30 * time.Second
)

// runLoop multiplexes tracker events, operator keyboard input, OS
// signals, and the sleep watcher until the agent is told to stop.
func runLoop(t *tracker.Tracker, events <-chan tracker.Event) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sig)

	ticker := time.NewTicker(sleepTick)
	defer ticker.Stop()

	lastTick := time.Now()

	input := make(chan string)

	go func() {
		scanner := bufio.NewScanner(config.Stdin)
		for scanner.Scan() {
			input <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		}
	}()

	for {
		select {
		case <-sig:
			pterm.Info.Println("Stopping the agent...")
			return t.Stop()

		case line := <-input:
			switch line {
			case "q", "quit", "exit":
				pterm.Info.Println("Stopping the agent...")
				return t.Stop()
			case "p", "pause":
				if err := t.Pause(tracker.PauseManual); err != nil {
					pterm.Error.Println(err)
				}
			default:
				// ENTER, "r", and "resume" all count as an explicit
				// confirmation that the operator is back.
				if err := t.Resume(true); err != nil {
					pterm.Error.Println(err)
				}
			}

		case now := <-ticker.C:
			if gap := now.Sub(lastTick); gap > sleepTick+sleepGrace {
				t.HandleSleepGap(gap - sleepTick)
			}

			lastTick = now

		case ev := <-events:
			printEvent(ev)
		}
	}
}

func printEvent(ev tracker.Event) {
	switch ev.Type {
	case tracker.EventStateChange:
		switch ev.State {
		case tracker.StateActive:
			pterm.Success.Println("Tracking is active")
		case tracker.StatePaused:
			pterm.Warning.Printfln("Tracking paused (%s)", ev.Reason)
		case tracker.StateSuspended:
			pterm.Warning.Println("System suspended, tracking halted")
		case tracker.StateStopped:
			pterm.Info.Println("Tracking stopped")
		}

	case tracker.EventIdleStart:
		pterm.Warning.Println(
			"No activity detected. Tracking is paused until you confirm you are back.",
		)

	case tracker.EventIdleEnd:
		if ev.Idle != nil {
			pterm.Info.Printfln(
				"You were idle for %d minute(s). Press ENTER to resume tracking.",
				ev.Idle.DurationMinutes,
			)
		}

	case tracker.EventDegraded:
		pterm.Warning.Println(ev.Detail)

	case tracker.EventAlert:
		if ev.Alert != nil {
			pterm.Warning.Printfln(
				"Activity alert [%s]: %s (%s)",
				ev.Alert.Severity,
				ev.Alert.Kind,
				ev.Alert.Detail,
			)
		}
	}
}

func beforeAction(ctx *cli.Context) error {
	// Override the default version printer
	oldVersionPrinter := cli.VersionPrinter
	cli.VersionPrinter = func(c *cli.Context) {
		oldVersionPrinter(c)
		fmt.Printf(
			"https://github.com/vantage-agent/vantage/releases/%s\n",
			c.App.Version,
		)
	}

	pterm.Error.MessageStyle = pterm.NewStyle(pterm.FgRed)
	pterm.Error.Prefix = pterm.Prefix{
		Text:  "ERROR",
		Style: pterm.NewStyle(pterm.BgRed, pterm.FgBlack),
	}

	// Disable colour output if NO_COLOR is set
	if _, exists := os.LookupEnv(envNoColor); exists {
		disableStyling()
	}

	// Disable colour output if VANTAGE_NO_COLOR is set
	if _, exists := os.LookupEnv(envVantageNoColor); exists {
		disableStyling()
	}

	if ctx.Bool("no-color") {
		disableStyling()
	}

	return nil
}
