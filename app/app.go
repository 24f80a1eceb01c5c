// Package app assembles the vantage command-line interface.
package app

import (
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/vantage-agent/vantage/internal/config"
)

// disableStyling disables all styling provided by pterm.
func disableStyling() {
	pterm.DisableColor()
	pterm.DisableStyling()
	pterm.Debug.Prefix.Text = ""
	pterm.Info.Prefix.Text = ""
	pterm.Success.Prefix.Text = ""
	pterm.Warning.Prefix.Text = ""
	pterm.Error.Prefix.Text = ""
	pterm.Fatal.Prefix.Text = ""
}

// Get retrieves the vantage app instance.
func Get() *cli.App {
	vantageApp := &cli.App{
		Name: "vantage",
		Usage: `
		Vantage is a workforce activity agent for the command-line. It tracks
		the focused application and browser URL, watches for idleness, captures
		periodic screenshots, and uploads everything in batches to a remote
		store, buffering locally while offline.`,
		UsageText:            "[COMMAND] [OPTIONS]",
		Version:              config.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Print the status of the agent",
				Action: statusAction,
				Flags:  []cli.Flag{jsonFlag},
			},
		},
		Flags: []cli.Flag{
			userIDFlag,
			projectFlag,
			apiURLFlag,
			apiTokenFlag,
			idleThresholdFlag,
			alertCmdFlag,
			disableNotificationFlag,
			noColorFlag,
		},
		Action: defaultAction,
		Before: beforeAction,
	}

	return vantageApp
}
