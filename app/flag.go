package app

import "github.com/urfave/cli/v2"

var (
	userIDFlag = &cli.StringFlag{
		Name:    "user-id",
		Aliases: []string{"u"},
		Usage:   "Identify the operator whose activity is tracked",
	}

	projectFlag = &cli.StringFlag{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "Attribute the tracked time to a project",
	}

	apiURLFlag = &cli.StringFlag{
		Name:  "api-url",
		Usage: "Base URL of the remote store receiving uploads",
	}

	apiTokenFlag = &cli.StringFlag{
		Name:  "api-token",
		Usage: "Bearer token for the remote store",
	}

	idleThresholdFlag = &cli.StringFlag{
		Name:  "idle-threshold",
		Usage: "Inactivity duration before tracking pauses (e.g. '5m')",
	}

	alertCmdFlag = &cli.StringFlag{
		Name:  "alert-cmd",
		Usage: "Execute an arbitrary command when a high-severity activity alert fires",
	}

	disableNotificationFlag = &cli.BoolFlag{
		Name:    "disable-notification",
		Aliases: []string{"d"},
		Usage:   "Disable the system notifications shown on pauses, alerts, and degradations",
	}

	noColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable coloured output",
	}

	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Print the output in JSON format",
	}
)
