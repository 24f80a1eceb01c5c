package config

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// CLIOptions represents command-line configuration options.
type CLIOptions struct {
	UserID        string
	APIURL        string
	APIToken      string
	IdleThreshold string
	AlertCmd      string
	DisableNotify bool
}

// WithCLIConfig returns an Option that overrides configuration with CLI
// flags.
func WithCLIConfig(ctx *cli.Context) Option {
	return func(c *Config) error {
		opts := CLIOptions{
			UserID:        ctx.String("user-id"),
			APIURL:        ctx.String("api-url"),
			APIToken:      ctx.String("api-token"),
			IdleThreshold: ctx.String("idle-threshold"),
			AlertCmd:      ctx.String("alert-cmd"),
			DisableNotify: ctx.Bool("disable-notification"),
		}

		return applyCLIOptions(c, opts)
	}
}

// applyCLIOptions applies CLI options to the config.
func applyCLIOptions(c *Config, opts CLIOptions) error {
	if opts.UserID != "" {
		c.Settings.UserID = opts.UserID
	}

	if opts.APIURL != "" {
		c.Sync.APIURL = opts.APIURL
	}

	if opts.APIToken != "" {
		c.Sync.APIToken = opts.APIToken
	}

	if opts.AlertCmd != "" {
		c.Settings.AlertCmd = opts.AlertCmd
	}

	if opts.DisableNotify {
		c.Notifications.Enabled = false
	}

	if opts.IdleThreshold != "" {
		d, err := time.ParseDuration(opts.IdleThreshold)
		if err != nil {
			return fmt.Errorf("invalid idle threshold: %w", err)
		}

		c.Idle.Threshold = d
	}

	return nil
}
