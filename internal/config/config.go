// Package config is responsible for configuring the Vantage agent from its
// YAML config file and command-line flags.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pterm/pterm"
)

type (
	// Config holds all configuration settings for the agent.
	Config struct {
		Tracking      TrackingConfig
		Probe         ProbeConfig
		Idle          IdleConfig
		Queue         QueueConfig
		Sync          SyncConfig
		Screenshots   ScreenshotConfig
		AntiCheat     AntiCheatConfig
		Settings      SettingsConfig
		Notifications NotificationConfig
	}

	// TrackingConfig holds foreground-detection settings.
	TrackingConfig struct {
		DetectInterval time.Duration
		Browsers       []string
	}

	// ProbeConfig controls the foreground-probe failure gate.
	ProbeConfig struct {
		MaxFailures     int
		RecheckInterval time.Duration
	}

	// IdleConfig holds idle-detection settings.
	IdleConfig struct {
		Threshold     time.Duration
		CheckInterval time.Duration
	}

	// QueueConfig bounds the local observation buffers.
	QueueConfig struct {
		MaxLen int
		TrimTo int
	}

	// SyncConfig controls the batch-upload worker and the remote store
	// client.
	SyncConfig struct {
		APIURL         string
		APIToken       string
		Interval       time.Duration
		RequestTimeout time.Duration
		WarnDepth      int
	}

	// ScreenshotConfig controls the randomized capture schedule.
	ScreenshotConfig struct {
		MinGap         time.Duration
		MaxGap         time.Duration
		MandatoryGap   time.Duration
		CaptureTimeout time.Duration
		MaxFailures    int
	}

	// AntiCheatConfig holds the suspicious-pattern heuristics.
	AntiCheatConfig struct {
		Window           time.Duration
		MinMouseDistance float64
		KeyDiversity     int
		MaxAlerts        int
	}

	// SettingsConfig holds general agent behavior.
	SettingsConfig struct {
		UserID         string
		SuspendCeiling time.Duration
		AlertCmd       string
	}

	// NotificationConfig holds desktop notification settings.
	NotificationConfig struct {
		Enabled bool
	}

	// Option is a function that modifies Config.
	Option func(*Config) error
)

const Version = "v0.3.1"

var (
	configDir      = "vantage"
	configFileName = "config.yml"
	dbFileName     = "vantage.db"
	statusFileName = "status.json"
	logFileName    = "vantage.log"
	dbFilePath     string
	configFilePath string
	statusFilePath string
	logFilePath    string
)

var (
	Stdin  io.Reader = os.Stdin
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

func Dir() string {
	return configDir
}

func DBFilePath() string {
	return dbFilePath
}

func StatusFilePath() string {
	return statusFilePath
}

func LogFilePath() string {
	return logFilePath
}

func ConfigFilePath() string {
	return configFilePath
}

func InitializePaths() {
	vantageEnv := strings.TrimSpace(os.Getenv("VANTAGE_ENV"))
	if vantageEnv != "" {
		configFileName = fmt.Sprintf("config_%s.yml", vantageEnv)
		dbFileName = fmt.Sprintf("vantage_%s.db", vantageEnv)
		statusFileName = fmt.Sprintf("status_%s.json", vantageEnv)
		logFileName = fmt.Sprintf("vantage_%s.log", vantageEnv)
	}

	var err error

	relPath := filepath.Join(configDir, configFileName)

	configFilePath, err = xdg.ConfigFile(relPath)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	dataDir, err := xdg.DataFile(configDir)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	dbFilePath = filepath.Join(dataDir, dbFileName)

	statusFilePath = filepath.Join(dataDir, statusFileName)

	logFilePath = filepath.Join(dataDir, "log", logFileName)
}

// New creates a new Config with default values and applies options.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config option error: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Queue.TrimTo > c.Queue.MaxLen {
		return errTrimExceedsCap.Fmt(c.Queue.TrimTo, c.Queue.MaxLen)
	}

	if c.Screenshots.MinGap > c.Screenshots.MaxGap {
		return errInvalidScreenshotGap.Fmt(
			c.Screenshots.MinGap,
			c.Screenshots.MaxGap,
		)
	}

	return nil
}

// IsBrowser reports whether the named application is in the browser
// allow-list. Matching is case-insensitive on substrings so that
// "Google Chrome" matches "chrome".
func (c *Config) IsBrowser(appName string) bool {
	name := strings.ToLower(appName)

	for _, b := range c.Tracking.Browsers {
		if strings.Contains(name, strings.ToLower(b)) {
			return true
		}
	}

	return false
}
