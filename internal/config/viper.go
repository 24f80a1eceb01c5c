package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// viperKeys defines the mapping between config keys and their Viper
// counterparts.
const (
	keyDetectInterval   = "tracking.detect_interval"
	keyBrowsers         = "tracking.browsers"
	keyProbeMaxFailures = "probe.max_failures"
	keyProbeRecheck     = "probe.recheck_interval"
	keyIdleThreshold    = "idle.threshold"
	keyIdleCheck        = "idle.check_interval"
	keyQueueMaxLen      = "queue.max_len"
	keyQueueTrimTo      = "queue.trim_to"
	keyAPIURL           = "sync.api_url"
	keyAPIToken         = "sync.api_token"
	keySyncInterval     = "sync.interval"
	keyRequestTimeout   = "sync.request_timeout"
	keyWarnDepth        = "sync.warn_depth"
	keyShotMinGap       = "screenshots.min_gap"
	keyShotMaxGap       = "screenshots.max_gap"
	keyShotMandatory    = "screenshots.mandatory_gap"
	keyShotTimeout      = "screenshots.capture_timeout"
	keyShotMaxFailures  = "screenshots.max_failures"
	keyACWindow         = "anticheat.window"
	keyACMouseDistance  = "anticheat.min_mouse_distance"
	keyACKeyDiversity   = "anticheat.key_diversity"
	keyACMaxAlerts      = "anticheat.max_alerts"
	keyUserID           = "settings.user_id"
	keySuspendCeiling   = "settings.suspend_ceiling"
	keyAlertCmd         = "settings.alert_cmd"
	keyNotifyEnabled    = "notifications.enabled"
)

// WithViperConfig returns an Option that loads configuration from Viper,
// writing the default config file first if none exists.
func WithViperConfig(configPath string) Option {
	return func(c *Config) error {
		v := viper.New()

		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		setViperDefaults(v)

		err := v.ReadInConfig()
		if err == nil {
			return loadViperConfig(v, c)
		}

		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading config file failed: %w", err)
		}

		if err := v.WriteConfig(); err != nil {
			return fmt.Errorf("writing default config failed: %w", err)
		}

		return loadViperConfig(v, c)
	}
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault(keyDetectInterval, "250ms")
	v.SetDefault(keyBrowsers, []string{
		"chrome", "chromium", "firefox", "safari",
		"edge", "brave", "opera", "arc",
	})
	v.SetDefault(keyProbeMaxFailures, 5)
	v.SetDefault(keyProbeRecheck, "30s")
	v.SetDefault(keyIdleThreshold, "300s")
	v.SetDefault(keyIdleCheck, "5s")
	v.SetDefault(keyQueueMaxLen, 100)
	v.SetDefault(keyQueueTrimTo, 50)
	v.SetDefault(keyAPIURL, "http://localhost:3000")
	v.SetDefault(keyAPIToken, "")
	v.SetDefault(keySyncInterval, "60s")
	v.SetDefault(keyRequestTimeout, "10s")
	v.SetDefault(keyWarnDepth, 80)
	v.SetDefault(keyShotMinGap, "2m")
	v.SetDefault(keyShotMaxGap, "6m")
	v.SetDefault(keyShotMandatory, "15m")
	v.SetDefault(keyShotTimeout, "5s")
	v.SetDefault(keyShotMaxFailures, 3)
	v.SetDefault(keyACWindow, "15m")
	v.SetDefault(keyACMouseDistance, 50)
	v.SetDefault(keyACKeyDiversity, 5)
	v.SetDefault(keyACMaxAlerts, 50)
	v.SetDefault(keyUserID, "")
	v.SetDefault(keySuspendCeiling, "1h")
	v.SetDefault(keyAlertCmd, "")
	v.SetDefault(keyNotifyEnabled, true)
}

// loadViperConfig copies values from Viper into the Config struct.
func loadViperConfig(v *viper.Viper, c *Config) error {
	durations := map[string]*time.Duration{
		keyDetectInterval: &c.Tracking.DetectInterval,
		keyProbeRecheck:   &c.Probe.RecheckInterval,
		keyIdleThreshold:  &c.Idle.Threshold,
		keyIdleCheck:      &c.Idle.CheckInterval,
		keySyncInterval:   &c.Sync.Interval,
		keyRequestTimeout: &c.Sync.RequestTimeout,
		keyShotMinGap:     &c.Screenshots.MinGap,
		keyShotMaxGap:     &c.Screenshots.MaxGap,
		keyShotMandatory:  &c.Screenshots.MandatoryGap,
		keyShotTimeout:    &c.Screenshots.CaptureTimeout,
		keyACWindow:       &c.AntiCheat.Window,
		keySuspendCeiling: &c.Settings.SuspendCeiling,
	}

	for key, dst := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}

		*dst = d
	}

	c.Tracking.Browsers = v.GetStringSlice(keyBrowsers)
	c.Probe.MaxFailures = v.GetInt(keyProbeMaxFailures)
	c.Queue.MaxLen = v.GetInt(keyQueueMaxLen)
	c.Queue.TrimTo = v.GetInt(keyQueueTrimTo)
	c.Sync.APIURL = v.GetString(keyAPIURL)
	c.Sync.APIToken = v.GetString(keyAPIToken)
	c.Sync.WarnDepth = v.GetInt(keyWarnDepth)
	c.Screenshots.MaxFailures = v.GetInt(keyShotMaxFailures)
	c.AntiCheat.MinMouseDistance = v.GetFloat64(keyACMouseDistance)
	c.AntiCheat.KeyDiversity = v.GetInt(keyACKeyDiversity)
	c.AntiCheat.MaxAlerts = v.GetInt(keyACMaxAlerts)
	c.Settings.UserID = v.GetString(keyUserID)
	c.Settings.AlertCmd = v.GetString(keyAlertCmd)
	c.Notifications.Enabled = v.GetBool(keyNotifyEnabled)

	return nil
}
