// Package config handles configuration for the server component,
// including defaults, environment variables, JSON overlay, and
// command-line flags.
package config

import "time"

// Config holds runtime settings for the camwatch server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP API.
//   - DriveKeyFile: path to the service-account key JSON used for storage auth.
//   - DriveFolderID: destination folder for uploaded recordings (empty = root).
//   - CaptureInterpreter / CaptureScript: command that runs the video handler.
//   - MmcliPath / ModemIndex: ModemManager CLI settings for SMS and location.
//   - RecordingPollInterval / RecordingCeiling: recording wait loop tuning.
//   - EarlyNotifyPercent: upload progress threshold for early notifications.
//   - LocationRefreshInterval / LocationTimeout: background fix refresh tuning.
//   - LogLevel: minimum level for the JSON logger (debug, info, warn, error).
type Config struct {
	EndpointAddrHTTP        string
	DriveKeyFile            string
	DriveFolderID           string
	CaptureInterpreter      string
	CaptureScript           string
	MmcliPath               string
	ModemIndex              string
	RecordingPollInterval   time.Duration
	RecordingCeiling        time.Duration
	EarlyNotifyPercent      int
	LocationRefreshInterval time.Duration
	LocationTimeout         time.Duration
	LogLevel                string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: The drive key file must be overridden for any real deployment.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DriveKeyFile = "service-account.json"
	c.DriveFolderID = ""
	c.CaptureInterpreter = "python3"
	c.CaptureScript = "video_handler.py"
	c.MmcliPath = "mmcli"
	c.ModemIndex = "0"
	c.RecordingPollInterval = 1 * time.Second
	c.RecordingCeiling = 120 * time.Second
	c.EarlyNotifyPercent = 10
	c.LocationRefreshInterval = 60 * time.Second
	c.LocationTimeout = 2 * time.Second
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from environment variables, an optional JSON file, and finally
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
