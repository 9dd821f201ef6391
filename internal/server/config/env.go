package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays Config fields from CAMWATCH_-prefixed environment
// variables. Unset variables leave the current value untouched; malformed
// numeric or duration values are ignored rather than failing startup.
//
// Supported variables:
//
//	CAMWATCH_ADDRESS                   HTTP bind address
//	CAMWATCH_DRIVE_KEY_FILE            service-account key file path
//	CAMWATCH_DRIVE_FOLDER_ID           destination folder id
//	CAMWATCH_CAPTURE_INTERPRETER       video handler interpreter
//	CAMWATCH_CAPTURE_SCRIPT            video handler script path
//	CAMWATCH_MMCLI_PATH                mmcli binary path
//	CAMWATCH_MODEM_INDEX               modem index for mmcli -m
//	CAMWATCH_RECORDING_POLL_INTERVAL   Go duration, e.g. "1s"
//	CAMWATCH_RECORDING_CEILING         Go duration, e.g. "120s"
//	CAMWATCH_EARLY_NOTIFY_PERCENT      integer 0..100
//	CAMWATCH_LOCATION_REFRESH_INTERVAL Go duration
//	CAMWATCH_LOCATION_TIMEOUT          Go duration
//	CAMWATCH_LOG_LEVEL                 debug, info, warn or error
func parseEnv(config *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("CAMWATCH_ADDRESS", &config.EndpointAddrHTTP)
	setString("CAMWATCH_DRIVE_KEY_FILE", &config.DriveKeyFile)
	setString("CAMWATCH_DRIVE_FOLDER_ID", &config.DriveFolderID)
	setString("CAMWATCH_CAPTURE_INTERPRETER", &config.CaptureInterpreter)
	setString("CAMWATCH_CAPTURE_SCRIPT", &config.CaptureScript)
	setString("CAMWATCH_MMCLI_PATH", &config.MmcliPath)
	setString("CAMWATCH_MODEM_INDEX", &config.ModemIndex)
	setString("CAMWATCH_LOG_LEVEL", &config.LogLevel)

	setDuration("CAMWATCH_RECORDING_POLL_INTERVAL", &config.RecordingPollInterval)
	setDuration("CAMWATCH_RECORDING_CEILING", &config.RecordingCeiling)
	setDuration("CAMWATCH_LOCATION_REFRESH_INTERVAL", &config.LocationRefreshInterval)
	setDuration("CAMWATCH_LOCATION_TIMEOUT", &config.LocationTimeout)

	if v, ok := os.LookupEnv("CAMWATCH_EARLY_NOTIFY_PERCENT"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.EarlyNotifyPercent = n
		}
	}
}
