package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/camwatch/internal/flagx"
	"github.com/dmitrijs2005/camwatch/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO (Data Transfer Object) used only for
// reading JSON configuration files. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DriveKeyFile            string         `json:"drive_key_file"`
	DriveFolderID           string         `json:"drive_folder_id"`
	CaptureInterpreter      string         `json:"capture_interpreter"`
	CaptureScript           string         `json:"capture_script"`
	MmcliPath               string         `json:"mmcli_path"`
	ModemIndex              string         `json:"modem_index"`
	RecordingPollInterval   timex.Duration `json:"recording_poll_interval"`
	RecordingCeiling        timex.Duration `json:"recording_ceiling"`
	EarlyNotifyPercent      int            `json:"early_notify_percent"`
	LocationRefreshInterval timex.Duration `json:"location_refresh_interval"`
	LocationTimeout         timex.Duration `json:"location_timeout"`
	LogLevel                string         `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DriveKeyFile = c.DriveKeyFile
	config.DriveFolderID = c.DriveFolderID
	config.CaptureInterpreter = c.CaptureInterpreter
	config.CaptureScript = c.CaptureScript
	config.MmcliPath = c.MmcliPath
	config.ModemIndex = c.ModemIndex
	config.RecordingPollInterval = time.Duration(c.RecordingPollInterval.Duration)
	config.RecordingCeiling = time.Duration(c.RecordingCeiling.Duration)
	config.EarlyNotifyPercent = c.EarlyNotifyPercent
	config.LocationRefreshInterval = time.Duration(c.LocationRefreshInterval.Duration)
	config.LocationTimeout = time.Duration(c.LocationTimeout.Duration)
	config.LogLevel = c.LogLevel
}
