package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":        "www.example:9000",
		"drive_key_file":            "/etc/camwatch/sa.json",
		"drive_folder_id":           "folder123",
		"capture_interpreter":       "python3.11",
		"capture_script":            "/opt/camwatch/video_handler.py",
		"mmcli_path":                "/usr/bin/mmcli",
		"modem_index":               "1",
		"recording_poll_interval":   "2s",
		"recording_ceiling":         "90s",
		"early_notify_percent":      20,
		"location_refresh_interval": "30s",
		"location_timeout":          "1s",
		"log_level":                 "debug",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "/etc/camwatch/sa.json", cfg.DriveKeyFile)
		assert.Equal(t, "folder123", cfg.DriveFolderID)
		assert.Equal(t, "python3.11", cfg.CaptureInterpreter)
		assert.Equal(t, "/opt/camwatch/video_handler.py", cfg.CaptureScript)
		assert.Equal(t, "/usr/bin/mmcli", cfg.MmcliPath)
		assert.Equal(t, "1", cfg.ModemIndex)
		assert.Equal(t, 2*time.Second, cfg.RecordingPollInterval)
		assert.Equal(t, 90*time.Second, cfg.RecordingCeiling)
		assert.Equal(t, 20, cfg.EarlyNotifyPercent)
		assert.Equal(t, 30*time.Second, cfg.LocationRefreshInterval)
		assert.Equal(t, 1*time.Second, cfg.LocationTimeout)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP:      "defaults:1234",
			DriveKeyFile:          "sa.json",
			CaptureInterpreter:    "python3",
			CaptureScript:         "video_handler.py",
			MmcliPath:             "mmcli",
			ModemIndex:            "0",
			RecordingPollInterval: 1 * time.Second,
			RecordingCeiling:      120 * time.Second,
			EarlyNotifyPercent:    10,
			LogLevel:              "info",
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "sa.json", cfg.DriveKeyFile)
		assert.Equal(t, "python3", cfg.CaptureInterpreter)
		assert.Equal(t, "video_handler.py", cfg.CaptureScript)
		assert.Equal(t, "mmcli", cfg.MmcliPath)
		assert.Equal(t, "0", cfg.ModemIndex)
		assert.Equal(t, 1*time.Second, cfg.RecordingPollInterval)
		assert.Equal(t, 120*time.Second, cfg.RecordingCeiling)
		assert.Equal(t, 10, cfg.EarlyNotifyPercent)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
