package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/camwatch/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-k string   service-account key file path
//	-f string   drive destination folder id
//	-i string   capture interpreter (e.g., "python3")
//	-s string   capture script path
//	-m string   mmcli binary path
//	-x string   modem index for mmcli -m
//	-p int      recording poll interval, seconds
//	-r int      recording ceiling, seconds
//	-e int      early notification threshold, percent
//	-l string   log level
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in seconds and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-k", "-f", "-i", "-s", "-m", "-x", "-p", "-r", "-e", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DriveKeyFile, "k", config.DriveKeyFile, "service-account key file")
	fs.StringVar(&config.DriveFolderID, "f", config.DriveFolderID, "drive folder id")
	fs.StringVar(&config.CaptureInterpreter, "i", config.CaptureInterpreter, "capture interpreter")
	fs.StringVar(&config.CaptureScript, "s", config.CaptureScript, "capture script path")
	fs.StringVar(&config.MmcliPath, "m", config.MmcliPath, "mmcli binary path")
	fs.StringVar(&config.ModemIndex, "x", config.ModemIndex, "modem index")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	pollInterval := fs.Int("p", int(config.RecordingPollInterval.Seconds()), "recording poll interval (in seconds)")
	recordingCeiling := fs.Int("r", int(config.RecordingCeiling.Seconds()), "recording ceiling (in seconds)")
	fs.IntVar(&config.EarlyNotifyPercent, "e", config.EarlyNotifyPercent, "early notification threshold (percent)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RecordingPollInterval = time.Duration(*pollInterval) * time.Second
	config.RecordingCeiling = time.Duration(*recordingCeiling) * time.Second
}
