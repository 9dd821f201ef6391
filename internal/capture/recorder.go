// Package capture defines the recording collaborator contract and its
// implementation on top of the Picamera2 video-handler script.
package capture

import (
	"context"
	"time"
)

// Handle identifies one in-progress recording.
type Handle struct {
	// Filename is the output path the handler writes to. It may differ from
	// the requested name: the handler appends ".h264" to names that are
	// neither .mp4 nor .h264.
	Filename string
}

// Recorder starts recordings and reports their completion.
//
// Start returns as soon as the recording has begun; callers poll until the
// device reports it finished. Any error from Poll is terminal for the
// recording.
type Recorder interface {
	Start(ctx context.Context, duration time.Duration, filename string) (Handle, error)
	Poll(ctx context.Context, h Handle) (done bool, err error)
}
