package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/logging"
)

// runner abstracts one-shot command execution so tests can script the
// handler's responses.
type runner interface {
	Run(ctx context.Context, args ...string) (*executor.Result, error)
}

type execRunner struct {
	program string
	script  string
}

func (r *execRunner) Run(ctx context.Context, args ...string) (*executor.Result, error) {
	full := append([]string{r.script}, args...)
	return executor.New(r.program, full...).Execute(ctx)
}

// envelope is the JSON reply the video-handler script prints for every
// command: {"success": bool, "message": "...", "data": {...}}.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// statusData is the payload of the "status" command.
type statusData struct {
	Initialized bool `json:"initialized"`
	Recording   struct {
		Active bool `json:"active"`
	} `json:"recording"`
}

// VideoHandler drives the camera through the external Picamera2 handler
// script, one command invocation per call.
type VideoHandler struct {
	run    runner
	logger logging.Logger
}

// NewVideoHandler creates a Recorder that shells out to the handler script
// via the given interpreter (typically "python3").
func NewVideoHandler(interpreter, scriptPath string, logger logging.Logger) *VideoHandler {
	return &VideoHandler{
		run:    &execRunner{program: interpreter, script: scriptPath},
		logger: logger.With("component", "video_handler"),
	}
}

// Start begins a recording of the given duration into filename.
func (v *VideoHandler) Start(ctx context.Context, duration time.Duration, filename string) (Handle, error) {
	secs := int(math.Ceil(duration.Seconds()))
	if secs < 1 {
		secs = 1 // handler granularity is whole seconds
	}

	out := normalizeFilename(filename)
	cmd := fmt.Sprintf("record:duration=%d,filename=%s", secs, out)

	env, err := v.invoke(ctx, cmd)
	if err != nil {
		return Handle{}, err
	}
	if !env.Success {
		return Handle{}, fmt.Errorf("%w: %s", common.ErrRecording, env.Message)
	}

	v.logger.Info(ctx, "recording started", "filename", out, "duration_s", secs)
	return Handle{Filename: out}, nil
}

// Poll reports whether the handler has finished recording.
func (v *VideoHandler) Poll(ctx context.Context, h Handle) (bool, error) {
	env, err := v.invoke(ctx, "status")
	if err != nil {
		return false, err
	}
	if !env.Success {
		return false, fmt.Errorf("%w: %s", common.ErrRecording, env.Message)
	}

	var status statusData
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return false, fmt.Errorf("%w: parsing status: %v", common.ErrRecording, err)
	}
	return !status.Recording.Active, nil
}

func (v *VideoHandler) invoke(ctx context.Context, command string) (*envelope, error) {
	res, err := v.run.Run(ctx, "--command", command)
	if err != nil {
		return nil, fmt.Errorf("%w: invoking video handler: %v", common.ErrRecording, err)
	}

	env, err := parseEnvelope(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRecording, err)
	}
	return env, nil
}

// parseEnvelope extracts the JSON reply from the handler's stdout. The
// script logs to stderr, but be tolerant of stray lines on stdout too.
func parseEnvelope(stdout string) (*envelope, error) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return nil, fmt.Errorf("malformed handler reply: %v", err)
		}
		return &env, nil
	}
	return nil, fmt.Errorf("no JSON reply in handler output")
}

// normalizeFilename mirrors the handler's own output naming: anything that
// is not .mp4 or .h264 gets a .h264 suffix.
func normalizeFilename(name string) string {
	if strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".h264") {
		return name
	}
	return name + ".h264"
}
