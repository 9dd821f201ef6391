// Package trigger implements the end-to-end workflow orchestrator: record,
// upload, notify. Each trigger runs as an independent background workflow and
// is fault-isolated from the others.
package trigger

import (
	"time"

	"github.com/dmitrijs2005/camwatch/internal/location"
)

// Stage is the workflow position of a trigger.
type Stage string

const (
	StageInitialized Stage = "initialized"
	StageRecording   Stage = "recording"
	StageUploading   Stage = "uploading"
	StageNotifying   Stage = "notifying"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// Terminal reports whether the workflow has finished.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// rank orders stages for the forward-only transition guard. Failed is
// reachable from anywhere.
func (s Stage) rank() int {
	switch s {
	case StageInitialized:
		return 0
	case StageRecording:
		return 1
	case StageUploading:
		return 2
	case StageNotifying:
		return 3
	case StageCompleted:
		return 4
	default:
		return 5
	}
}

// Config describes one trigger request.
type Config struct {
	// Destination is the notification contact, e.g. a phone number in
	// international format. Required.
	Destination string
	// Duration of the recording. Required, must be positive.
	Duration time.Duration
	// Filename for the recording output. Defaults to a timestamped name.
	Filename string
	// Message prefixes the notification text when set.
	Message string
	// EarlyNotification sends a provisional message once the upload passes
	// the progress threshold instead of waiting for the final link.
	EarlyNotification bool
}

// Status is a snapshot of one trigger workflow.
type Status struct {
	ID          string       `json:"id"`
	Destination string       `json:"destination"`
	Filename    string       `json:"filename"`
	Stage       Stage        `json:"stage"`
	UploadID    string       `json:"upload_id,omitempty"`
	EarlySent   bool         `json:"early_notification_sent"`
	Location    location.Fix `json:"location"`
	Error       string       `json:"error,omitempty"`
	NotifyError string       `json:"notify_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	FinishedAt  time.Time    `json:"finished_at,omitzero"`
}
