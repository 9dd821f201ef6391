// Package upload implements the resumable transfer engine. It owns the full
// lifecycle of outbound file transfers: chunking, progress accounting, retry,
// cancellation, and per-job lifecycle events.
package upload

import "time"

// State is the lifecycle state of an upload job.
type State string

const (
	StatePending   State = "pending"
	StateUploading State = "uploading"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Options are caller-supplied attributes for a new upload.
type Options struct {
	// Name is the target object name; defaults to the source file's base name.
	Name string
	// MimeType declared for the object; defaults to application/octet-stream.
	MimeType string
	// FolderID is an optional destination folder identifier.
	FolderID string
}

// Status is an immutable snapshot of an upload job. Accessors return copies,
// so callers can never mutate engine-internal state through one.
type Status struct {
	ID               string    `json:"id"`
	SourcePath       string    `json:"source_path"`
	Name             string    `json:"name"`
	MimeType         string    `json:"mime_type"`
	FolderID         string    `json:"folder_id,omitempty"`
	State            State     `json:"state"`
	BytesTotal       int64     `json:"bytes_total"`
	BytesTransferred int64     `json:"bytes_transferred"`
	Percent          int       `json:"percent"`
	Error            string    `json:"error,omitempty"`
	ObjectID         string    `json:"object_id,omitempty"`
	ViewLink         string    `json:"view_link,omitempty"`
	ContentLink      string    `json:"content_link,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitzero"`
}

// percent computes floor(transferred/total*100). 100 is reserved for the
// Completed state, so intermediate values are capped at 99.
func percent(transferred, total int64, state State) int {
	if state == StateCompleted {
		return 100
	}
	if total <= 0 {
		return 0
	}
	p := int(transferred * 100 / total)
	if p > 99 {
		p = 99
	}
	return p
}
