// Package common defines shared constants and sentinel errors used across
// camwatch components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Request-level errors.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// Transfer errors.
	ErrNetwork            = errors.New("network error")
	ErrAuthInit           = errors.New("auth init failed")
	ErrSessionExpired     = errors.New("upload session expired")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrAlreadyTerminal    = errors.New("job already in terminal state")

	// Trigger workflow errors.
	ErrRecording    = errors.New("recording failed")
	ErrNotification = errors.New("notification failed")
	ErrTimeout      = errors.New("timed out")
)
