package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/camwatch/internal/capture"
	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/location"
	"github.com/dmitrijs2005/camwatch/internal/logging"
	"github.com/dmitrijs2005/camwatch/internal/notify"
	"github.com/dmitrijs2005/camwatch/internal/upload"
)

const (
	defaultPollInterval     = 1 * time.Second
	defaultRecordingCeiling = 120 * time.Second
	defaultEarlyThreshold   = 10
	defaultLocationTimeout  = 2 * time.Second
)

// Uploader is the slice of the transfer engine the orchestrator consumes.
// *upload.Manager satisfies it.
type Uploader interface {
	StartUpload(ctx context.Context, path string, opts upload.Options) (upload.Status, error)
	Subscribe(jobID string) (<-chan upload.Event, func())
	Status(jobID string) (upload.Status, error)
}

// Manager runs trigger workflows. Each started trigger records, uploads and
// notifies in its own goroutine; the manager only keeps the snapshots.
type Manager struct {
	recorder capture.Recorder
	uploader Uploader
	notifier notify.Notifier
	locator  location.Provider
	logger   logging.Logger

	pollInterval     time.Duration
	recordingCeiling time.Duration
	earlyThreshold   int
	locationTimeout  time.Duration
	outputDir        string

	mu       sync.Mutex
	triggers map[string]*triggerJob
}

type triggerJob struct {
	status Status
}

// Option tunes a Manager.
type Option func(*Manager)

// WithPollInterval sets the recording status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithRecordingCeiling sets the maximum time to wait for a recording to
// finish before the trigger fails with a timeout.
func WithRecordingCeiling(d time.Duration) Option {
	return func(m *Manager) { m.recordingCeiling = d }
}

// WithEarlyThreshold sets the upload percentage at which an early
// notification is sent.
func WithEarlyThreshold(percent int) Option {
	return func(m *Manager) { m.earlyThreshold = percent }
}

// WithLocationTimeout bounds each location lookup.
func WithLocationTimeout(d time.Duration) Option {
	return func(m *Manager) { m.locationTimeout = d }
}

// WithOutputDir places generated recording filenames under dir. Explicit
// filenames in the trigger config are used as given.
func WithOutputDir(dir string) Option {
	return func(m *Manager) { m.outputDir = dir }
}

func NewManager(recorder capture.Recorder, uploader Uploader, notifier notify.Notifier,
	locator location.Provider, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		recorder:         recorder,
		uploader:         uploader,
		notifier:         notifier,
		locator:          locator,
		logger:           logger,
		pollInterval:     defaultPollInterval,
		recordingCeiling: defaultRecordingCeiling,
		earlyThreshold:   defaultEarlyThreshold,
		locationTimeout:  defaultLocationTimeout,
		triggers:         make(map[string]*triggerJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartTrigger validates the config, registers the trigger and launches its
// workflow in the background. It returns the initial snapshot immediately.
func (m *Manager) StartTrigger(ctx context.Context, cfg Config) (Status, error) {
	if cfg.Destination == "" {
		return Status{}, fmt.Errorf("%w: destination is required", common.ErrValidation)
	}
	if cfg.Duration <= 0 {
		return Status{}, fmt.Errorf("%w: duration must be positive", common.ErrValidation)
	}
	if cfg.Filename == "" {
		cfg.Filename = filepath.Join(m.outputDir,
			fmt.Sprintf("capture-%s.h264", time.Now().Format("20060102-150405")))
	}

	st := Status{
		ID:          uuid.NewString(),
		Destination: cfg.Destination,
		Filename:    cfg.Filename,
		Stage:       StageInitialized,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.triggers[st.ID] = &triggerJob{status: st}
	m.mu.Unlock()

	m.logger.Info(ctx, "trigger accepted", "trigger_id", st.ID, "duration", cfg.Duration)

	// The workflow must outlive the request that started it.
	go m.run(context.Background(), st.ID, cfg)

	return st, nil
}

// Status returns a snapshot of one trigger.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.triggers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: trigger %s", common.ErrNotFound, id)
	}
	return j.status, nil
}

// Statuses returns snapshots of all known triggers.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.triggers))
	for _, j := range m.triggers {
		out = append(out, j.status)
	}
	return out
}

func (m *Manager) run(ctx context.Context, id string, cfg Config) {
	m.refreshLocation(ctx, id)

	if !m.advance(id, StageRecording) {
		return
	}
	handle, err := m.record(ctx, id, cfg)
	if err != nil {
		m.fail(ctx, id, err)
		return
	}

	if !m.advance(id, StageUploading) {
		return
	}
	job, err := m.uploader.StartUpload(ctx, handle.Filename, upload.Options{
		Name:     filepath.Base(handle.Filename),
		MimeType: "video/h264",
	})
	if err != nil {
		m.fail(ctx, id, fmt.Errorf("starting upload: %w", err))
		return
	}
	m.transition(id, func(st *Status) { st.UploadID = job.ID })

	m.watchUpload(ctx, id, cfg, job.ID)
}

// record starts the recording and polls until the device reports it done or
// the ceiling elapses.
func (m *Manager) record(ctx context.Context, id string, cfg Config) (capture.Handle, error) {
	handle, err := m.recorder.Start(ctx, cfg.Duration, cfg.Filename)
	if err != nil {
		return capture.Handle{}, fmt.Errorf("%w: %w", common.ErrRecording, err)
	}
	m.transition(id, func(st *Status) { st.Filename = handle.Filename })

	deadline := time.Now().Add(m.recordingCeiling)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return capture.Handle{}, ctx.Err()
		case <-ticker.C:
			done, err := m.recorder.Poll(ctx, handle)
			if err != nil {
				return capture.Handle{}, fmt.Errorf("%w: %w", common.ErrRecording, err)
			}
			if done {
				return handle, nil
			}
			if time.Now().After(deadline) {
				return capture.Handle{}, fmt.Errorf("%w: recording did not finish within %s", common.ErrTimeout, m.recordingCeiling)
			}
		}
	}
}

// watchUpload consumes the upload's event stream and drives the notification
// stage. If the stream closes before a terminal event arrives (the job went
// terminal before we subscribed), the final status is fetched directly.
func (m *Manager) watchUpload(ctx context.Context, id string, cfg Config, jobID string) {
	events, unsubscribe := m.uploader.Subscribe(jobID)
	defer unsubscribe()

	for ev := range events {
		switch ev.Kind {
		case upload.EventProgress:
			m.maybeNotifyEarly(ctx, id, cfg, ev.Job)
		case upload.EventCompleted:
			m.onUploadCompleted(ctx, id, cfg, ev.Job)
			return
		case upload.EventFailed:
			m.onUploadFailed(ctx, id, cfg, ev.Job)
			return
		}
	}

	job, err := m.uploader.Status(jobID)
	if err != nil {
		m.fail(ctx, id, fmt.Errorf("upload job lost: %w", err))
		return
	}
	switch job.State {
	case upload.StateCompleted:
		m.onUploadCompleted(ctx, id, cfg, job)
	case upload.StateFailed:
		m.onUploadFailed(ctx, id, cfg, job)
	default:
		m.fail(ctx, id, fmt.Errorf("upload %s ended in state %s", jobID, job.State))
	}
}

// maybeNotifyEarly sends the provisional message once the upload crosses the
// threshold. The early-sent flag is claimed under the lock, so the message
// goes out at most once even when progress events race.
func (m *Manager) maybeNotifyEarly(ctx context.Context, id string, cfg Config, job upload.Status) {
	if !cfg.EarlyNotification || job.Percent < m.earlyThreshold {
		return
	}

	claimed := false
	m.transition(id, func(st *Status) {
		if st.EarlySent || st.Stage.Terminal() {
			return
		}
		st.EarlySent = true
		claimed = true
	})
	if !claimed {
		return
	}

	m.refreshLocation(ctx, id)
	st, err := m.Status(id)
	if err != nil {
		return
	}

	text := fmt.Sprintf("Recording %s is being processed. %s", st.Filename, locationText(st.Location))
	if cfg.Message != "" {
		text = cfg.Message + " " + text
	}
	if err := m.notifier.Send(ctx, cfg.Destination, text); err != nil {
		m.logger.Error(ctx, "early notification failed", "trigger_id", id, "error", err)
		m.transition(id, func(st *Status) { st.NotifyError = err.Error() })
	}
}

func (m *Manager) onUploadCompleted(ctx context.Context, id string, cfg Config, job upload.Status) {
	st, err := m.Status(id)
	if err != nil || st.Stage.Terminal() {
		return
	}

	// An early notification already told the recipient; the final link
	// message is skipped.
	if st.EarlySent {
		m.complete(ctx, id)
		return
	}

	if !m.advance(id, StageNotifying) {
		return
	}
	m.refreshLocation(ctx, id)
	st, err = m.Status(id)
	if err != nil {
		return
	}

	text := fmt.Sprintf("Recording %s uploaded: %s. %s", job.Name, job.ViewLink, locationText(st.Location))
	if cfg.Message != "" {
		text = cfg.Message + " " + text
	}
	if err := m.notifier.Send(ctx, cfg.Destination, text); err != nil {
		// Send failure is recorded but the trigger still completes; the
		// upload itself succeeded.
		m.logger.Error(ctx, "completion notification failed", "trigger_id", id, "error", err)
		m.transition(id, func(st *Status) { st.NotifyError = err.Error() })
	}
	m.complete(ctx, id)
}

func (m *Manager) onUploadFailed(ctx context.Context, id string, cfg Config, job upload.Status) {
	st, err := m.Status(id)
	if err != nil || st.Stage.Terminal() {
		return
	}

	if !st.EarlySent {
		text := fmt.Sprintf("Recording %s could not be uploaded: %s", job.Name, job.Error)
		if err := m.notifier.Send(ctx, cfg.Destination, text); err != nil {
			m.logger.Error(ctx, "failure notification failed", "trigger_id", id, "error", err)
			m.transition(id, func(st *Status) { st.NotifyError = err.Error() })
		}
	}
	m.fail(ctx, id, fmt.Errorf("upload failed: %s", job.Error))
}

// refreshLocation stores the provider's current fix on the trigger, bounded
// by the configured timeout. Unavailability just leaves the previous fix.
func (m *Manager) refreshLocation(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, m.locationTimeout)
	defer cancel()
	fix := m.locator.Current(ctx)
	if !fix.Available {
		return
	}
	m.transition(id, func(st *Status) { st.Location = fix })
}

func locationText(fix location.Fix) string {
	if !fix.Available {
		return "Location: not available."
	}
	return fmt.Sprintf("Location: %.6f,%.6f.", fix.Latitude, fix.Longitude)
}

// advance moves the trigger forward to stage; it refuses to move backwards
// or out of a terminal stage, and reports whether the move happened.
func (m *Manager) advance(id string, stage Stage) bool {
	moved := false
	m.transition(id, func(st *Status) {
		if st.Stage.Terminal() || stage.rank() <= st.Stage.rank() {
			return
		}
		st.Stage = stage
		moved = true
	})
	return moved
}

func (m *Manager) complete(ctx context.Context, id string) {
	m.transition(id, func(st *Status) {
		if st.Stage.Terminal() {
			return
		}
		st.Stage = StageCompleted
		st.FinishedAt = time.Now()
	})
	m.logger.Info(ctx, "trigger completed", "trigger_id", id)
}

func (m *Manager) fail(ctx context.Context, id string, cause error) {
	m.transition(id, func(st *Status) {
		if st.Stage.Terminal() {
			return
		}
		st.Stage = StageFailed
		st.Error = cause.Error()
		st.FinishedAt = time.Now()
	})
	m.logger.Error(ctx, "trigger failed", "trigger_id", id, "error", cause)
}

func (m *Manager) transition(id string, fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.triggers[id]; ok {
		fn(&j.status)
	}
}
