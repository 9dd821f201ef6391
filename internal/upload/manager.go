package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/logging"
	"github.com/dmitrijs2005/camwatch/internal/storage/drive"
)

// Storage is the slice of the object-storage client the engine consumes.
// *drive.Client satisfies it; tests substitute fakes.
type Storage interface {
	SimpleUpload(ctx context.Context, meta drive.FileMeta, r io.Reader) (*drive.Object, error)
	CreateSession(ctx context.Context, meta drive.FileMeta, size int64) (string, error)
	UploadChunk(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (*drive.ChunkResult, error)
	MakePublic(ctx context.Context, fileID string) error
}

// Manager runs upload jobs and keeps their in-memory table. Jobs are never
// evicted, so the table grows for the lifetime of the process; callers poll
// until a terminal state and then drop the id.
type Manager struct {
	storage Storage
	logger  logging.Logger

	chunkSize       int64
	simpleThreshold int64
	maxAttempts     int
	backoffBase     time.Duration
	defaultFolderID string

	// maxSessionRestarts bounds how many times an expired resumable session
	// is re-initiated before the job is failed.
	maxSessionRestarts int

	mu   sync.RWMutex
	jobs map[string]*job
	subs map[string][]chan Event
}

type job struct {
	status   Status
	canceled bool
	cancel   context.CancelFunc
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

func WithChunkSize(n int64) ManagerOption {
	return func(m *Manager) { m.chunkSize = n }
}

func WithSimpleThreshold(n int64) ManagerOption {
	return func(m *Manager) { m.simpleThreshold = n }
}

func WithRetryPolicy(attempts int, backoffBase time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxAttempts = attempts
		m.backoffBase = backoffBase
	}
}

// WithDefaultFolder sets the destination folder used when a job does not
// name one.
func WithDefaultFolder(id string) ManagerOption {
	return func(m *Manager) { m.defaultFolderID = id }
}

// NewManager creates a transfer engine backed by the given storage client.
func NewManager(storage Storage, logger logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage:            storage,
		logger:             logger.With("component", "upload_manager"),
		chunkSize:          common.ChunkSize,
		simpleThreshold:    common.SimpleUploadThreshold,
		maxAttempts:        common.MaxChunkAttempts,
		backoffBase:        time.Second,
		maxSessionRestarts: 3,
		jobs:               make(map[string]*job),
		subs:               make(map[string][]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartUpload registers a new job and launches the transfer in the
// background. It never blocks on network I/O; the returned snapshot is the
// job in its Pending state.
//
// Returns common.ErrNotFound when the source path does not exist at call
// time.
func (m *Manager) StartUpload(ctx context.Context, path string, opts Options) (Status, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Status{}, fmt.Errorf("%w: source file %s", common.ErrNotFound, path)
	}
	if info.IsDir() {
		return Status{}, fmt.Errorf("%w: %s is a directory", common.ErrValidation, path)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	folderID := opts.FolderID
	if folderID == "" {
		folderID = m.defaultFolderID
	}

	st := Status{
		ID:         uuid.NewString(),
		SourcePath: path,
		Name:       name,
		MimeType:   mimeType,
		FolderID:   folderID,
		State:      StatePending,
		BytesTotal: info.Size(),
		StartedAt:  time.Now(),
	}

	// The transfer outlives the request that started it; it gets its own
	// context, canceled only via Cancel.
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.jobs[st.ID] = &job{status: st, cancel: cancel}
	m.mu.Unlock()

	m.logger.Info(ctx, "upload started",
		"job_id", st.ID, "path", path, "size", info.Size())

	go m.run(runCtx, st.ID)

	return st, nil
}

// Status returns a snapshot of one job.
func (m *Manager) Status(jobID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return Status{}, fmt.Errorf("%w: upload job %s", common.ErrNotFound, jobID)
	}
	return j.status, nil
}

// Statuses returns snapshots of all known jobs.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.status)
	}
	return out
}

// Cancel moves a non-terminal job to Canceled and returns true. Unknown or
// already-terminal jobs return false; cancellation is idempotent-safe and
// never raises an error. Bytes already accepted by the remote session are
// not reclaimed.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.status.State.Terminal() {
		return false
	}

	j.canceled = true
	j.status.State = StateCanceled
	j.status.FinishedAt = time.Now()
	j.cancel()
	m.closeSubsLocked(jobID)

	m.logger.Info(context.Background(), "upload canceled", "job_id", jobID)
	return true
}

// run drives one job to a terminal state.
func (m *Manager) run(ctx context.Context, jobID string) {
	st, ok := m.transition(jobID, func(s *Status) {
		s.State = StateUploading
	})
	if !ok {
		return // canceled before the goroutine got scheduled
	}

	if st.BytesTotal <= m.simpleThreshold {
		m.runSimple(ctx, jobID, st)
		return
	}
	m.runResumable(ctx, jobID, st)
}

// runSimple sends the whole payload in one request.
func (m *Manager) runSimple(ctx context.Context, jobID string, st Status) {
	f, err := os.Open(st.SourcePath)
	if err != nil {
		m.fail(ctx, jobID, fmt.Errorf("%w: opening %s: %v", common.ErrNotFound, st.SourcePath, err))
		return
	}
	defer f.Close()

	obj, err := m.storage.SimpleUpload(ctx, m.fileMeta(st), f)
	if err != nil {
		m.fail(ctx, jobID, err)
		return
	}

	m.progress(jobID, st.BytesTotal)
	m.complete(ctx, jobID, obj)
}

// runResumable streams the payload in fixed-size chunks over a resumable
// session, restarting the session when the backend reports it expired.
func (m *Manager) runResumable(ctx context.Context, jobID string, st Status) {
	f, err := os.Open(st.SourcePath)
	if err != nil {
		m.fail(ctx, jobID, fmt.Errorf("%w: opening %s: %v", common.ErrNotFound, st.SourcePath, err))
		return
	}
	defer f.Close()

	meta := m.fileMeta(st)
	total := st.BytesTotal

	sessionURI, err := m.storage.CreateSession(ctx, meta, total)
	if err != nil {
		m.fail(ctx, jobID, err)
		return
	}

	var offset int64
	restarts := 0
	buf := make([]byte, m.chunkSize)

	for offset < total {
		if m.isCanceled(jobID) || ctx.Err() != nil {
			return
		}

		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			m.fail(ctx, jobID, fmt.Errorf("reading chunk at %d: %w", offset, err))
			return
		}
		if n == 0 {
			m.fail(ctx, jobID, fmt.Errorf("%w: file truncated at %d", common.ErrNetwork, offset))
			return
		}

		res, err := m.writeChunkWithRetry(ctx, sessionURI, buf[:n], offset, total)
		if err != nil {
			if errorsIsSessionExpired(err) {
				// Re-initiate and re-stream from byte zero. Byte accounting
				// is not reconciled with what the remote kept; the published
				// counter is clamped monotone instead.
				restarts++
				if restarts > m.maxSessionRestarts {
					m.fail(ctx, jobID, fmt.Errorf("%w: session expired %d times", common.ErrMaxRetriesExceeded, restarts))
					return
				}
				m.logger.Warn(ctx, "upload session expired, restarting",
					"job_id", jobID, "restarts", restarts)
				sessionURI, err = m.storage.CreateSession(ctx, meta, total)
				if err != nil {
					m.fail(ctx, jobID, err)
					return
				}
				offset = 0
				continue
			}
			m.fail(ctx, jobID, err)
			return
		}

		if res.Done {
			m.progress(jobID, total)
			m.complete(ctx, jobID, res.Object)
			return
		}

		if res.NextOffset >= 0 {
			offset = res.NextOffset
		} else {
			// Server did not report a usable range; advance optimistically
			// by the chunk size. Lossy heuristic, not a correctness
			// guarantee.
			offset += int64(n)
		}
		m.progress(jobID, offset)
	}

	// Loop exhausted without a terminal response from the backend.
	m.fail(ctx, jobID, fmt.Errorf("%w: session never finalized", common.ErrNetwork))
}

// writeChunkWithRetry retries one byte-range write with exponential backoff.
// Session expiry aborts the retry loop immediately; transport errors are
// retried up to the configured attempt budget.
func (m *Manager) writeChunkWithRetry(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (*drive.ChunkResult, error) {
	var res *drive.ChunkResult

	backoff := retry.WithMaxRetries(uint64(m.maxAttempts-1), retry.NewExponential(m.backoffBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := m.storage.UploadChunk(ctx, sessionURI, chunk, offset, total)
		if err != nil {
			if errorsIsSessionExpired(err) {
				return err // not retryable at chunk level
			}
			m.logger.Warn(ctx, "chunk write failed, will retry",
				"offset", offset, "error", err.Error())
			return retry.RetryableError(err)
		}
		res = r
		return nil
	})
	if err != nil {
		if errorsIsSessionExpired(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: chunk at %d: %v", common.ErrMaxRetriesExceeded, offset, err)
	}
	return res, nil
}

func (m *Manager) fileMeta(st Status) drive.FileMeta {
	return drive.FileMeta{Name: st.Name, MimeType: st.MimeType, FolderID: st.FolderID}
}

// transition applies fn to a job's status unless the job is already
// terminal. It returns the updated snapshot and whether fn was applied.
func (m *Manager) transition(jobID string, fn func(*Status)) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.status.State.Terminal() {
		return Status{}, false
	}
	fn(&j.status)
	j.status.Percent = percent(j.status.BytesTransferred, j.status.BytesTotal, j.status.State)
	return j.status, true
}

// progress records newly confirmed bytes and emits a progress event. The
// published counter never decreases, even across a session restart.
func (m *Manager) progress(jobID string, transferred int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.status.State.Terminal() {
		return
	}
	if transferred > j.status.BytesTransferred {
		j.status.BytesTransferred = transferred
	}
	j.status.Percent = percent(j.status.BytesTransferred, j.status.BytesTotal, j.status.State)
	m.publishLocked(jobID, Event{Kind: EventProgress, Job: j.status})
}

// complete moves a job to Completed, publishes the terminal event, and then
// issues the best-effort make-public call.
func (m *Manager) complete(ctx context.Context, jobID string, obj *drive.Object) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok || j.status.State.Terminal() {
		m.mu.Unlock()
		return
	}
	j.status.State = StateCompleted
	j.status.BytesTransferred = j.status.BytesTotal
	j.status.Percent = 100
	j.status.FinishedAt = time.Now()
	if obj != nil {
		j.status.ObjectID = obj.ID
		j.status.ViewLink = obj.WebViewLink
		j.status.ContentLink = obj.WebContentLink
	}
	st := j.status
	m.publishLocked(jobID, Event{Kind: EventCompleted, Job: st})
	m.closeSubsLocked(jobID)
	m.mu.Unlock()

	m.logger.Info(ctx, "upload completed",
		"job_id", jobID, "object_id", st.ObjectID, "bytes", st.BytesTotal)

	if st.ObjectID != "" {
		// Idempotent on the backend; a failure leaves the object private
		// but does not fail the job.
		if err := m.storage.MakePublic(ctx, st.ObjectID); err != nil {
			m.logger.Warn(ctx, "make public failed",
				"job_id", jobID, "object_id", st.ObjectID, "error", err.Error())
		}
	}
}

// fail moves a job to Failed and publishes the terminal event.
func (m *Manager) fail(ctx context.Context, jobID string, cause error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok || j.status.State.Terminal() {
		m.mu.Unlock()
		return
	}
	j.status.State = StateFailed
	j.status.Error = cause.Error()
	j.status.FinishedAt = time.Now()
	j.status.Percent = percent(j.status.BytesTransferred, j.status.BytesTotal, j.status.State)
	st := j.status
	m.publishLocked(jobID, Event{Kind: EventFailed, Job: st})
	m.closeSubsLocked(jobID)
	m.mu.Unlock()

	m.logger.Error(ctx, "upload failed", "job_id", jobID, "error", cause.Error())
}

func (m *Manager) isCanceled(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	return !ok || j.canceled
}

func errorsIsSessionExpired(err error) bool {
	return errors.Is(err, common.ErrSessionExpired)
}
