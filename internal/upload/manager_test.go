package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/camwatch/internal/common"
	"github.com/dmitrijs2005/camwatch/internal/logging"
	"github.com/dmitrijs2005/camwatch/internal/storage/drive"
)

// fakeStorage scripts the object-storage backend in memory.
type fakeStorage struct {
	mu sync.Mutex

	simpleCalls  int
	sessionCalls int
	chunkOffsets []int64
	publicIDs    []string

	// chunkErrs is consumed one entry per chunk write; nil entries succeed.
	chunkErrs []error
	// unparsableRange makes incomplete responses report no usable range.
	unparsableRange bool
	// blockChunks, when non-nil, makes chunk writes wait until it is closed.
	blockChunks chan struct{}

	sessionErr error
	simpleErr  error

	obj drive.Object
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		obj: drive.Object{ID: "obj-1", WebViewLink: "https://view/obj-1", WebContentLink: "https://content/obj-1"},
	}
}

func (f *fakeStorage) SimpleUpload(ctx context.Context, meta drive.FileMeta, r io.Reader) (*drive.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simpleCalls++
	if f.simpleErr != nil {
		return nil, f.simpleErr
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	obj := f.obj
	return &obj, nil
}

func (f *fakeStorage) CreateSession(ctx context.Context, meta drive.FileMeta, size int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return "", f.sessionErr
	}
	f.sessionCalls++
	return fmt.Sprintf("session-%d", f.sessionCalls), nil
}

func (f *fakeStorage) UploadChunk(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (*drive.ChunkResult, error) {
	if f.blockChunks != nil {
		select {
		case <-f.blockChunks:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", common.ErrNetwork, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.chunkErrs) > 0 {
		err := f.chunkErrs[0]
		f.chunkErrs = f.chunkErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	f.chunkOffsets = append(f.chunkOffsets, offset)
	received := offset + int64(len(chunk))
	if received >= total {
		obj := f.obj
		return &drive.ChunkResult{Done: true, Object: &obj}, nil
	}
	if f.unparsableRange {
		return &drive.ChunkResult{NextOffset: -1}, nil
	}
	return &drive.ChunkResult{NextOffset: received}, nil
}

func (f *fakeStorage) MakePublic(ctx context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publicIDs = append(f.publicIDs, fileID)
	return nil
}

func (f *fakeStorage) offsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.chunkOffsets...)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// newTestManager uses a tiny chunk size and threshold so tests exercise the
// resumable path with small files.
func newTestManager(f *fakeStorage) *Manager {
	return NewManager(f, testLogger(),
		WithChunkSize(4),
		WithSimpleThreshold(10),
		WithRetryPolicy(common.MaxChunkAttempts, time.Millisecond))
}

func waitTerminal(t *testing.T, m *Manager, jobID string) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		got, err := m.Status(jobID)
		if err != nil {
			return false
		}
		st = got
		return st.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestStartUpload_MissingFile(t *testing.T) {
	m := newTestManager(newFakeStorage())
	_, err := m.StartUpload(context.Background(), filepath.Join(t.TempDir(), "absent.bin"), Options{})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestStartUpload_DefaultsNameAndMime(t *testing.T) {
	m := newTestManager(newFakeStorage())
	path := writeTempFile(t, 5)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "payload.bin", st.Name)
	assert.Equal(t, "application/octet-stream", st.MimeType)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, int64(5), st.BytesTotal)
}

func TestSimplePath_OneRequestAndFullPercent(t *testing.T) {
	f := newFakeStorage()
	m := newTestManager(f)
	path := writeTempFile(t, 10) // at threshold

	st, err := m.StartUpload(context.Background(), path, Options{Name: "clip.mp4", MimeType: "video/mp4"})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, final.BytesTotal, final.BytesTransferred)
	assert.Equal(t, "obj-1", final.ObjectID)
	assert.Equal(t, 1, f.simpleCalls)
	assert.Empty(t, f.offsets(), "simple path must not write chunks")
	assert.Equal(t, []string{"obj-1"}, f.publicIDs)
	assert.False(t, final.FinishedAt.IsZero())
}

func TestResumablePath_ProgressMonotoneAndComplete(t *testing.T) {
	f := newFakeStorage()
	f.blockChunks = make(chan struct{})
	m := newTestManager(f)
	path := writeTempFile(t, 18) // > threshold, 5 chunks of 4

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	// Subscribe before releasing the chunk loop so no event is missed.
	ch, unsub := m.Subscribe(st.ID)
	defer unsub()
	close(f.blockChunks)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, int64(18), final.BytesTransferred)
	assert.Equal(t, 100, final.Percent)

	require.NotEmpty(t, events)
	var progressCount int
	var last int64 = -1
	for _, ev := range events {
		if ev.Kind == EventProgress {
			progressCount++
			require.GreaterOrEqual(t, ev.Job.BytesTransferred, last, "progress must be monotone")
			last = ev.Job.BytesTransferred
		}
	}
	assert.Greater(t, progressCount, 1, "resumable path must emit multiple progress events")
	assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
	assert.Equal(t, []int64{0, 4, 8, 12, 16}, f.offsets())
}

func TestResumablePath_UnparsableRangeAdvancesOptimistically(t *testing.T) {
	f := newFakeStorage()
	f.unparsableRange = true
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, []int64{0, 4, 8}, f.offsets())
}

func TestResumablePath_RetriesThenSucceeds(t *testing.T) {
	f := newFakeStorage()
	f.chunkErrs = []error{
		fmt.Errorf("%w: connection reset", common.ErrNetwork),
		fmt.Errorf("%w: connection reset", common.ErrNetwork),
	}
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateCompleted, final.State)
}

func TestResumablePath_RetriesExhaustedFailsJob(t *testing.T) {
	f := newFakeStorage()
	for i := 0; i < 20; i++ {
		f.chunkErrs = append(f.chunkErrs, fmt.Errorf("%w: connection reset", common.ErrNetwork))
	}
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, common.ErrMaxRetriesExceeded.Error())
}

func TestResumablePath_SessionExpiredRestartsFromZero(t *testing.T) {
	f := newFakeStorage()
	f.chunkErrs = []error{
		nil, // first chunk accepted
		fmt.Errorf("%w: 410 Gone", common.ErrSessionExpired),
	}
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 2, f.sessionCalls, "expired session must be re-initiated")
	// First session accepted offset 0, then the restart re-streamed from 0.
	assert.Equal(t, []int64{0, 0, 4, 8}, f.offsets())
	// Published counter never went backwards.
	assert.Equal(t, int64(12), final.BytesTransferred)
}

func TestResumablePath_RestartBudgetExhausted(t *testing.T) {
	f := newFakeStorage()
	for i := 0; i < 10; i++ {
		f.chunkErrs = append(f.chunkErrs, fmt.Errorf("%w: 410 Gone", common.ErrSessionExpired))
	}
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateFailed, final.State)
}

func TestCancel_Semantics(t *testing.T) {
	f := newFakeStorage()
	f.blockChunks = make(chan struct{})
	m := newTestManager(f)
	path := writeTempFile(t, 12)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Status(st.ID)
		return err == nil && got.State == StateUploading
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, m.Cancel(st.ID))
	got, err := m.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, got.State)

	// Idempotent-safe: second cancel and cancel of unknown ids return false.
	assert.False(t, m.Cancel(st.ID))
	assert.False(t, m.Cancel("no-such-job"))

	close(f.blockChunks)

	// The unwound worker must not resurrect the job.
	time.Sleep(50 * time.Millisecond)
	got, err = m.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, got.State)
}

func TestCancel_CompletedJobReturnsFalse(t *testing.T) {
	f := newFakeStorage()
	m := newTestManager(f)
	path := writeTempFile(t, 5)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)
	waitTerminal(t, m, st.ID)

	assert.False(t, m.Cancel(st.ID))
}

func TestStatus_UnknownJob(t *testing.T) {
	m := newTestManager(newFakeStorage())
	_, err := m.Status("nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestStatuses_ReturnsCopies(t *testing.T) {
	f := newFakeStorage()
	m := newTestManager(f)
	path := writeTempFile(t, 5)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)
	waitTerminal(t, m, st.ID)

	all := m.Statuses()
	require.Len(t, all, 1)
	all[0].State = StateFailed
	all[0].Error = "mutated"

	got, err := m.Status(st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Empty(t, got.Error)
}

func TestSubscribe_UnknownJobYieldsClosedChannel(t *testing.T) {
	m := newTestManager(newFakeStorage())
	ch, unsub := m.Subscribe("nope")
	defer unsub()

	_, open := <-ch
	assert.False(t, open)
}

func TestSimplePath_UploadErrorFailsJob(t *testing.T) {
	f := newFakeStorage()
	f.simpleErr = fmt.Errorf("%w: connection refused", common.ErrNetwork)
	m := newTestManager(f)
	path := writeTempFile(t, 5)

	st, err := m.StartUpload(context.Background(), path, Options{})
	require.NoError(t, err)

	final := waitTerminal(t, m, st.ID)
	assert.Equal(t, StateFailed, final.State)
	assert.Contains(t, final.Error, "connection refused")
}
