package upload

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/univ-capstone/modelvideo/internal/db"
	"github.com/univ-capstone/modelvideo/internal/events"
	"github.com/univ-capstone/modelvideo/internal/ledger"
	"github.com/univ-capstone/modelvideo/internal/lock"
	"github.com/univ-capstone/modelvideo/internal/metrics"
	"github.com/univ-capstone/modelvideo/internal/objectstore"
	"github.com/univ-capstone/modelvideo/internal/readiness"
	"github.com/univ-capstone/modelvideo/internal/records"
	"github.com/univ-capstone/modelvideo/internal/retry"
)

const testBucket = "univ-capstone2024.appspot.com"

var mp4Bytes = append([]byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0}, make([]byte, 240)...)

type fixture struct {
	svc       *Service
	objects   *objectstore.MemoryStore
	records   *records.MemoryStore
	ledger    *ledger.SQLiteRepository
	locker    *lock.LocalLocker
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	videoPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	database, err := db.New(context.Background(), filepath.Join(dir, "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		objects:   objectstore.NewMemoryStore(testBucket),
		records:   records.NewMemoryStore(),
		ledger:    ledger.NewRepository(database.Conn()),
		locker:    lock.NewLocalLocker(),
		publisher: &recordingPublisher{},
		metrics:   metrics.New(),
		videoPath: filepath.Join(dir, "videos", "test.mp4"),
	}

	svc, err := NewService(Deps{
		Objects:   f.objects,
		Records:   f.records,
		Waiter:    readiness.Immediate{},
		Ledger:    f.ledger,
		Locker:    f.locker,
		Publisher: f.publisher,
		Metrics:   f.metrics,
	}, Options{
		VideoPath:      f.videoPath,
		ObjectFileName: "test.mp4",
		ModelID:        "model1",
		Retry: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) writeVideo(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.videoPath), 0755))
	require.NoError(t, os.WriteFile(f.videoPath, mp4Bytes, 0644))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.UploadedEvent
	err    error
}

func (p *recordingPublisher) PublishUploaded(ctx context.Context, e *events.UploadedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func TestRun_PublishesVideoAndRecordsURL(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	ctx := context.Background()

	res, err := f.svc.Run(ctx, "U")
	require.NoError(t, err)

	assert.Equal(t, "users/U/models/test.mp4", res.ObjectPath)
	assert.Equal(t, "users/U/models/model1", res.DocumentPath)
	assert.Equal(t, "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/U/models/test.mp4", res.URL)
	assert.Equal(t, int64(len(mp4Bytes)), res.Size)
	assert.Equal(t, "mp4", res.Format)

	data, public, ok := f.objects.Get("users/U/models/test.mp4")
	require.True(t, ok)
	assert.True(t, public)
	assert.Equal(t, mp4Bytes, data)

	rec, err := f.records.Get(ctx, "U", "model1")
	require.NoError(t, err)
	assert.Equal(t, res.URL, rec.VideoURL)

	assert.Equal(t,
		"Video URL https://storage.googleapis.com/univ-capstone2024.appspot.com/users/U/models/test.mp4 added to Firestore under users/U/models/model1",
		ConfirmationLine(res))

	run, err := f.ledger.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, run.Status)
	assert.Equal(t, res.URL, run.URL)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, res.URL, f.publisher.events[0].URL)
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(`
# HELP modelvideo_runs_total Upload runs by final result
# TYPE modelvideo_runs_total counter
modelvideo_runs_total{result="completed"} 1
`), "modelvideo_runs_total"))
}

func TestRun_ReinvocationOverwrites(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	ctx := context.Background()

	first, err := f.svc.Run(ctx, "U")
	require.NoError(t, err)
	second, err := f.svc.Run(ctx, "U")
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, f.objects.Uploads())
	assert.Len(t, f.objects.Paths(), 1)
	assert.Equal(t, 1, f.records.Len())
	assert.Equal(t, 2, f.records.Writes())
}

func TestRun_DistinctUsersAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	ctx := context.Background()

	r1, err := f.svc.Run(ctx, "alice")
	require.NoError(t, err)
	r2, err := f.svc.Run(ctx, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, r1.ObjectPath, r2.ObjectPath)
	assert.NotEqual(t, r1.DocumentPath, r2.DocumentPath)

	a, err := f.records.Get(ctx, "alice", "model1")
	require.NoError(t, err)
	b, err := f.records.Get(ctx, "bob", "model1")
	require.NoError(t, err)
	assert.Equal(t, r1.URL, a.VideoURL)
	assert.Equal(t, r2.URL, b.VideoURL)
}

func TestRun_MissingVideoTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Run(ctx, "U")
	require.ErrorIs(t, err, readiness.ErrNotReady)

	assert.Empty(t, f.objects.Paths())
	assert.Equal(t, 0, f.records.Len())

	runs, err := f.ledger.ListRuns(ctx, "U", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "wait for video")
}

func TestRun_NonVideoFileRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.videoPath), 0755))
	require.NoError(t, os.WriteFile(f.videoPath, []byte("<html>render failed</html>"), 0644))

	_, err := f.svc.Run(context.Background(), "U")
	require.ErrorIs(t, err, readiness.ErrNotVideo)
	assert.Empty(t, f.objects.Paths())
	assert.Equal(t, 0, f.records.Len())
}

func TestRun_ThreeGPVideoPublished(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.videoPath), 0755))
	video := append([]byte("\x00\x00\x00\x14ftyp3gp4\x00\x00\x02\x00"), make([]byte, 128)...)
	require.NoError(t, os.WriteFile(f.videoPath, video, 0644))

	res, err := f.svc.Run(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, "mp4", res.Format)
	assert.Equal(t, 1, f.objects.Uploads())
	assert.Equal(t, 1, f.records.Writes())
}

func TestRun_InvalidUserID(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)

	for _, uid := range []string{"", "a/b", ".", "..", "__meta__"} {
		t.Run(uid, func(t *testing.T) {
			_, err := f.svc.Run(context.Background(), uid)
			assert.ErrorIs(t, err, ErrInvalidUserID)
		})
	}

	assert.Empty(t, f.objects.Paths())
	runs, err := f.ledger.ListRuns(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_RetriesTransientUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)

	calls := 0
	f.objects.UploadFn = func(string) error {
		calls++
		if calls == 1 {
			return &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend error"}
		}
		return nil
	}

	res, err := f.svc.Run(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotEmpty(t, res.URL)

	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(`
# HELP modelvideo_retries_total Retried attempts by operation
# TYPE modelvideo_retries_total counter
modelvideo_retries_total{op="upload"} 1
`), "modelvideo_retries_total"))
}

func TestRun_PermanentUploadFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)

	calls := 0
	forbidden := &googleapi.Error{Code: http.StatusForbidden, Message: "permission denied"}
	f.objects.UploadFn = func(string) error {
		calls++
		return forbidden
	}

	_, err := f.svc.Run(context.Background(), "U")
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*googleapi.Error))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.records.Len())
}

func TestRun_TransientFailuresExhausted(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)

	calls := 0
	f.objects.MakePublicFn = func(string) error {
		calls++
		return &googleapi.Error{Code: http.StatusTooManyRequests}
	}

	_, err := f.svc.Run(context.Background(), "U")
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, f.records.Len())
}

func TestRun_RecordWriteFailureLeavesObjectUploaded(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	ctx := context.Background()

	denied := errors.New("permission denied on document")
	f.records.SetFn = func(string) error { return denied }

	_, err := f.svc.Run(ctx, "U")
	require.ErrorIs(t, err, ErrRecordWrite)
	require.ErrorIs(t, err, denied)

	_, public, ok := f.objects.Get("users/U/models/test.mp4")
	assert.True(t, ok, "upload is not rolled back")
	assert.True(t, public)

	runs, err := f.ledger.ListRuns(ctx, "U", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.StatusUploaded, runs[0].Status)
	assert.NotEmpty(t, runs[0].URL)
	assert.Empty(t, f.publisher.events)
}

func TestRun_UserLockHeld(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	ctx := context.Background()

	lease, err := f.locker.Acquire(ctx, "U")
	require.NoError(t, err)
	defer lease.Release(ctx)

	_, err = f.svc.Run(ctx, "U")
	assert.ErrorIs(t, err, lock.ErrHeld)
	assert.Empty(t, f.objects.Paths())
}

func TestRun_PublisherFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)
	f.publisher.err = errors.New("nats down")

	res, err := f.svc.Run(context.Background(), "U")
	require.NoError(t, err)
	assert.NotEmpty(t, res.URL)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.writeVideo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Run(ctx, "U")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.records.Len())
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.svc.Enqueue(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, run.Status)

	pending, err := f.ledger.ListPendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, run.ID, pending[0].ID)

	_, err = f.svc.Enqueue(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestEnqueue_RequiresLedger(t *testing.T) {
	svc, err := NewService(Deps{
		Objects: objectstore.NewMemoryStore(testBucket),
		Records: records.NewMemoryStore(),
		Waiter:  readiness.Immediate{},
	}, Options{VideoPath: "v.mp4", ObjectFileName: "test.mp4", ModelID: "model1"})
	require.NoError(t, err)

	_, err = svc.Enqueue(context.Background(), "U")
	assert.Error(t, err)
}

func TestVideoPath_PerUserPlaceholder(t *testing.T) {
	svc, err := NewService(Deps{
		Objects: objectstore.NewMemoryStore(testBucket),
		Records: records.NewMemoryStore(),
		Waiter:  readiness.Immediate{},
	}, Options{VideoPath: "videos/{user_id}/test.mp4", ObjectFileName: "test.mp4", ModelID: "model1"})
	require.NoError(t, err)

	assert.Equal(t, "videos/U9/test.mp4", svc.VideoPath("U9"))
	assert.Equal(t, "videos/U9/test.mp4", svc.NewRun("U9").VideoPath)
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(Deps{}, Options{VideoPath: "v", ObjectFileName: "o", ModelID: "m"})
	assert.Error(t, err)

	_, err = NewService(Deps{
		Objects: objectstore.NewMemoryStore(testBucket),
		Records: records.NewMemoryStore(),
		Waiter:  readiness.Immediate{},
	}, Options{})
	assert.Error(t, err)
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("kX9f2LmQ0aZ"))
	assert.NoError(t, ValidateUserID("user.name"))
	assert.NoError(t, ValidateUserID("  "), "ids are used verbatim")
	assert.NoError(t, ValidateUserID("_x_"))
	assert.ErrorIs(t, ValidateUserID("__x__"), ErrInvalidUserID)
	assert.ErrorIs(t, ValidateUserID(""), ErrInvalidUserID)
	assert.ErrorIs(t, ValidateUserID(string(make([]byte, 1501))), ErrInvalidUserID)
}
