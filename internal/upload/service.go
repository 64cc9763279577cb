// Package upload publishes a user's model video: it waits for the local file,
// streams it to object storage, makes it public and records the URL on the
// user's model document.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/univ-capstone/modelvideo/internal/events"
	"github.com/univ-capstone/modelvideo/internal/ledger"
	"github.com/univ-capstone/modelvideo/internal/lock"
	"github.com/univ-capstone/modelvideo/internal/logging"
	"github.com/univ-capstone/modelvideo/internal/metrics"
	"github.com/univ-capstone/modelvideo/internal/objectstore"
	"github.com/univ-capstone/modelvideo/internal/readiness"
	"github.com/univ-capstone/modelvideo/internal/records"
	"github.com/univ-capstone/modelvideo/internal/retry"
)

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrRecordWrite   = errors.New("model record write failed")
)

// PlaceholderUserID may appear in Options.VideoPath to give each user a
// separate local file.
const PlaceholderUserID = "{user_id}"

var reservedID = regexp.MustCompile(`^__.*__$`)

// ValidateUserID rejects ids that cannot name a single path segment in both
// the bucket and the document tree. Firestore reserves __*__ ids and caps ids
// at 1500 bytes. Anything else is used verbatim.
func ValidateUserID(userID string) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case strings.Contains(userID, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidUserID, userID)
	case userID == "." || userID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	case reservedID.MatchString(userID):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidUserID, userID)
	case len(userID) > 1500:
		return fmt.Errorf("%w: longer than 1500 bytes", ErrInvalidUserID)
	}
	return nil
}

type Options struct {
	VideoPath      string
	ObjectFileName string
	ModelID        string
	Retry          retry.Policy
}

// Deps are the collaborators of a Service. Objects, Records and Waiter are
// required; the rest are optional.
type Deps struct {
	Objects   objectstore.Store
	Records   records.Store
	Waiter    readiness.Waiter
	Ledger    ledger.Repository
	Locker    lock.Locker
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Service struct {
	objects   objectstore.Store
	records   records.Store
	waiter    readiness.Waiter
	ledger    ledger.Repository
	locker    lock.Locker
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	opts Options
	now  func() time.Time
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Objects == nil || deps.Records == nil || deps.Waiter == nil {
		return nil, errors.New("upload service requires an object store, a record store and a readiness waiter")
	}
	if opts.VideoPath == "" || opts.ObjectFileName == "" || opts.ModelID == "" {
		return nil, errors.New("upload service requires video path, object file name and model id")
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	s := &Service{
		objects:   deps.Objects,
		records:   deps.Records,
		waiter:    deps.Waiter,
		ledger:    deps.Ledger,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s, nil
}

type Result struct {
	RunID        string
	UserID       string
	ObjectPath   string
	DocumentPath string
	URL          string
	Size         int64
	Format       string
	Duration     time.Duration
}

// ConfirmationLine is the single line printed once the record is written.
func ConfirmationLine(res *Result) string {
	return fmt.Sprintf("Video URL %s added to Firestore under %s", res.URL, res.DocumentPath)
}

// NewRun describes the run for userID without persisting it.
func (s *Service) NewRun(userID string) *ledger.Run {
	now := s.now()
	return &ledger.Run{
		ID:           ledger.NewID(),
		UserID:       userID,
		ModelID:      s.opts.ModelID,
		VideoPath:    s.VideoPath(userID),
		ObjectPath:   objectstore.ObjectPath(userID, s.opts.ObjectFileName),
		DocumentPath: records.DocumentPath(userID, s.opts.ModelID),
		Status:       ledger.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Service) VideoPath(userID string) string {
	return strings.ReplaceAll(s.opts.VideoPath, PlaceholderUserID, userID)
}

// Enqueue stores a pending run for the background runner.
func (s *Service) Enqueue(ctx context.Context, userID string) (*ledger.Run, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, errors.New("enqueue requires a ledger")
	}

	run := s.NewRun(userID)
	if err := s.ledger.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.logger.Info("upload run queued", "run_id", run.ID, "user_id", userID)
	return run, nil
}

// Run publishes userID's video now, using the configured readiness waiter.
func (s *Service) Run(ctx context.Context, userID string) (*Result, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	run := s.NewRun(userID)
	if s.ledger != nil {
		if err := s.ledger.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}
	return s.Process(ctx, run, s.waiter)
}

// Process executes a run that already exists. A nil waiter means the
// configured one.
func (s *Service) Process(ctx context.Context, run *ledger.Run, waiter readiness.Waiter) (*Result, error) {
	if waiter == nil {
		waiter = s.waiter
	}

	start := s.now()
	logger := logging.WithUserID(logging.WithRunID(s.logger, run.ID), run.UserID)

	lease, err := s.locker.Acquire(ctx, run.UserID)
	if err != nil {
		return nil, s.fail(ctx, run, logger, "lock", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release user lock", "error", err)
		}
	}()

	s.setStatus(ctx, run, ledger.StatusRunning, "")

	stageStart := s.now()
	err = waiter.Wait(ctx, readiness.Target{UserID: run.UserID, Path: run.VideoPath})
	s.metrics.ObserveStage(metrics.StageReady, s.now().Sub(stageStart))
	if err != nil {
		return nil, s.fail(ctx, run, logger, "wait for video", err)
	}

	format, err := readiness.Sniff(run.VideoPath)
	if err != nil {
		return nil, s.fail(ctx, run, logger, "inspect video", err)
	}
	logger.Info("video ready", "path", logging.SanitizePath(run.VideoPath), "format", format)

	var obj *objectstore.Object
	stageStart = s.now()
	err = retry.Do(ctx, s.policy(logger, "upload"), func(ctx context.Context) error {
		var uerr error
		obj, uerr = s.objects.Upload(ctx, run.ObjectPath, run.VideoPath)
		return uerr
	})
	s.metrics.ObserveStage(metrics.StageUpload, s.now().Sub(stageStart))
	if err != nil {
		return nil, s.fail(ctx, run, logger, "upload "+run.ObjectPath, err)
	}
	s.metrics.AddUploadBytes(obj.Size)
	logger.Info("video uploaded", "object", run.ObjectPath, "bytes", obj.Size)

	stageStart = s.now()
	err = retry.Do(ctx, s.policy(logger, "make_public"), func(ctx context.Context) error {
		return s.objects.MakePublic(ctx, run.ObjectPath)
	})
	s.metrics.ObserveStage(metrics.StagePublic, s.now().Sub(stageStart))
	if err != nil {
		return nil, s.fail(ctx, run, logger, "make public "+run.ObjectPath, err)
	}

	url := s.objects.PublicURL(run.ObjectPath)
	run.URL = url
	run.Size = obj.Size
	if s.ledger != nil {
		if lerr := s.ledger.UpdateRunResult(context.WithoutCancel(ctx), run.ID, ledger.StatusUploaded, url, obj.Size); lerr != nil {
			logger.Warn("failed to record upload result", "error", lerr)
		}
	}
	run.Status = ledger.StatusUploaded

	stageStart = s.now()
	err = retry.Do(ctx, s.policy(logger, "record"), func(ctx context.Context) error {
		return s.records.SetVideoURL(ctx, run.UserID, run.ModelID, url)
	})
	s.metrics.ObserveStage(metrics.StageRecord, s.now().Sub(stageStart))
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRecordWrite, run.DocumentPath, err)
		// The object stays public; the run keeps StatusUploaded so the
		// inconsistency is visible.
		s.setStatus(ctx, run, ledger.StatusUploaded, err.Error())
		s.metrics.ObserveRun(metrics.ResultUploaded)
		logger.Error("model record write failed after upload", "document", run.DocumentPath, "url", url, "error", err)
		return nil, err
	}

	s.setStatus(ctx, run, ledger.StatusCompleted, "")
	s.metrics.ObserveRun(metrics.ResultCompleted)

	res := &Result{
		RunID:        run.ID,
		UserID:       run.UserID,
		ObjectPath:   run.ObjectPath,
		DocumentPath: run.DocumentPath,
		URL:          url,
		Size:         obj.Size,
		Format:       format,
		Duration:     s.now().Sub(start),
	}

	event := &events.UploadedEvent{
		RunID:        res.RunID,
		UserID:       res.UserID,
		ObjectPath:   res.ObjectPath,
		DocumentPath: res.DocumentPath,
		URL:          res.URL,
		UploadedAt:   s.now().UTC(),
	}
	if perr := s.publisher.PublishUploaded(context.WithoutCancel(ctx), event); perr != nil {
		logger.Warn("failed to publish upload event", "error", perr)
	}

	logger.Info("model video published", "document", res.DocumentPath, "url", res.URL, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (s *Service) policy(logger *slog.Logger, op string) retry.Policy {
	p := s.opts.Retry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.metrics.ObserveRetry(op)
		logger.Warn("transient failure, retrying", "op", op, "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
	}
	return p
}

func (s *Service) fail(ctx context.Context, run *ledger.Run, logger *slog.Logger, stage string, err error) error {
	err = fmt.Errorf("%s: %w", stage, err)
	s.setStatus(ctx, run, ledger.StatusFailed, err.Error())
	s.metrics.ObserveRun(metrics.ResultFailed)
	logger.Error("upload run failed", "stage", stage, "error", err)
	return err
}

func (s *Service) setStatus(ctx context.Context, run *ledger.Run, status, errMsg string) {
	run.Status = status
	run.Error = errMsg
	if s.ledger == nil {
		return
	}
	if err := s.ledger.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, status, errMsg); err != nil {
		s.logger.Warn("failed to update run status", "run_id", run.ID, "status", status, "error", err)
	}
}
