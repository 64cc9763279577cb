package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/univ-capstone/modelvideo/internal/ledger"
	"github.com/univ-capstone/modelvideo/internal/metrics"
	"github.com/univ-capstone/modelvideo/internal/producer"
	"github.com/univ-capstone/modelvideo/internal/readiness"
)

// Runner drains pending runs queued through the API, one at a time.
type Runner struct {
	service      *Service
	repo         ledger.Repository
	producer     producer.Producer
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo ledger.Repository, prod producer.Producer, logger *slog.Logger) *Runner {
	if prod == nil {
		prod = producer.StubProducer{}
	}
	return &Runner{
		service:      service,
		repo:         repo,
		producer:     prod,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks until ctx is done. Runs left running by a previous process are
// failed first.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	if n, err := r.repo.FailInterruptedRuns(ctx); err != nil {
		r.logger.Error("failed to mark interrupted runs", "error", err)
	} else if n > 0 {
		r.logger.Warn("marked interrupted runs as failed", "count", n)
	}

	r.logger.Info("upload runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("upload runner stopping")
			return
		case <-ticker.C:
		case <-r.wake:
		}
		for ctx.Err() == nil && !r.paused.Load() {
			if !r.processNext(ctx) {
				break
			}
		}
	}
}

// Notify asks the runner to poll now instead of at the next tick.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("upload runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("upload runner resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNext handles the oldest pending run and reports whether the drain
// should continue.
func (r *Runner) processNext(ctx context.Context) bool {
	runs, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return false
	}
	if len(runs) == 0 {
		return false
	}

	run := runs[0]
	r.logger.Info("processing upload run", "run_id", run.ID, "user_id", run.UserID)

	// A run that cannot leave pending would be selected again on every pass.
	if err := r.repo.UpdateRunStatus(ctx, run.ID, ledger.StatusRunning, ""); err != nil {
		r.logger.Error("failed to mark run running, stopping drain", "run_id", run.ID, "error", err)
		return false
	}

	var waiter readiness.Waiter
	if _, stub := r.producer.(producer.StubProducer); !stub {
		start := time.Now()
		result, err := r.producer.Produce(ctx, run.UserID, run.VideoPath)
		r.service.metrics.ObserveStage(metrics.StageProduce, time.Since(start))
		if err != nil {
			r.markFailed(ctx, run, fmt.Sprintf("producer error: %v", err))
			return true
		}
		if !result.IsSuccess() {
			r.markFailed(ctx, run, fmt.Sprintf("producer exited %d: %s", result.ExitCode, producer.Truncate(result.StderrTail, 512)))
			return true
		}
		// The producer has exited, so the file is complete.
		waiter = readiness.Immediate{}
	}

	if _, err := r.service.Process(ctx, run, waiter); err != nil {
		r.logger.Error("upload run failed", "run_id", run.ID, "error", err)
	}
	return true
}

func (r *Runner) markFailed(ctx context.Context, run *ledger.Run, msg string) {
	if err := r.repo.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, ledger.StatusFailed, msg); err != nil {
		r.logger.Error("failed to update run status", "run_id", run.ID, "error", err)
	}
	r.service.metrics.ObserveRun(metrics.ResultFailed)
	r.logger.Warn("upload run failed", "run_id", run.ID, "error", msg)
}

// ActiveRuns counts runs currently in progress.
func (r *Runner) ActiveRuns(ctx context.Context) int {
	runs, err := r.repo.ListRuns(ctx, "", 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, run := range runs {
		if run.Status == ledger.StatusRunning {
			count++
		}
	}
	return count
}
