package readiness

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/univ-capstone/modelvideo/internal/watcher"
)

// WatchWaiter treats the file as ready once it exists and fsnotify has been
// quiet about it for QuietPeriod. If the watcher cannot be started it
// delegates to Fallback.
type WatchWaiter struct {
	QuietPeriod time.Duration
	Timeout     time.Duration
	Fallback    Waiter

	logger     *slog.Logger
	newWatcher func() (watcher.Watcher, error)
}

func NewWatchWaiter(quiet, timeout time.Duration, fallback Waiter, logger *slog.Logger) *WatchWaiter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WatchWaiter{
		QuietPeriod: quiet,
		Timeout:     timeout,
		Fallback:    fallback,
		logger:      logger,
		newWatcher: func() (watcher.Watcher, error) {
			return watcher.NewFSWatcher(logger)
		},
	}
}

func (w *WatchWaiter) Wait(ctx context.Context, target Target) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	path := filepath.Clean(target.Path)

	fw, err := w.newWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return w.fallback(ctx, target)
	}
	defer fw.Stop()

	changed := make(chan struct{}, 1)
	fw.OnChange(func(p string, _ watcher.EventType) {
		if p != path {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := fw.Watch(waitCtx, filepath.Dir(path)); err != nil {
		w.logger.Warn("cannot watch video directory, falling back to polling", "dir", filepath.Dir(path), "error", err)
		return w.fallback(ctx, target)
	}

	quiet := time.NewTimer(w.QuietPeriod)
	defer quiet.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return timeoutErr(ctx, target.Path)
		case <-changed:
			quiet.Reset(w.QuietPeriod)
		case <-quiet.C:
			if requireFile(path) == nil {
				return nil
			}
			quiet.Reset(w.QuietPeriod)
		}
	}
}

func (w *WatchWaiter) fallback(ctx context.Context, target Target) error {
	if w.Fallback == nil {
		return requireFile(target.Path)
	}
	return w.Fallback.Wait(ctx, target)
}
