// Package readiness decides when a produced video file can be uploaded.
//
// The producer and the uploader share nothing but a path on disk, so a waiter
// either observes the file itself (stable size, fsnotify quiet period, a
// marker file) or listens for an explicit signal on NATS.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrNotReady = errors.New("video not ready")
	ErrNotVideo = errors.New("file is not a recognised video container")
)

const (
	ModeDelay  = "delay"
	ModeStable = "stable"
	ModeWatch  = "watch"
	ModeMarker = "marker"
	ModeNATS   = "nats"
)

// Target identifies the file a waiter blocks on.
type Target struct {
	UserID string
	Path   string
}

type Waiter interface {
	Wait(ctx context.Context, target Target) error
}

// Options selects and tunes a waiter. Zero durations fall back to defaults.
type Options struct {
	Mode          string
	StartDelay    time.Duration
	PollInterval  time.Duration
	SettleChecks  int
	QuietPeriod   time.Duration
	Timeout       time.Duration
	MarkerSuffix  string
	SubjectPrefix string
	Conn          *nats.Conn
	Logger        *slog.Logger
}

const (
	defaultStartDelay    = 5 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultSettleChecks  = 3
	defaultQuietPeriod   = 2 * time.Second
	defaultTimeout       = 2 * time.Minute
	defaultMarkerSuffix  = ".done"
	DefaultSubjectPrefix = "video.ready."
)

func (o Options) withDefaults() Options {
	if o.StartDelay <= 0 {
		o.StartDelay = defaultStartDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.SettleChecks <= 0 {
		o.SettleChecks = defaultSettleChecks
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = defaultQuietPeriod
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MarkerSuffix == "" {
		o.MarkerSuffix = defaultMarkerSuffix
	}
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = DefaultSubjectPrefix
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// New builds the waiter named by opts.Mode. An empty mode means stable.
func New(opts Options) (Waiter, error) {
	opts = opts.withDefaults()

	stable := &StableWaiter{
		Interval: opts.PollInterval,
		Checks:   opts.SettleChecks,
		Timeout:  opts.Timeout,
	}

	switch opts.Mode {
	case "", ModeStable:
		return stable, nil
	case ModeDelay:
		return &DelayWaiter{Delay: opts.StartDelay}, nil
	case ModeMarker:
		return &MarkerWaiter{
			Suffix:   opts.MarkerSuffix,
			Interval: opts.PollInterval,
			Timeout:  opts.Timeout,
		}, nil
	case ModeWatch:
		return NewWatchWaiter(opts.QuietPeriod, opts.Timeout, stable, opts.Logger), nil
	case ModeNATS:
		if opts.Conn == nil {
			return nil, fmt.Errorf("readiness mode %q requires a NATS connection", ModeNATS)
		}
		return NewNATSWaiter(opts.Conn, opts.SubjectPrefix, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown readiness mode %q", opts.Mode)
	}
}

// Immediate treats the file as ready as soon as it exists. Used when the
// caller already knows production finished, e.g. the producer process exited.
type Immediate struct{}

func (Immediate) Wait(ctx context.Context, target Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return requireFile(target.Path)
}

// DelayWaiter sleeps for a fixed duration before checking the file exists.
type DelayWaiter struct {
	Delay time.Duration
}

func (w *DelayWaiter) Wait(ctx context.Context, target Target) error {
	timer := time.NewTimer(w.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return requireFile(target.Path)
}

// StableWaiter polls the file until its size and mtime stop changing for
// Checks consecutive polls.
type StableWaiter struct {
	Interval time.Duration
	Checks   int
	Timeout  time.Duration
}

func (w *StableWaiter) Wait(ctx context.Context, target Target) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var last os.FileInfo
	settled := 0

	for {
		info, err := os.Stat(target.Path)
		switch {
		case err != nil || info.IsDir() || info.Size() == 0:
			last = nil
			settled = 0
		case last != nil && info.Size() == last.Size() && info.ModTime().Equal(last.ModTime()):
			settled++
			last = info
		default:
			settled = 0
			last = info
		}
		if settled >= w.Checks {
			return nil
		}

		select {
		case <-waitCtx.Done():
			return timeoutErr(ctx, target.Path)
		case <-ticker.C:
		}
	}
}

// MarkerWaiter waits for "<path><Suffix>" to appear next to the video.
type MarkerWaiter struct {
	Suffix   string
	Interval time.Duration
	Timeout  time.Duration
}

func (w *MarkerWaiter) Wait(ctx context.Context, target Target) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	marker := target.Path + w.Suffix
	for {
		if _, err := os.Stat(marker); err == nil {
			return requireFile(target.Path)
		}

		select {
		case <-waitCtx.Done():
			return timeoutErr(ctx, target.Path)
		case <-ticker.C:
		}
	}
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotReady, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNotReady, path)
	}
	return nil
}

// timeoutErr reports the caller's cancellation as-is and our own deadline as
// ErrNotReady.
func timeoutErr(parent context.Context, path string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s did not become ready in time", ErrNotReady, path)
}
