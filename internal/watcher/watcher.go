package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FSWatcher reports changes inside watched directories via fsnotify.
type FSWatcher struct {
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	mu       sync.Mutex
	callback func(path string, event EventType)
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewFSWatcher(logger *slog.Logger) (*FSWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &FSWatcher{logger: logger, fsw: fsw, done: make(chan struct{})}, nil
}

// Watch adds path (normally a directory) and starts the event loop on first
// use. The loop ends when ctx is done or Stop is called.
func (w *FSWatcher) Watch(ctx context.Context, path string) error {
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		go w.loop(ctx)
	}
	return nil
}

func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

func (w *FSWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}
}

func (w *FSWatcher) dispatch(event fsnotify.Event) {
	var et EventType
	switch {
	case event.Has(fsnotify.Create):
		et = EventCreate
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		et = EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		et = EventDelete
	default:
		return
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()

	if cb != nil {
		cb(filepath.Clean(event.Name), et)
	}
}
