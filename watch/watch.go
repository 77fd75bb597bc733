// Package watch notifies about changes to the exit node definitions.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function once changes to the *.conf files of a directory
// have settled.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// New returns a new Watcher of dir. onChange is called after no relevant
// event was seen for the debounce period.
func New(dir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger.With("component", "watch", "dir", dir),
	}
}

// Run watches the directory until ctx is done. Errors returned by onChange
// are logged, and don't stop the watch.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed creating file watcher: %w", err)
	}
	defer fsw.Close()

	if err = fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching exit node definitions")

	return w.loop(ctx, fsw.Events, fsw.Errors, onChange)
}

func (w *Watcher) loop(
	ctx context.Context, events <-chan fsnotify.Event, errs <-chan error,
	onChange func(context.Context) error,
) error {
	// Armed only by relevant events.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err() //nolint:wrapcheck // Context errors are descriptive.
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !Relevant(ev) {
				continue
			}
			w.logger.Debug("exit node definition changed", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-timer.C:
			if err := onChange(ctx); err != nil {
				w.logger.Error("failed refreshing egress routing", "error", err)
			}
		}
	}
}

// Relevant returns true if the event is about an exit node definition file.
// Chmod events are ignored.
func Relevant(ev fsnotify.Event) bool {
	if filepath.Ext(ev.Name) != ".conf" {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
