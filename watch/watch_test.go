package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   fsnotify.Event
		exp  bool
	}{
		{name: "ok/create", ev: fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Create}, exp: true},
		{name: "ok/write", ev: fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Write}, exp: true},
		{name: "ok/remove", ev: fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Remove}, exp: true},
		{name: "ok/rename", ev: fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Rename}, exp: true},
		{name: "ok/chmod", ev: fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Chmod}, exp: false},
		{name: "ok/other_file", ev: fsnotify.Event{Name: "/x/exit_a.conf.swp", Op: fsnotify.Write}, exp: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exp, Relevant(tt.ev))
		})
	}
}

func TestWatcherLoop(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	t.Run("ok/debounced", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		w := New("/x", 50*time.Millisecond, logger)
		events := make(chan fsnotify.Event)
		errs := make(chan error)
		calls := make(chan struct{}, 10)

		done := make(chan error, 1)
		go func() {
			done <- w.loop(ctx, events, errs, func(context.Context) error {
				calls <- struct{}{}
				return nil
			})
		}()

		for range 5 {
			events <- fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Write}
		}
		events <- fsnotify.Event{Name: "/x/ignored.txt", Op: fsnotify.Write}

		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change callback")
		}

		// A burst of events results in a single call.
		select {
		case <-calls:
			t.Fatal("unexpected second change callback")
		case <-time.After(200 * time.Millisecond):
		}

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("ok/callback_error_continues", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		w := New("/x", 10*time.Millisecond, logger)
		events := make(chan fsnotify.Event)
		errs := make(chan error)
		var n atomic.Int32

		done := make(chan error, 1)
		go func() {
			done <- w.loop(ctx, events, errs, func(context.Context) error {
				n.Add(1)
				return errors.New("boom")
			})
		}()

		events <- fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Create}
		require.Eventually(t, func() bool { return n.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

		errs <- errors.New("queue overflow")
		events <- fsnotify.Event{Name: "/x/exit_a.conf", Op: fsnotify.Remove}
		require.Eventually(t, func() bool { return n.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("ok/events_closed", func(t *testing.T) {
		t.Parallel()

		w := New("/x", time.Second, logger)
		events := make(chan fsnotify.Event)
		close(events)

		err := w.loop(t.Context(), events, make(chan error), func(context.Context) error {
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("err/deadline", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()

		w := New("/x", time.Second, logger)
		err := w.loop(ctx, make(chan fsnotify.Event), make(chan error), func(context.Context) error {
			return nil
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestWatcherRun(t *testing.T) {
	t.Parallel()

	t.Run("ok/file_created", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		w := New(dir, 10*time.Millisecond, slog.New(slog.DiscardHandler))
		var n atomic.Int32
		done := make(chan error, 1)
		go func() {
			done <- w.Run(ctx, func(context.Context) error {
				n.Add(1)
				return nil
			})
		}()

		// The watch is set up asynchronously, so keep touching the file until
		// a change is seen.
		p := filepath.Join(dir, "exit_a.conf")
		require.Eventually(t, func() bool {
			_ = os.WriteFile(p, []byte("[Interface]\n"), 0o600)
			return n.Load() > 0
		}, 5*time.Second, 50*time.Millisecond)

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("err/missing_dir", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "missing")
		w := New(dir, time.Second, slog.New(slog.DiscardHandler))
		err := w.Run(t.Context(), func(context.Context) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed watching "+dir)
	})
}
