package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/stretchr/testify/assert"

	"go.hackfix.me/wgfence/app/config"
	"go.hackfix.me/wgfence/db/models"
)

func TestAppWatch(t *testing.T) {
	t.Parallel()

	tctx, cancel, h := newTestContext(t, 10*time.Second)
	defer cancel()

	// fsnotify needs a real directory.
	dir := t.TempDir()
	exitNodes := filepath.Join(dir, "exit_nodes")
	h(assert.NoError(t, os.MkdirAll(exitNodes, 0o700)))
	h(assert.NoError(t, os.WriteFile(
		filepath.Join(exitNodes, "exit_a.conf"), []byte("[Interface]\n"), 0o600)))

	fs := osfs.New()
	cfg := config.NewConfig(fs, filepath.Join(dir, "config.json"))
	h(assert.NoError(t, cfg.Set("paths.wireguard_dir", dir)))

	watchCtx, cancelWatch := context.WithCancel(tctx)
	defer cancelWatch()

	app, err := newTestApp(watchCtx, WithFS(fs), WithConfig(cfg))
	h(assert.NoError(t, err))
	app.inspector.Up["exit_a"] = true
	app.inspector.Addressed["exit_a"] = true

	h(assert.NoError(t, initTestDB(app.ctx)))
	h(assert.NoError(t, app.Run("interface", "add", "wg0", "10.8.0.0/24")))
	h(assert.NoError(t, app.Run("client", "add", "wg0", "laptop", "10.8.0.2", "--egress", "--device", "exit_a")))

	setupPath := filepath.Join(dir, "wg0-egress-setup.sh")
	h(assert.FileExists(t, setupPath))

	watching := make(chan string, 1)
	app.stderr.waitFor(`watching exit node definitions`, 0, watching)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run("watch", "wg0", "--debounce", "10ms")
	}()

	select {
	case <-watching:
	case <-tctx.Done():
		t.Fatal("timed out waiting for the watcher to start")
	}

	h(assert.NoError(t, os.Remove(filepath.Join(exitNodes, "exit_a.conf"))))

	h(assert.Eventually(t, func() bool {
		_, serr := os.Stat(setupPath)
		return os.IsNotExist(serr)
	}, 5*time.Second, 10*time.Millisecond))

	cancelWatch()
	select {
	case err = <-errCh:
		h(assert.NoError(t, err))
	case <-tctx.Done():
		t.Fatal("timed out waiting for the watcher to stop")
	}

	// The database context was canceled with the watcher.
	client := &models.Client{ID: 1}
	h(assert.NoError(t, client.Load(tctx, app.ctx.DB)))
	h(assert.False(t, client.EgressEnabled))
	h(assert.False(t, client.EgressDevice.Valid))
}
