package firewall

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/wgfence/firewall/nft"
	ftypes "go.hackfix.me/wgfence/firewall/types"
	"go.hackfix.me/wgfence/host"
)

// scriptMode is the permission of written scripts.
const scriptMode = 0o755

// Applier writes compiled scripts to the filesystem and runs them. Absence of
// a script file means the feature has nothing to apply.
type Applier struct {
	fs     vfs.FileSystem
	runner host.Runner
	fw     ftypes.Firewall
	logger *slog.Logger
}

// NewApplier returns a new Applier.
func NewApplier(fs vfs.FileSystem, runner host.Runner, fw ftypes.Firewall, logger *slog.Logger) *Applier {
	return &Applier{fs: fs, runner: runner, fw: fw, logger: logger}
}

// Write validates the script and writes it to path as an executable file.
func (a *Applier) Write(path, script string) error {
	if err := ValidateScript(script); err != nil {
		return fmt.Errorf("refusing to write %s: %w", path, err)
	}
	if err := vfs.WriteFile(a.fs, path, []byte(script), scriptMode); err != nil {
		return fmt.Errorf("failed writing script %s: %w", path, err)
	}
	// WriteFile keeps the mode of existing files.
	if err := a.fs.Chmod(path, scriptMode); err != nil {
		return fmt.Errorf("failed setting mode of script %s: %w", path, err)
	}
	a.logger.Debug("wrote script", "path", path)

	return nil
}

// Remove deletes the script at path. A missing file is not an error.
func (a *Applier) Remove(path string) error {
	err := a.fs.Remove(path)
	switch {
	case vfs.IsErrNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("failed removing script %s: %w", path, err)
	}
	a.logger.Debug("removed script", "path", path)

	return nil
}

// Reconcile makes the file at path match the desired state: the script is
// written when enabled and non-empty, and removed otherwise.
func (a *Applier) Reconcile(path, script string, enabled bool) error {
	if enabled && script != "" {
		return a.Write(path, script)
	}
	return a.Remove(path)
}

// Exists returns true if a script is present at path.
func (a *Applier) Exists(path string) (bool, error) {
	ok, err := vfs.Exists(a.fs, path)
	if err != nil {
		return false, fmt.Errorf("failed checking script %s: %w", path, err)
	}
	return ok, nil
}

// Run executes the script at path with bash. It returns false without error
// if the script doesn't exist.
func (a *Applier) Run(ctx context.Context, path string) (bool, error) {
	ok, err := a.Exists(path)
	if err != nil || !ok {
		return false, err
	}

	data, err := vfs.ReadFile(a.fs, path)
	if err != nil {
		return false, fmt.Errorf("failed reading script %s: %w", path, err)
	}
	if err = ValidateScript(string(data)); err != nil {
		return false, fmt.Errorf("refusing to run %s: %w", path, err)
	}

	out, err := a.runner.Run(ctx, "bash", path)
	if err != nil {
		return false, err
	}
	a.logger.Debug("ran script", "path", path, "output", out)

	return true, nil
}

// TeardownTable deletes an nftables table. A missing table is not an error.
func (a *Applier) TeardownTable(family nft.Family, name string) error {
	if err := a.fw.DeleteTable(family, name); err != nil {
		return fmt.Errorf("failed tearing down table %s: %w", name, err)
	}
	return nil
}
