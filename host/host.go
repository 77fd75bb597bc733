// Package host runs commands on the host system.
package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Exec runs commands with os/exec.
type Exec struct{}

var _ Runner = Exec{}

// Run runs the command, and returns an error that includes its output if it
// exits with a non-zero status.
func (Exec) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("command %s %v failed: %w, output: %s",
			name, args, err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// DryRun records commands instead of running them.
type DryRun struct {
	mu       sync.Mutex
	Commands []string
}

var _ Runner = (*DryRun)(nil)

// Run records the command line and returns no output.
func (d *DryRun) Run(_ context.Context, name string, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Commands = append(d.Commands, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return "", nil
}
