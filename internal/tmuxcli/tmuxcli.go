// Package tmuxcli shells out to tmux for named-session management. All
// invocations are timeout-bounded so a wedged tmux server cannot stall the
// daemon.
package tmuxcli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const commandTimeout = 5 * time.Second

// Client drives tmux sessions. The zero value is not usable; call New.
type Client interface {
	// EnsureSession is idempotent: if a session named name exists it does
	// nothing, otherwise it creates a detached one anchored at cwd. The
	// returned flag reports whether a session was created by this call, so
	// callers can undo exactly what they caused.
	EnsureSession(ctx context.Context, name, cwd string) (created bool, err error)
	// KillSession removes the named session. Non-existence is not an error.
	KillSession(ctx context.Context, name string) error
	// IsInstalled reports whether tmux is on PATH. Probed once.
	IsInstalled() bool
}

type client struct {
	bin string

	probeOnce sync.Once
	installed bool
}

// New returns a Client using the tmux binary on PATH.
func New() Client {
	return &client{bin: "tmux"}
}

// run executes one tmux invocation with the package timeout.
func (c *client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("tmux %v: %w (output: %s)", args, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (c *client) EnsureSession(ctx context.Context, name, cwd string) (bool, error) {
	// has-session exits non-zero when the session is missing; that's the
	// signal to create it, not an error.
	if _, err := c.run(ctx, "has-session", "-t", "="+name); err == nil {
		return false, nil
	}

	if _, err := c.run(ctx, "new-session", "-d", "-s", name, "-c", cwd); err != nil {
		return false, fmt.Errorf("create tmux session %s: %w", name, err)
	}
	return true, nil
}

func (c *client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", "="+name)
	if err != nil {
		// Best effort: a missing session or server is fine.
		if strings.Contains(err.Error(), "can't find session") ||
			strings.Contains(err.Error(), "no server running") ||
			strings.Contains(err.Error(), "no current target") {
			return nil
		}
		return err
	}
	return nil
}

func (c *client) IsInstalled() bool {
	c.probeOnce.Do(func() {
		_, err := exec.LookPath(c.bin)
		c.installed = err == nil
	})
	return c.installed
}

// AttachCommand returns the command line a child terminal server should run
// to attach the named session.
func AttachCommand(name string) []string {
	return []string{"tmux", "attach-session", "-t", "=" + name}
}
