// Package procutil wraps the OS-level process operations the session manager
// needs: detached spawn, liveness probe, signalling, and a loopback port
// availability check.
package procutil

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"syscall"
	"time"
)

// Runner abstracts process control so the session manager can be tested with
// a fake implementation.
type Runner interface {
	// Spawn starts command detached from the daemon's process group with its
	// stdio discarded, and returns the child PID.
	Spawn(command string, args []string, cwd string, env []string) (int, error)
	// IsRunning reports whether a process with the given PID exists.
	IsRunning(pid int) bool
	// Kill sends sig to pid. A process that no longer exists is not an error.
	Kill(pid int, sig syscall.Signal) error
	// IsPortAvailable reports whether a loopback bind on port succeeds.
	IsPortAvailable(port int) bool
}

// OSRunner is the production Runner backed by the real OS.
type OSRunner struct{}

// NewOSRunner returns a Runner backed by the real OS.
func NewOSRunner() *OSRunner { return &OSRunner{} }

// Spawn starts the command in its own session so daemon exit does not take
// the child down with it. The child is released immediately; callers track it
// by PID only.
func (r *OSRunner) Spawn(command string, args []string, cwd string, env []string) (int, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	if len(env) > 0 {
		cmd.Env = env
	}

	// nil stdio means /dev/null; the child's output is its own business.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", command, err)
	}

	pid := cmd.Process.Pid

	// Do NOT Wait() — the daemon is not this process's keeper. Release so it
	// gets reparented to init.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release %s (pid %d): %w", command, pid, err)
	}

	return pid, nil
}

// IsRunning probes the PID with signal 0. EPERM still means the process
// exists, just not ours to signal.
func (r *OSRunner) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Kill sends sig to pid. ESRCH ("no such process") is swallowed so removal
// stays idempotent.
func (r *OSRunner) Kill(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
}

// IsPortAvailable attempts a short-lived bind on loopback. Any bind failure
// counts as unavailable.
func (r *OSRunner) IsPortAvailable(port int) bool {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return false
	}
	// Close right away; we only wanted to know if the bind succeeds.
	_ = ln.SetDeadline(time.Now().Add(time.Second))
	_ = ln.Close()
	return true
}
