package cli

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ttyd-mux/ttyd-mux/internal/daemon"
	"github.com/ttyd-mux/ttyd-mux/internal/paths"
)

const startupTimeout = 10 * time.Second

// DaemonStatusResult summarises the daemon process state.
type DaemonStatusResult struct {
	Running    bool   `json:"running"`
	Status     string `json:"status"`
	PID        int    `json:"pid,omitempty"`
	ListenPort int    `json:"listen_port,omitempty"`
	BasePath   string `json:"base_path,omitempty"`
	Uptime     string `json:"uptime,omitempty"`
}

// DaemonStart launches the daemon as a detached background process and waits
// until its port accepts connections. configFile may be empty.
func DaemonStart(configFile string) error {
	stateDir, err := paths.EnsureStateDir()
	if err != nil {
		return err
	}

	running, info, err := daemon.CheckPIDFile(paths.PIDFile(stateDir))
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("daemon is already running (pid %d)", info.PID)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	args := []string{"daemon", "run"}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	cmd := exec.Command(executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	// Release, never Wait: the parent exits immediately and a Wait killed
	// mid-syscall can wedge the child on macOS.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	return waitForDaemon(stateDir)
}

// waitForDaemon polls until the pidfile exists and the advertised port
// accepts TCP connections.
func waitForDaemon(stateDir string) error {
	deadline := time.After(startupTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for daemon to start")
		case <-ticker.C:
			running, info, err := daemon.CheckPIDFile(paths.PIDFile(stateDir))
			if err != nil || !running {
				continue
			}
			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(info.ListenPort))
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				continue
			}
			_ = conn.Close()
			return nil
		}
	}
}

// DaemonStop sends SIGTERM and waits for the daemon to exit.
func DaemonStop() error {
	stateDir, err := paths.StateDir()
	if err != nil {
		return err
	}
	pidFile := paths.PIDFile(stateDir)

	running, info, err := daemon.CheckPIDFile(pidFile)
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("find process %d: %w", info.PID, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", info.PID, err)
	}

	deadline := time.After(startupTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for daemon to stop (pid %d still running)", info.PID)
		case <-ticker.C:
			if running, _, _ := daemon.CheckPIDFile(pidFile); !running {
				return nil
			}
		}
	}
}

// DaemonStatus reports the daemon process state from the pidfile.
func DaemonStatus() (*DaemonStatusResult, error) {
	stateDir, err := paths.StateDir()
	if err != nil {
		return nil, err
	}

	running, info, err := daemon.CheckPIDFile(paths.PIDFile(stateDir))
	if err != nil {
		return nil, fmt.Errorf("check daemon status: %w", err)
	}

	result := &DaemonStatusResult{
		Running:    running,
		Status:     "stopped",
		PID:        info.PID,
		ListenPort: info.ListenPort,
		BasePath:   info.BasePath,
	}
	if running {
		result.Status = "running"
		if !info.StartedAt.IsZero() {
			result.Uptime = time.Since(info.StartedAt).Round(time.Second).String()
		}
	}
	return result, nil
}
