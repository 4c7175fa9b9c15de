package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirEnv overrides the default state directory when set.
const StateDirEnv = "TTYD_MUX_STATE_DIR"

// StateDir returns the directory holding the daemon's persistent state.
// Resolution order: TTYD_MUX_STATE_DIR env var, then ~/.ttyd-mux.
func StateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ttyd-mux"), nil
}

// EnsureStateDir resolves the state directory and creates it if missing.
func EnsureStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return dir, nil
}

// StateFile returns the path of the single JSON state document.
func StateFile(stateDir string) string {
	return filepath.Join(stateDir, "state.json")
}

// PIDFile returns the path of the daemon PID file.
func PIDFile(stateDir string) string {
	return filepath.Join(stateDir, "daemon.pid")
}

// LockFile returns the path of the daemon flock file.
func LockFile(stateDir string) string {
	return filepath.Join(stateDir, "daemon.lock")
}

// SocketPath returns the daemon control-socket path. The core daemon does not
// listen on it; it exists so sibling tools can identify the daemon instance.
func SocketPath(stateDir string) string {
	return filepath.Join(stateDir, "daemon.sock")
}

// EventLogPath returns the path of the SQLite lifecycle event log.
func EventLogPath(stateDir string) string {
	return filepath.Join(stateDir, "events.db")
}

// ConfigFile returns the default config file path inside the state directory.
func ConfigFile(stateDir string) string {
	return filepath.Join(stateDir, "config.yaml")
}

// TailscaleStateDir returns the directory used for tsnet state.
func TailscaleStateDir(stateDir string) string {
	return filepath.Join(stateDir, "tsnet")
}
