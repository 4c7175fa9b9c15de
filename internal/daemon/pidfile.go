// Package daemon supervises the long-running process: pidfile and flock
// ownership, listeners, background sweeps, and graceful shutdown.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// PIDInfo is the JSON document written to the pidfile. Sibling tools read it
// to find the daemon's port.
type PIDInfo struct {
	PID        int       `json:"pid"`
	ListenPort int       `json:"listen_port"`
	BasePath   string    `json:"base_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// WritePIDFile writes the pidfile, creating its directory when needed.
func WritePIDFile(path string, info PIDInfo) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create pidfile directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pidfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// ReadPIDFile reads and parses the pidfile.
func ReadPIDFile(path string) (PIDInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Not wrapped so callers can check os.IsNotExist.
		return PIDInfo{}, err
	}
	var info PIDInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return PIDInfo{}, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	return info, nil
}

// CheckPIDFile reports whether a daemon recorded in the pidfile is currently
// running. A missing pidfile means no daemon and no error.
func CheckPIDFile(path string) (bool, PIDInfo, error) {
	info, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, PIDInfo{}, nil
		}
		return false, PIDInfo{}, err
	}
	return isProcessRunning(info.PID), info, nil
}

// RemovePIDFile removes the pidfile; missing is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pidfile: %w", err)
	}
	return nil
}

// isProcessRunning probes a PID with signal 0. EPERM counts as running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
