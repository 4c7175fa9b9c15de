//go:build !unix

package daemon

// AcquireLock is a no-op on non-unix platforms; pidfile probing is the only
// liveness check there.
func AcquireLock(path string) (*FileLock, error) {
	return nil, nil
}

// Release is a no-op on non-unix platforms.
func (l *FileLock) Release() error {
	return nil
}

// IsLocked always reports false on non-unix platforms.
func IsLocked(path string) bool {
	return false
}
