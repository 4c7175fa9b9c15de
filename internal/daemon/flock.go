package daemon

import "os"

// FileLock holds an exclusive lock that the OS releases automatically when
// the process dies, SIGKILL included. It backs the pidfile: the pidfile says
// who the daemon is, the flock proves one is alive.
type FileLock struct {
	path string
	file *os.File
}

// LockPath returns the path to the lock file.
func (l *FileLock) LockPath() string {
	return l.path
}
