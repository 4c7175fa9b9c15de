// Package session owns the lifecycle of child web-terminal servers: name,
// port and URL-path allocation, spawning over the tmux backend, liveness
// revalidation, and lifecycle event emission.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/procutil"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
	"github.com/ttyd-mux/ttyd-mux/internal/tmuxcli"
)

// Session-lifecycle error kinds. The API layer maps these onto HTTP statuses.
var (
	ErrAlreadyRunning  = errors.New("session already running")
	ErrNotFound        = errors.New("session not found")
	ErrDirInUse        = errors.New("directory already owned by a live session")
	ErrPortUnavailable = errors.New("port unavailable")
	ErrPortExhausted   = errors.New("no free port in session port range")
	ErrSpawnFailed     = errors.New("terminal server failed to start")
	ErrInvalidName     = errors.New("invalid session name")
)

// namePattern is the conservative identifier pattern the router depends on:
// the first path segment after the base path must be exactly the name.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// maxPortAttempts bounds the upward scan when allocating the next port.
const maxPortAttempts = 50

// spawnSettle is how long a fresh child gets before we decide it died on
// arrival.
const spawnSettle = 250 * time.Millisecond

// Recorder receives lifecycle audit entries. Implemented by eventlog.
type Recorder interface {
	Record(kind, subject, detail string)
}

// StartRequest carries the parameters for starting one session.
type StartRequest struct {
	Name      string
	Dir       string
	Port      int             // 0 means allocate
	TmuxMode  config.TmuxMode // empty means use the daemon default
	ExtraArgs []string        // appended to the terminal-server command line
}

// Manager supervises child terminal servers. Operations on session names are
// serialised by the manager mutex; persisted records live in the state store,
// process handles only in memory.
type Manager struct {
	mu     sync.Mutex
	store  *state.Store
	runner procutil.Runner
	tmux   tmuxcli.Client
	cfg    *config.Config
	bus    *Bus
	audit  Recorder
	log    *logrus.Entry

	// handles tracks the PIDs this daemon incarnation spawned. Rebuilt empty
	// on restart; revalidation relies solely on IsRunning(pid).
	handles map[string]int
}

// NewManager wires a session manager. audit may be nil.
func NewManager(store *state.Store, runner procutil.Runner, tmux tmuxcli.Client, cfg *config.Config, bus *Bus, audit Recorder, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		store:   store,
		runner:  runner,
		tmux:    tmux,
		cfg:     cfg,
		bus:     bus,
		audit:   audit,
		log:     log,
		handles: make(map[string]int),
	}
}

// Events returns the lifecycle event bus.
func (m *Manager) Events() *Bus { return m.bus }

// Start launches a child terminal server per the request and records it.
func (m *Manager) Start(ctx context.Context, req StartRequest) (state.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Dir == "" {
		return state.Session{}, fmt.Errorf("%w: dir is required", ErrInvalidName)
	}
	dir, err := filepath.Abs(req.Dir)
	if err != nil {
		return state.Session{}, fmt.Errorf("resolve dir: %w", err)
	}

	snap := m.store.Load()

	name := req.Name
	if name == "" {
		name = m.deriveName(snap, dir)
	} else if !namePattern.MatchString(name) {
		return state.Session{}, fmt.Errorf("%w: %q (allowed: letters, digits, dash, underscore)", ErrInvalidName, name)
	}

	// A live record with this name blocks the start; a dead one is stale and
	// self-heals here.
	if existing, ok := snap.FindSession(name); ok {
		if m.runner.IsRunning(existing.PID) {
			return state.Session{}, fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, name, existing.PID)
		}
		if err := m.store.RemoveSession(name); err != nil {
			return state.Session{}, fmt.Errorf("drop stale session record: %w", err)
		}
		snap = m.store.Load()
	}

	for _, other := range snap.Sessions {
		if other.WorkingDir == dir && m.runner.IsRunning(other.PID) {
			return state.Session{}, fmt.Errorf("%w: %s is owned by session %s", ErrDirInUse, dir, other.Name)
		}
	}

	port, err := m.resolvePort(snap, req.Port)
	if err != nil {
		return state.Session{}, err
	}

	mode := req.TmuxMode
	if mode == "" {
		mode = m.cfg.TmuxMode
	}

	createdTmux := false
	if mode == config.TmuxAuto {
		createdTmux, err = m.tmux.EnsureSession(ctx, name, dir)
		if err != nil {
			return state.Session{}, fmt.Errorf("ensure tmux session: %w", err)
		}
	}

	urlPath := m.cfg.NormalizedBasePath() + "/" + name
	args := m.childArgs(urlPath, port, mode, name, req.ExtraArgs)

	pid, err := m.runner.Spawn(m.cfg.TtydCommand, args, dir, nil)
	if err != nil || pid <= 0 {
		m.undoTmux(ctx, mode, name, createdTmux)
		return state.Session{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// Children that die on arrival (bad flags, port race) show up here.
	time.Sleep(spawnSettle)
	if !m.runner.IsRunning(pid) {
		m.undoTmux(ctx, mode, name, createdTmux)
		return state.Session{}, fmt.Errorf("%w: %s exited immediately", ErrSpawnFailed, m.cfg.TtydCommand)
	}

	sess := state.Session{
		Name:       name,
		PID:        pid,
		Port:       port,
		URLPath:    urlPath,
		WorkingDir: dir,
		StartedAt:  time.Now().UTC(),
	}
	if err := m.store.AddSession(sess); err != nil {
		_ = m.runner.Kill(pid, syscall.SIGTERM)
		m.undoTmux(ctx, mode, name, createdTmux)
		return state.Session{}, fmt.Errorf("persist session: %w", err)
	}

	m.handles[name] = pid
	m.log.WithFields(logrus.Fields{"session": name, "pid": pid, "port": port, "dir": dir}).Info("session started")
	if m.audit != nil {
		m.audit.Record("session.start", name, fmt.Sprintf("dir=%s port=%d pid=%d", dir, port, pid))
	}
	m.bus.Publish(Event{Type: EventStart, Name: name, Session: sess})

	return sess, nil
}

// undoTmux rolls back a tmux session this Start call created.
func (m *Manager) undoTmux(ctx context.Context, mode config.TmuxMode, name string, created bool) {
	if mode != config.TmuxAuto || !created {
		return
	}
	if err := m.tmux.KillSession(ctx, name); err != nil {
		m.log.WithError(err).WithField("session", name).Warn("cleanup of created tmux session failed")
	}
}

// childArgs builds the child terminal server's command line.
func (m *Manager) childArgs(urlPath string, port int, mode config.TmuxMode, name string, extra []string) []string {
	args := []string{
		"-p", strconv.Itoa(port),
		"-i", "127.0.0.1",
		"-b", urlPath,
	}
	args = append(args, m.cfg.TtydArgs...)
	args = append(args, extra...)
	if mode == config.TmuxOff {
		args = append(args, shellCommand()...)
	} else {
		args = append(args, tmuxcli.AttachCommand(name)...)
	}
	return args
}

func shellCommand() []string {
	return []string{"/bin/sh", "-l"}
}

// resolvePort picks the session port. A caller-supplied port is probed once;
// otherwise the lowest free integer above base_port wins.
func (m *Manager) resolvePort(snap *state.Snapshot, requested int) (int, error) {
	used := make(map[int]bool, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		if m.runner.IsRunning(sess.PID) {
			used[sess.Port] = true
		}
	}

	if requested != 0 {
		if used[requested] || !m.runner.IsPortAvailable(requested) {
			return 0, fmt.Errorf("%w: %d", ErrPortUnavailable, requested)
		}
		return requested, nil
	}

	for i := 0; i < maxPortAttempts; i++ {
		candidate := m.cfg.BasePort + 1 + i
		if used[candidate] {
			continue
		}
		if m.runner.IsPortAvailable(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: scanned %d ports above %d", ErrPortExhausted, maxPortAttempts, m.cfg.BasePort)
}

// deriveName turns the directory basename into a unique session name.
func (m *Manager) deriveName(snap *state.Snapshot, dir string) string {
	base := sanitizeName(filepath.Base(dir))
	if base == "" {
		base = "session"
	}

	taken := make(map[string]bool, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		taken[sess.Name] = true
	}

	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// sanitizeName squeezes an arbitrary string into the allowed identifier
// pattern.
func sanitizeName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.', r == ' ':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-_")
}

// Stop terminates the named session. killTmux forces removal of the tmux
// session even in off mode.
func (m *Manager) Stop(ctx context.Context, name string, killTmux bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx, name, killTmux)
}

func (m *Manager) stopLocked(ctx context.Context, name string, killTmux bool) error {
	snap := m.store.Load()
	sess, ok := snap.FindSession(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := m.runner.Kill(sess.PID, syscall.SIGTERM); err != nil {
		m.log.WithError(err).WithField("session", name).Warn("terminating child failed")
	}

	if killTmux || m.cfg.TmuxMode == config.TmuxAuto || m.cfg.TmuxMode == config.TmuxAttach {
		if err := m.tmux.KillSession(ctx, name); err != nil {
			m.log.WithError(err).WithField("session", name).Warn("killing tmux session failed")
		}
	}

	if err := m.store.RemoveSession(name); err != nil {
		return fmt.Errorf("remove session record: %w", err)
	}

	delete(m.handles, name)
	m.log.WithField("session", name).Info("session stopped")
	if m.audit != nil {
		m.audit.Record("session.stop", name, "")
	}
	m.bus.Publish(Event{Type: EventStop, Name: name})
	return nil
}

// List returns the live sessions. Records whose child PID is gone are
// removed from the store as they are observed.
func (m *Manager) List() []state.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	alive, _ := m.revalidateLocked()
	return alive
}

// Lookup returns the named session iff it is live.
func (m *Manager) Lookup(name string) (state.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.store.Load()
	sess, ok := snap.FindSession(name)
	if !ok || !m.runner.IsRunning(sess.PID) {
		return state.Session{}, false
	}
	return sess, true
}

// Revalidate sweeps dead children out of the store and returns the partition
// of survivors and removed names. Called on startup (to inherit sessions from
// a prior daemon incarnation) and on a timer.
func (m *Manager) Revalidate() (alive []state.Session, removed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revalidateLocked()
}

func (m *Manager) revalidateLocked() (alive []state.Session, removed []string) {
	snap := m.store.Load()
	for _, sess := range snap.Sessions {
		if m.runner.IsRunning(sess.PID) {
			alive = append(alive, sess)
		} else {
			removed = append(removed, sess.Name)
		}
	}

	if len(removed) > 0 {
		if err := m.store.RemoveSessions(removed); err != nil {
			m.log.WithError(err).Warn("pruning dead sessions failed")
			return alive, nil
		}
		for _, name := range removed {
			delete(m.handles, name)
			m.log.WithField("session", name).Info("reaped dead session")
			if m.audit != nil {
				m.audit.Record("session.reap", name, "child pid gone")
			}
			m.bus.Publish(Event{Type: EventStop, Name: name})
		}
	}
	return alive, removed
}

// StopAll stops every live session. Per-session errors are logged so
// shutdown always completes.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.store.Load()
	for _, sess := range snap.Sessions {
		if err := m.stopLocked(ctx, sess.Name, false); err != nil {
			m.log.WithError(err).WithField("session", sess.Name).Error("stopping session during shutdown failed")
		}
	}
}
