package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/eventlog"
	"github.com/ttyd-mux/ttyd-mux/internal/httpd"
	"github.com/ttyd-mux/ttyd-mux/internal/notify"
	"github.com/ttyd-mux/ttyd-mux/internal/paths"
	"github.com/ttyd-mux/ttyd-mux/internal/procutil"
	"github.com/ttyd-mux/ttyd-mux/internal/session"
	"github.com/ttyd-mux/ttyd-mux/internal/share"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
	"github.com/ttyd-mux/ttyd-mux/internal/tmuxcli"
)

// Supervisor owns the daemon's runtime: exclusive ownership via flock and
// pidfile, the HTTP listeners, background sweeps, and the shutdown sequence.
type Supervisor struct {
	cfg      *config.Config
	stateDir string
	log      *logrus.Entry

	store    *state.Store
	sessions *session.Manager
	shares   *share.Manager
	events   *eventlog.Log
	handler  http.Handler

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New wires the full daemon from configuration. The returned supervisor is
// inert until Run.
func New(cfg *config.Config, stateDir string, log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store := state.NewStore(stateDir, log)
	runner := procutil.NewOSRunner()
	bus := session.NewBus(log)

	// The event log is best-effort: a broken database degrades to logging.
	events, err := eventlog.Open(paths.EventLogPath(stateDir), log)
	if err != nil {
		log.WithError(err).Warn("event log unavailable, lifecycle events will not be recorded")
		events = nil
	}
	var audit session.Recorder
	if events != nil {
		audit = events
	}
	var shareAudit share.Recorder
	if events != nil {
		shareAudit = events
	}

	sessions := session.NewManager(store, runner, tmuxcli.New(), cfg, bus, audit, log)
	shares := share.NewManager(store, sessions, cfg, shareAudit, log)
	subs := notify.NewSubscriptions(store)

	// Real web-push delivery is out of scope; observed lines go to the debug
	// log so the plumbing stays exercised end to end.
	observer := notify.NewObserver(func(sessionName, line string) {
		log.WithFields(logrus.Fields{"session": sessionName, "line": line}).Debug("terminal output")
	}, log)

	s := &Supervisor{
		cfg:        cfg,
		stateDir:   stateDir,
		log:        log,
		store:      store,
		sessions:   sessions,
		shares:     shares,
		events:     events,
		shutdownCh: make(chan struct{}),
	}
	s.handler = httpd.NewServer(cfg, store, sessions, shares, subs, observer, events, s.Shutdown, log).Handler()
	return s
}

// Sessions exposes the session manager (used by tests and the MCP server
// when embedded).
func (s *Supervisor) Sessions() *session.Manager { return s.sessions }

// Run starts the daemon and blocks until shutdown. It returns nil after a
// clean shutdown and an error when initialisation fails or a listener dies.
func (s *Supervisor) Run(ctx context.Context) error {
	// The flock outlives any pidfile staleness: the OS drops it on process
	// death, SIGKILL included.
	lock, err := AcquireLock(paths.LockFile(s.stateDir))
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	defer func() {
		if lock != nil {
			if err := lock.Release(); err != nil {
				s.log.WithError(err).Warn("releasing daemon lock failed")
			}
		}
	}()

	pidFile := paths.PIDFile(s.stateDir)
	running, prior, err := CheckPIDFile(pidFile)
	if err != nil {
		s.log.WithError(err).Warn("unreadable pidfile, overwriting")
	} else if running {
		return fmt.Errorf("daemon already running (pid %d)", prior.PID)
	}

	now := time.Now().UTC()
	if err := WritePIDFile(pidFile, PIDInfo{
		PID:        os.Getpid(),
		ListenPort: s.cfg.DaemonPort,
		BasePath:   s.cfg.BasePath,
		StartedAt:  now,
	}); err != nil {
		return err
	}
	defer func() {
		if err := RemovePIDFile(pidFile); err != nil {
			s.log.WithError(err).Warn("removing pidfile failed")
		}
	}()

	// Inherit sessions from a prior incarnation; dead ones are reaped here.
	alive, removed := s.sessions.Revalidate()
	s.log.WithFields(logrus.Fields{"alive": len(alive), "reaped": len(removed)}).Info("state revalidated")

	if err := s.store.SetDaemon(state.DaemonInfo{
		PID:        os.Getpid(),
		ListenPort: s.cfg.DaemonPort,
		StartedAt:  now,
	}); err != nil {
		return fmt.Errorf("record daemon identity: %w", err)
	}
	if s.events != nil {
		s.events.Record("daemon.start", strconv.Itoa(os.Getpid()), "port "+strconv.Itoa(s.cfg.DaemonPort))
	}

	servers, serveErr, err := s.startListeners()
	if err != nil {
		_ = s.store.ClearDaemon()
		return err
	}

	var tsln *TsnetListener
	if s.cfg.Tailscale.Enabled {
		var tsSrv *http.Server
		tsln, tsSrv, err = s.startTailnetListener(serveErr)
		if err != nil {
			// The local listeners already work; the tailnet one is optional.
			s.log.WithError(err).Warn("tailnet listener unavailable")
		} else {
			servers = append(servers, tsSrv)
		}
	}

	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	defer cancelSweeps()
	go s.runSweeps(sweepCtx)
	go s.handleSignals()

	var runErr error
	select {
	case <-ctx.Done():
	case <-s.shutdownCh:
	case runErr = <-serveErr:
		s.log.WithError(runErr).Error("listener failed")
	}

	cancelSweeps()
	s.drainAndStop(servers, tsln)

	if s.events != nil {
		s.events.Record("daemon.stop", strconv.Itoa(os.Getpid()), "")
		if err := s.events.Close(); err != nil {
			s.log.WithError(err).Warn("closing event log failed")
		}
	}
	return runErr
}

// startListeners binds every configured address on daemon_port and starts
// serving. Serve errors surface on the returned channel.
func (s *Supervisor) startListeners() ([]*http.Server, chan error, error) {
	serveErr := make(chan error, len(s.cfg.ListenAddresses)+1)
	var servers []*http.Server

	for _, addr := range s.cfg.ListenAddresses {
		bind := net.JoinHostPort(addr, strconv.Itoa(s.cfg.DaemonPort))
		ln, err := net.Listen("tcp", bind)
		if err != nil {
			for _, srv := range servers {
				_ = srv.Close()
			}
			return nil, nil, fmt.Errorf("listen on %s: %w", bind, err)
		}

		srv := &http.Server{
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.log.WithField("addr", bind).Info("listening")
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}
	return servers, serveErr, nil
}

// startTailnetListener serves the same handler over the tailnet.
func (s *Supervisor) startTailnetListener(serveErr chan error) (*TsnetListener, *http.Server, error) {
	tsln, err := NewTsnetListener(s.cfg.Tailscale, s.stateDir)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("hostname", s.cfg.Tailscale.Hostname).Info("tailnet listener up")
	go func() {
		if err := srv.Serve(tsln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	return tsln, srv, nil
}

// runSweeps drives the periodic revalidation and share sweeps.
func (s *Supervisor) runSweeps(ctx context.Context) {
	revalidate := time.NewTicker(s.cfg.RevalidateInterval.Std())
	defer revalidate.Stop()
	sweep := time.NewTicker(s.cfg.ShareSweepInterval.Std())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-revalidate.C:
			s.sessions.Revalidate()
		case <-sweep.C:
			s.shares.Sweep()
		}
	}
}

// handleSignals maps SIGTERM/SIGINT onto the shutdown path.
func (s *Supervisor) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	s.log.WithField("signal", sig.String()).Info("shutting down")
	s.Shutdown()
}

// Shutdown triggers a graceful shutdown. Safe to call more than once; the
// HTTP shutdown endpoint and the signal handler both land here.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}

// drainAndStop refuses new requests, waits out in-flight ones up to the
// grace period, then stops every session and clears the daemon identity.
func (s *Supervisor) drainAndStop(servers []*http.Server, tsln *TsnetListener) {
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace.Std())
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(drainCtx); err != nil {
			s.log.WithError(err).Warn("draining listener failed, closing hard")
			_ = srv.Close()
		}
	}
	if tsln != nil {
		if err := tsln.Close(); err != nil {
			s.log.WithError(err).Warn("closing tailnet listener failed")
		}
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace.Std())
	defer cancelStop()
	s.sessions.StopAll(stopCtx)

	if err := s.store.ClearDaemon(); err != nil {
		s.log.WithError(err).Warn("clearing daemon identity failed")
	}
	s.log.Info("shutdown complete")
}
