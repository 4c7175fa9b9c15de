package daemon

import (
	"fmt"
	"net"
	"os"

	"tailscale.com/tsnet"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/paths"
)

// authKeyEnv supplies the tailnet auth key when the config leaves it unset.
const authKeyEnv = "TTYD_MUX_TS_AUTHKEY"

// TsnetListener exposes the daemon on a tailnet. It satisfies net.Listener
// so the HTTP server serves it like any other listener.
type TsnetListener struct {
	server   *tsnet.Server
	listener net.Listener
}

// NewTsnetListener starts a tsnet node and listens on the configured port.
// The caller owns Close.
func NewTsnetListener(cfg config.Tailscale, stateDir string) (*TsnetListener, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("tailscale listener is not enabled")
	}

	tsStateDir := cfg.StateDir
	if tsStateDir == "" {
		tsStateDir = paths.TailscaleStateDir(stateDir)
	}
	if err := os.MkdirAll(tsStateDir, 0700); err != nil {
		return nil, fmt.Errorf("create tsnet state directory %s: %w", tsStateDir, err)
	}

	authKey := cfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv(authKeyEnv)
	}
	if authKey == "" {
		return nil, fmt.Errorf("tailscale auth key not set (%s)", authKeyEnv)
	}

	srv := &tsnet.Server{
		Hostname: cfg.Hostname,
		AuthKey:  authKey,
		Dir:      tsStateDir,
	}
	if cfg.ControlURL != "" {
		srv.ControlURL = cfg.ControlURL
	}

	port := cfg.Port
	if port == 0 {
		port = 443
	}
	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("tsnet listen on :%d: %w", port, err)
	}

	return &TsnetListener{server: srv, listener: ln}, nil
}

// Accept waits for and returns the next connection.
func (t *TsnetListener) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Addr returns the listener's network address.
func (t *TsnetListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops the listener and the tsnet node.
func (t *TsnetListener) Close() error {
	lnErr := t.listener.Close()
	srvErr := t.server.Close()
	if lnErr != nil {
		return fmt.Errorf("close listener: %w", lnErr)
	}
	if srvErr != nil {
		return fmt.Errorf("close tsnet server: %w", srvErr)
	}
	return nil
}
