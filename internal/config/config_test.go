package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.BasePath != "/ttyd-mux" {
		t.Errorf("base_path = %q, want /ttyd-mux", cfg.BasePath)
	}
	if cfg.TmuxMode != TmuxAuto {
		t.Errorf("tmux_mode = %q, want auto", cfg.TmuxMode)
	}
	if cfg.ProxyMode != ProxyModeProxy {
		t.Errorf("proxy_mode = %q, want proxy", cfg.ProxyMode)
	}
	if cfg.RevalidateInterval.Std() != 5*time.Second {
		t.Errorf("revalidate_interval = %s, want 5s", cfg.RevalidateInterval)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config file should use defaults, got: %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
base_path: /term
base_port: 9000
daemon_port: 9100
tmux_mode: attach
share_max_expiry: 48h
ttyd_args: ["-W"]
directory_browser:
  enabled: true
  allowed_directories: ["/home/user/projects"]
`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BasePath != "/term" {
		t.Errorf("base_path = %q, want /term", cfg.BasePath)
	}
	if cfg.BasePort != 9000 || cfg.DaemonPort != 9100 {
		t.Errorf("ports = %d/%d, want 9000/9100", cfg.BasePort, cfg.DaemonPort)
	}
	if cfg.TmuxMode != TmuxAttach {
		t.Errorf("tmux_mode = %q, want attach", cfg.TmuxMode)
	}
	if cfg.ShareMaxExpiry.Std() != 48*time.Hour {
		t.Errorf("share_max_expiry = %s, want 48h", cfg.ShareMaxExpiry)
	}
	if !cfg.DirectoryBrowser.Enabled || len(cfg.DirectoryBrowser.AllowedDirectories) != 1 {
		t.Errorf("directory_browser not parsed: %+v", cfg.DirectoryBrowser)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("daemon_port: 9100\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TTYD_MUX_DAEMON_PORT", "9999")
	t.Setenv("TTYD_MUX_TMUX_MODE", "off")

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DaemonPort != 9999 {
		t.Errorf("daemon_port = %d, want env override 9999", cfg.DaemonPort)
	}
	if cfg.TmuxMode != TmuxOff {
		t.Errorf("tmux_mode = %q, want off", cfg.TmuxMode)
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := Default()
	cfg.TmuxMode = "sometimes"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for tmux_mode=sometimes")
	}

	cfg = Default()
	cfg.ProxyMode = "tunnel"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for proxy_mode=tunnel")
	}

	cfg = Default()
	cfg.BasePath = "no-slash"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for relative base_path")
	}
}

func TestNormalizedBasePath(t *testing.T) {
	cfg := Default()
	cfg.BasePath = "/ttyd-mux/"
	if got := cfg.NormalizedBasePath(); got != "/ttyd-mux" {
		t.Errorf("normalized = %q, want /ttyd-mux", got)
	}
	cfg.BasePath = "/"
	if got := cfg.NormalizedBasePath(); got != "" {
		t.Errorf("normalized root = %q, want empty", got)
	}
}
