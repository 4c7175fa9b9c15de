// Package config loads the daemon configuration: defaults, then the YAML
// config file, then TTYD_MUX_* environment variables, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// TmuxMode controls whether the session manager drives tmux.
type TmuxMode string

const (
	// TmuxAuto ensures the tmux session exists before spawning the child.
	TmuxAuto TmuxMode = "auto"
	// TmuxAttach trusts that the tmux session already exists; it is only
	// killed on stop.
	TmuxAttach TmuxMode = "attach"
	// TmuxOff bypasses tmux entirely; the child runs a raw shell.
	TmuxOff TmuxMode = "off"
)

// ProxyMode controls whether the daemon proxies session traffic itself.
type ProxyMode string

const (
	// ProxyModeProxy serves portal, API and per-session reverse proxy.
	ProxyModeProxy ProxyMode = "proxy"
	// ProxyModeStatic serves only portal and API; an upstream proxy is
	// expected to route session traffic to the children directly.
	ProxyModeStatic ProxyMode = "static"
)

// Duration is a time.Duration that unmarshals from strings like "90s" or "1h"
// in both YAML and environment variables.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by envconfig).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DirectoryBrowser configures the directory-browsing endpoints.
type DirectoryBrowser struct {
	Enabled            bool     `yaml:"enabled" env:"TTYD_MUX_DIR_BROWSER_ENABLED, overwrite"`
	AllowedDirectories []string `yaml:"allowed_directories" env:"TTYD_MUX_DIR_BROWSER_ALLOWED, overwrite"`
}

// Tailscale configures the optional tsnet listener.
type Tailscale struct {
	Enabled    bool   `yaml:"enabled" env:"TTYD_MUX_TS_ENABLED, overwrite"`
	Hostname   string `yaml:"hostname" env:"TTYD_MUX_TS_HOSTNAME, overwrite"`
	AuthKey    string `yaml:"auth_key" env:"TTYD_MUX_TS_AUTHKEY, overwrite"`
	StateDir   string `yaml:"state_dir" env:"TTYD_MUX_TS_STATE_DIR, overwrite"`
	Port       int    `yaml:"port" env:"TTYD_MUX_TS_PORT, overwrite"`
	ControlURL string `yaml:"control_url" env:"TTYD_MUX_TS_CONTROL_URL, overwrite"`
}

// Config is the resolved daemon configuration.
type Config struct {
	BasePath        string    `yaml:"base_path" env:"TTYD_MUX_BASE_PATH, overwrite"`
	BasePort        int       `yaml:"base_port" env:"TTYD_MUX_BASE_PORT, overwrite"`
	DaemonPort      int       `yaml:"daemon_port" env:"TTYD_MUX_DAEMON_PORT, overwrite"`
	ListenAddresses []string  `yaml:"listen_addresses" env:"TTYD_MUX_LISTEN_ADDRESSES, overwrite"`
	ProxyMode       ProxyMode `yaml:"proxy_mode" env:"TTYD_MUX_PROXY_MODE, overwrite"`
	TmuxMode        TmuxMode  `yaml:"tmux_mode" env:"TTYD_MUX_TMUX_MODE, overwrite"`

	// TtydCommand is the child web-terminal binary; TtydArgs are extra flags
	// appended to every spawn.
	TtydCommand string   `yaml:"ttyd_command" env:"TTYD_MUX_TTYD_COMMAND, overwrite"`
	TtydArgs    []string `yaml:"ttyd_args"`

	// Hostname and CaddyAdminAPI are consumed by the external route-writer
	// CLI; the daemon only carries them.
	Hostname      string `yaml:"hostname" env:"TTYD_MUX_HOSTNAME, overwrite"`
	CaddyAdminAPI string `yaml:"caddy_admin_api" env:"TTYD_MUX_CADDY_ADMIN_API, overwrite"`

	DirectoryBrowser DirectoryBrowser `yaml:"directory_browser"`
	Tailscale        Tailscale        `yaml:"tailscale"`

	RevalidateInterval Duration `yaml:"revalidate_interval" env:"TTYD_MUX_REVALIDATE_INTERVAL, overwrite"`
	ShareSweepInterval Duration `yaml:"share_sweep_interval" env:"TTYD_MUX_SHARE_SWEEP_INTERVAL, overwrite"`
	ShareMinExpiry     Duration `yaml:"share_min_expiry" env:"TTYD_MUX_SHARE_MIN_EXPIRY, overwrite"`
	ShareMaxExpiry     Duration `yaml:"share_max_expiry" env:"TTYD_MUX_SHARE_MAX_EXPIRY, overwrite"`
	DialTimeout        Duration `yaml:"dial_timeout" env:"TTYD_MUX_DIAL_TIMEOUT, overwrite"`
	ShutdownGrace      Duration `yaml:"shutdown_grace" env:"TTYD_MUX_SHUTDOWN_GRACE, overwrite"`
}

// Default returns the configuration with every field at its default value.
func Default() *Config {
	return &Config{
		BasePath:           "/ttyd-mux",
		BasePort:           7680,
		DaemonPort:         7670,
		ListenAddresses:    []string{"127.0.0.1"},
		ProxyMode:          ProxyModeProxy,
		TmuxMode:           TmuxAuto,
		TtydCommand:        "ttyd",
		RevalidateInterval: Duration(5 * time.Second),
		ShareSweepInterval: Duration(time.Minute),
		ShareMinExpiry:     Duration(time.Minute),
		ShareMaxExpiry:     Duration(7 * 24 * time.Hour),
		DialTimeout:        Duration(5 * time.Second),
		ShutdownGrace:      Duration(10 * time.Second),
	}
}

// Load reads the config file at path (missing file is not an error), applies
// environment overrides, and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum fields and basic sanity of the configuration.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("base_path must start with '/', got %q", c.BasePath)
	}
	switch c.TmuxMode {
	case TmuxAuto, TmuxAttach, TmuxOff:
	default:
		return fmt.Errorf("tmux_mode must be auto, attach or off, got %q", c.TmuxMode)
	}
	switch c.ProxyMode {
	case ProxyModeProxy, ProxyModeStatic:
	default:
		return fmt.Errorf("proxy_mode must be proxy or static, got %q", c.ProxyMode)
	}
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("base_port out of range: %d", c.BasePort)
	}
	if c.DaemonPort <= 0 || c.DaemonPort > 65535 {
		return fmt.Errorf("daemon_port out of range: %d", c.DaemonPort)
	}
	if c.ShareMinExpiry.Std() <= 0 || c.ShareMaxExpiry.Std() < c.ShareMinExpiry.Std() {
		return fmt.Errorf("share expiry range invalid: min=%s max=%s", c.ShareMinExpiry, c.ShareMaxExpiry)
	}
	return nil
}

// NormalizedBasePath returns base_path without a trailing slash. The root
// path "/" normalizes to the empty string so route joins stay clean.
func (c *Config) NormalizedBasePath() string {
	p := strings.TrimRight(c.BasePath, "/")
	return p
}
