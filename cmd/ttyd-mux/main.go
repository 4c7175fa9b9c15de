package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ttyd-mux/ttyd-mux/internal/cli"
	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/daemon"
	"github.com/ttyd-mux/ttyd-mux/internal/paths"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagConfig  string
	flagJSON    bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ttyd-mux",
		Short: "Web-terminal session multiplexer",
		Long: `ttyd-mux supervises per-directory web-terminal sessions over tmux and
serves them under one base path: a portal, an admin API, and HTTP/WebSocket
reverse proxies with time-limited read-only share links.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: <state-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("ttyd-mux v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(lsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(sharesCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(shutdownCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for commands that need it.
func loadConfig(ctx context.Context) (*config.Config, string, error) {
	stateDir, err := paths.EnsureStateDir()
	if err != nil {
		return nil, "", err
	}
	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = paths.ConfigFile(stateDir)
	}
	cfg, err := config.Load(ctx, cfgPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, stateDir, nil
}

// apiClient builds a client against the running daemon, preferring the port
// the daemon advertised in its pidfile over the local config.
func apiClient(ctx context.Context) (*cli.Client, *config.Config, error) {
	cfg, stateDir, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	port := cfg.DaemonPort
	basePath := cfg.BasePath
	if running, info, err := daemon.CheckPIDFile(paths.PIDFile(stateDir)); err == nil && running {
		if info.ListenPort != 0 {
			port = info.ListenPort
		}
		if info.BasePath != "" {
			basePath = info.BasePath
		}
	}
	return cli.NewClient(port, basePath), cfg, nil
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the ttyd-mux daemon",
	}
	cmd.AddCommand(daemonRunCmd())
	cmd.AddCommand(daemonStartCmd())
	cmd.AddCommand(daemonStopCmd())
	cmd.AddCommand(daemonStatusCmd())
	return cmd
}

func daemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, stateDir, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			logger := logrus.New()
			if flagVerbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			log := logrus.NewEntry(logger)

			return daemon.New(cfg, stateDir, log).Run(cmd.Context())
		},
	}
}

func daemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStart(flagConfig); err != nil {
				return err
			}
			fmt.Println("daemon started")
			return nil
		},
	}
}

func daemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.DaemonStop(); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func daemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.DaemonStatus()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			if result.Running {
				fmt.Printf("daemon running (pid %d, port %d, up %s)\n", result.PID, result.ListenPort, result.Uptime)
			} else {
				fmt.Println("daemon stopped")
			}
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var flagName string
	var flagPort int
	var flagTmuxMode string

	cmd := &cobra.Command{
		Use:   "start [dir]",
		Short: "Start a web-terminal session in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := client.StartSession(cli.StartSessionRequest{
				Name:     flagName,
				Dir:      dir,
				Port:     flagPort,
				TmuxMode: flagTmuxMode,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sess)
			}
			fmt.Printf("started %s at %s (port %d)\n", sess.Name, sess.URLPath+"/", sess.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagName, "name", "", "Session name (default: derived from directory)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "Explicit session port (default: allocate)")
	cmd.Flags().StringVar(&flagTmuxMode, "tmux-mode", "", "Override tmux mode: auto, attach or off")
	return cmd
}

func stopCmd() *cobra.Command {
	var flagKillTmux bool

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.StopSession(args[0], flagKillTmux); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagKillTmux, "kill-tmux", false, "Also kill the backing tmux session")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := client.ListSessions()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sessions)
			}
			printSessions(sessions)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon identity and live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			result, err := client.Status()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(result)
			}
			if result.Daemon != nil {
				fmt.Printf("daemon pid %d, port %d\n", result.Daemon.PID, result.Daemon.ListenPort)
			}
			printSessions(result.Sessions)
			return nil
		},
	}
}

func shareCmd() *cobra.Command {
	var flagExpires string

	cmd := &cobra.Command{
		Use:   "share <session>",
		Short: "Create a read-only share link for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			sh, err := client.CreateShare(args[0], flagExpires)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(sh)
			}
			fmt.Printf("%s/share/%s (expires %s)\n",
				cfg.NormalizedBasePath(), sh.Token, sh.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVar(&flagExpires, "expires", "1h", "Validity duration, e.g. 30m, 1h, 24h")
	return cmd
}

func sharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares",
		Short: "List active share tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			shares, err := client.ListShares()
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(shares)
			}
			if len(shares) == 0 {
				fmt.Println("no active shares")
				return nil
			}
			for _, sh := range shares {
				fmt.Printf("%-12s %s expires %s\n",
					sh.SessionName, sh.Token, sh.ExpiresAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a share token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.RevokeShare(args[0]); err != nil {
				return err
			}
			fmt.Println("revoked")
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := client.Events(flagLimit)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("no recorded events")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-14s %s", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Subject)
				if e.Detail != "" {
					line += "  (" + e.Detail + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum events to show")
	return cmd
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := apiClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Shutdown(); err != nil {
				return err
			}
			fmt.Println("daemon shutting down")
			return nil
		},
	}
}

func printSessions(sessions []state.Session) {
	if len(sessions) == 0 {
		fmt.Println("no sessions running")
		return
	}
	wide := term.IsTerminal(int(os.Stdout.Fd()))
	for _, sess := range sessions {
		if wide {
			fmt.Printf("%-16s %-24s port %-5d pid %d\n", sess.Name, truncatePath(sess.WorkingDir, 24), sess.Port, sess.PID)
		} else {
			fmt.Printf("%s\t%s\t%d\t%d\n", sess.Name, sess.WorkingDir, sess.Port, sess.PID)
		}
	}
}

// truncatePath shortens long directories from the left, keeping the tail.
func truncatePath(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return "…" + p[len(p)-max+1:]
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
