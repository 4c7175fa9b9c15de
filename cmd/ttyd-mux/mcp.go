package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ttyd-mux/ttyd-mux/internal/mcpserver"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}
	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for terminal session control",
		Long: `Starts an MCP server on stdin/stdout exposing session and share tools
(list_sessions, start_session, stop_session, create_share, list_shares,
revoke_share). Requires the ttyd-mux daemon to be running.

Configure in an MCP client:
  {
    "mcpServers": {
      "ttyd-mux": {
        "type": "stdio",
        "command": "ttyd-mux",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServe(cmd.Context())
		},
	}
}

func runMCPServe(ctx context.Context) error {
	cfg, _, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	server := mcpserver.NewServer(cfg.DaemonPort, cfg.BasePath, mcpserver.WithVersion(Version))

	// SIGTERM/SIGINT end the stdio session cleanly.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	_ = os.Stdout.Sync()
	return nil
}
