// Package mcpserver exposes the daemon's session and share operations as MCP
// tools over stdio, so coding agents can drive terminal sessions.
package mcpserver

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ttyd-mux/ttyd-mux/internal/cli"
)

// Server is the MCP server bridging stdio to the daemon's HTTP API.
type Server struct {
	client   *cli.Client
	basePath string
	version  string
	server   *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server that talks to the daemon on the given port
// under basePath.
func NewServer(daemonPort int, basePath string, opts ...Option) *Server {
	s := &Server{
		client:   cli.NewClient(daemonPort, basePath),
		basePath: basePath,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "ttyd-mux",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP on stdin/stdout until the client disconnects or the context
// is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// registerTools registers all tool handlers.
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List the live web-terminal sessions managed by the ttyd-mux daemon",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "start_session",
		Description: "Start a web-terminal session in a directory. The session gets its own URL path under the daemon's base path",
	}, s.handleStartSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "stop_session",
		Description: "Stop a running web-terminal session by name",
	}, s.handleStopSession)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_share",
		Description: "Create a time-limited read-only share link for a session",
	}, s.handleCreateShare)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_shares",
		Description: "List the active share tokens",
	}, s.handleListShares)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "revoke_share",
		Description: "Revoke a share token before it expires",
	}, s.handleRevokeShare)
}
