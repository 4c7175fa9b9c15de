package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ttyd-mux/ttyd-mux/internal/cli"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

func sessionInfo(sess state.Session) SessionInfo {
	return SessionInfo{
		Name:       sess.Name,
		Port:       sess.Port,
		URLPath:    sess.URLPath,
		WorkingDir: sess.WorkingDir,
		PID:        sess.PID,
		StartedAt:  sess.StartedAt.Format(time.RFC3339),
	}
}

// handleListSessions lists live sessions via the daemon API.
func (s *Server) handleListSessions(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListSessionsInput,
) (*gomcp.CallToolResult, ListSessionsOutput, error) {
	sessions, err := s.client.ListSessions()
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}

	out := ListSessionsOutput{Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, sessionInfo(sess))
	}
	return nil, out, nil
}

// handleStartSession starts a session in the given directory.
func (s *Server) handleStartSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input StartSessionInput,
) (*gomcp.CallToolResult, StartSessionOutput, error) {
	if input.Dir == "" {
		return nil, StartSessionOutput{}, fmt.Errorf("'dir' is required")
	}

	sess, err := s.client.StartSession(cli.StartSessionRequest{
		Name: input.Name,
		Dir:  input.Dir,
	})
	if err != nil {
		return nil, StartSessionOutput{}, fmt.Errorf("start session: %w", err)
	}
	return nil, StartSessionOutput{Session: sessionInfo(sess)}, nil
}

// handleStopSession stops a session by name.
func (s *Server) handleStopSession(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input StopSessionInput,
) (*gomcp.CallToolResult, StopSessionOutput, error) {
	if input.Name == "" {
		return nil, StopSessionOutput{}, fmt.Errorf("'name' is required")
	}
	if err := s.client.StopSession(input.Name, input.KillTmux); err != nil {
		return nil, StopSessionOutput{}, fmt.Errorf("stop session: %w", err)
	}
	return nil, StopSessionOutput{Status: "stopped"}, nil
}

// handleCreateShare issues a read-only share token.
func (s *Server) handleCreateShare(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CreateShareInput,
) (*gomcp.CallToolResult, CreateShareOutput, error) {
	if input.SessionName == "" {
		return nil, CreateShareOutput{}, fmt.Errorf("'session_name' is required")
	}
	expiresIn := input.ExpiresIn
	if expiresIn == "" {
		expiresIn = "1h"
	}

	sh, err := s.client.CreateShare(input.SessionName, expiresIn)
	if err != nil {
		return nil, CreateShareOutput{}, fmt.Errorf("create share: %w", err)
	}

	return nil, CreateShareOutput{
		Token:     sh.Token,
		URL:       strings.TrimRight(s.basePath, "/") + "/share/" + sh.Token,
		ExpiresAt: sh.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// handleListShares lists active share tokens.
func (s *Server) handleListShares(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListSharesInput,
) (*gomcp.CallToolResult, ListSharesOutput, error) {
	shares, err := s.client.ListShares()
	if err != nil {
		return nil, ListSharesOutput{}, fmt.Errorf("list shares: %w", err)
	}

	out := ListSharesOutput{Shares: make([]ShareInfo, 0, len(shares))}
	for _, sh := range shares {
		out.Shares = append(out.Shares, ShareInfo{
			Token:       sh.Token,
			SessionName: sh.SessionName,
			ExpiresAt:   sh.ExpiresAt.Format(time.RFC3339),
			ReadOnly:    sh.ReadOnly,
		})
	}
	return nil, out, nil
}

// handleRevokeShare revokes a token.
func (s *Server) handleRevokeShare(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input RevokeShareInput,
) (*gomcp.CallToolResult, RevokeShareOutput, error) {
	if input.Token == "" {
		return nil, RevokeShareOutput{}, fmt.Errorf("'token' is required")
	}
	if err := s.client.RevokeShare(input.Token); err != nil {
		return nil, RevokeShareOutput{}, fmt.Errorf("revoke share: %w", err)
	}
	return nil, RevokeShareOutput{Status: "revoked"}, nil
}
