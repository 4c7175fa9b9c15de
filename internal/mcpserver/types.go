package mcpserver

// ListSessionsInput is the input for the list_sessions MCP tool.
type ListSessionsInput struct{}

// SessionInfo is one session as reported by the MCP tools.
type SessionInfo struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	URLPath    string `json:"url_path"`
	WorkingDir string `json:"working_dir"`
	PID        int    `json:"pid"`
	StartedAt  string `json:"started_at"`
}

// ListSessionsOutput is the output for the list_sessions MCP tool.
type ListSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions" jsonschema:"Live terminal sessions"`
}

// StartSessionInput is the input for the start_session MCP tool.
type StartSessionInput struct {
	Dir  string `json:"dir" jsonschema:"Working directory for the session"`
	Name string `json:"name,omitempty" jsonschema:"Session name. Derived from the directory when omitted"`
}

// StartSessionOutput is the output for the start_session MCP tool.
type StartSessionOutput struct {
	Session SessionInfo `json:"session" jsonschema:"The started session"`
}

// StopSessionInput is the input for the stop_session MCP tool.
type StopSessionInput struct {
	Name     string `json:"name" jsonschema:"Name of the session to stop"`
	KillTmux bool   `json:"kill_tmux,omitempty" jsonschema:"Also kill the backing tmux session"`
}

// StopSessionOutput is the output for the stop_session MCP tool.
type StopSessionOutput struct {
	Status string `json:"status" jsonschema:"stopped on success"`
}

// CreateShareInput is the input for the create_share MCP tool.
type CreateShareInput struct {
	SessionName string `json:"session_name" jsonschema:"Session to share"`
	ExpiresIn   string `json:"expires_in,omitempty" jsonschema:"Validity duration like 1h. Default 1h"`
}

// CreateShareOutput is the output for the create_share MCP tool.
type CreateShareOutput struct {
	Token     string `json:"token" jsonschema:"Bearer token granting read-only access"`
	URL       string `json:"url" jsonschema:"Share landing path on the daemon"`
	ExpiresAt string `json:"expires_at" jsonschema:"Expiry timestamp, RFC 3339"`
}

// ListSharesInput is the input for the list_shares MCP tool.
type ListSharesInput struct{}

// ShareInfo is one share token as reported by list_shares.
type ShareInfo struct {
	Token       string `json:"token"`
	SessionName string `json:"session_name"`
	ExpiresAt   string `json:"expires_at"`
	ReadOnly    bool   `json:"read_only"`
}

// ListSharesOutput is the output for the list_shares MCP tool.
type ListSharesOutput struct {
	Shares []ShareInfo `json:"shares" jsonschema:"Active share tokens"`
}

// RevokeShareInput is the input for the revoke_share MCP tool.
type RevokeShareInput struct {
	Token string `json:"token" jsonschema:"Share token to revoke"`
}

// RevokeShareOutput is the output for the revoke_share MCP tool.
type RevokeShareOutput struct {
	Status string `json:"status" jsonschema:"revoked on success"`
}
