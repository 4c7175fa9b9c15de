// Package cli implements the command-side logic: talking to a running daemon
// over its HTTP API and managing the daemon process itself.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ttyd-mux/ttyd-mux/internal/eventlog"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// Client talks to the daemon's admin API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the daemon listening on 127.0.0.1:port under
// basePath.
func NewClient(port int, basePath string) *Client {
	base := strings.TrimRight(basePath, "/")
	return &Client{
		baseURL: "http://127.0.0.1:" + strconv.Itoa(port) + base + "/api",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusResult is the daemon status document.
type StatusResult struct {
	Daemon   *state.DaemonInfo `json:"daemon"`
	Sessions []state.Session   `json:"sessions"`
}

// Status fetches daemon identity and the live session list.
func (c *Client) Status() (StatusResult, error) {
	var out StatusResult
	err := c.do(http.MethodGet, "/status", nil, &out)
	return out, err
}

// ListSessions fetches the live sessions.
func (c *Client) ListSessions() ([]state.Session, error) {
	var out []state.Session
	err := c.do(http.MethodGet, "/sessions", nil, &out)
	return out, err
}

// StartSessionRequest mirrors the POST /api/sessions body.
type StartSessionRequest struct {
	Name     string `json:"name,omitempty"`
	Dir      string `json:"dir"`
	TmuxMode string `json:"tmuxMode,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// StartSession asks the daemon to start a session.
func (c *Client) StartSession(req StartSessionRequest) (state.Session, error) {
	var out state.Session
	err := c.do(http.MethodPost, "/sessions", req, &out)
	return out, err
}

// StopSession asks the daemon to stop the named session.
func (c *Client) StopSession(name string, killTmux bool) error {
	path := "/sessions/" + name
	if killTmux {
		path += "?killTmux=true"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// Shutdown asks the daemon to shut down gracefully.
func (c *Client) Shutdown() error {
	return c.do(http.MethodPost, "/shutdown", nil, nil)
}

// ListShares fetches the active share tokens.
func (c *Client) ListShares() ([]state.Share, error) {
	var out []state.Share
	err := c.do(http.MethodGet, "/shares", nil, &out)
	return out, err
}

// CreateShare issues a share token for a session. expiresIn is a duration
// string like "1h".
func (c *Client) CreateShare(sessionName, expiresIn string) (state.Share, error) {
	var out state.Share
	err := c.do(http.MethodPost, "/shares", map[string]string{
		"sessionName": sessionName,
		"expiresIn":   expiresIn,
	}, &out)
	return out, err
}

// RevokeShare deletes a share token; unknown tokens succeed.
func (c *Client) RevokeShare(token string) error {
	return c.do(http.MethodDelete, "/shares/"+token, nil, nil)
}

// Events fetches recent lifecycle events.
func (c *Client) Events(limit int) ([]eventlog.Entry, error) {
	var out []eventlog.Entry
	err := c.do(http.MethodGet, "/events?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

// do issues one API request. Non-2xx responses surface the server's error
// message.
func (c *Client) do(method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
