package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/notify"
	"github.com/ttyd-mux/ttyd-mux/internal/session"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// apiError is the uniform failure body.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// serveAPI dispatches P/api/… requests.
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	base := s.cfg.NormalizedBasePath()
	path := strings.TrimPrefix(r.URL.Path, base)
	path = strings.TrimPrefix(path, "/api")
	path = strings.TrimSuffix(path, "/")

	head, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")

	switch {
	case head == "status" && r.Method == http.MethodGet:
		s.apiStatus(w)
	case head == "sessions" && rest == "" && r.Method == http.MethodGet:
		s.apiListSessions(w)
	case head == "sessions" && rest == "" && r.Method == http.MethodPost:
		s.apiStartSession(w, r)
	case head == "sessions" && rest != "" && r.Method == http.MethodDelete:
		s.apiStopSession(w, r, rest)
	case head == "shutdown" && r.Method == http.MethodPost:
		s.apiShutdown(w)
	case head == "shares" && rest == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, orEmptyShares(s.shares.List()))
	case head == "shares" && rest == "" && r.Method == http.MethodPost:
		s.apiCreateShare(w, r)
	case head == "shares" && rest != "" && r.Method == http.MethodGet:
		s.apiGetShare(w, rest)
	case head == "shares" && rest != "" && r.Method == http.MethodDelete:
		s.apiRevokeShare(w, rest)
	case head == "events" && rest == "" && r.Method == http.MethodGet:
		s.apiEvents(w, r)
	case head == "subscriptions" && rest == "" && r.Method == http.MethodGet:
		s.apiListSubscriptions(w)
	case head == "subscriptions" && rest == "" && r.Method == http.MethodPost:
		s.apiSubscribe(w, r)
	case head == "subscriptions" && rest != "" && r.Method == http.MethodDelete:
		s.apiUnsubscribe(w, rest)
	default:
		writeError(w, http.StatusNotFound, "unknown API route")
	}
}

// statusResponse is the GET /api/status body.
type statusResponse struct {
	Daemon   *state.DaemonInfo `json:"daemon"`
	Sessions []state.Session   `json:"sessions"`
}

func (s *Server) apiStatus(w http.ResponseWriter) {
	snap := s.store.Load()
	writeJSON(w, http.StatusOK, statusResponse{
		Daemon:   snap.Daemon,
		Sessions: orEmptySessions(s.sessions.List()),
	})
}

func (s *Server) apiListSessions(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, orEmptySessions(s.sessions.List()))
}

// startSessionRequest is the POST /api/sessions body.
type startSessionRequest struct {
	Name     string `json:"name"`
	Dir      string `json:"dir"`
	TmuxMode string `json:"tmuxMode"`
	Port     int    `json:"port"`
}

func (s *Server) apiStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Dir == "" {
		writeError(w, http.StatusBadRequest, "dir is required")
		return
	}

	sess, err := s.sessions.Start(r.Context(), session.StartRequest{
		Name:     req.Name,
		Dir:      req.Dir,
		Port:     req.Port,
		TmuxMode: config.TmuxMode(req.TmuxMode),
	})
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) apiStopSession(w http.ResponseWriter, r *http.Request, name string) {
	killTmux, _ := strconv.ParseBool(r.URL.Query().Get("killTmux"))
	if err := s.sessions.Stop(r.Context(), name, killTmux); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) apiShutdown(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if s.shutdown != nil {
		// Asynchronous so the response reaches the caller first.
		go s.shutdown()
	}
}

// createShareRequest is the POST /api/shares body. expiresIn is a Go duration
// string like "1h".
type createShareRequest struct {
	SessionName string `json:"sessionName"`
	ExpiresIn   string `json:"expiresIn"`
	ReadOnly    *bool  `json:"readOnly"`
}

func (s *Server) apiCreateShare(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	expiresIn, err := time.ParseDuration(req.ExpiresIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid expiresIn: "+err.Error())
		return
	}
	readOnly := true
	if req.ReadOnly != nil {
		readOnly = *req.ReadOnly
	}

	sh, err := s.shares.Create(req.SessionName, expiresIn, readOnly)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) apiGetShare(w http.ResponseWriter, token string) {
	sh, err := s.shares.Lookup(token)
	if err != nil {
		writeError(w, http.StatusNotFound, "share not found")
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) apiRevokeShare(w http.ResponseWriter, token string) {
	if err := s.shares.Revoke(token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) apiEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event log disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.events.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) apiListSubscriptions(w http.ResponseWriter) {
	subs := s.subs.List()
	if subs == nil {
		subs = []state.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// subscribeRequest is the POST /api/subscriptions body.
type subscribeRequest struct {
	Endpoint      string            `json:"endpoint"`
	Keys          map[string]string `json:"keys"`
	SessionFilter string            `json:"sessionFilter"`
}

func (s *Server) apiSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	sub, err := s.subs.Subscribe(req.Endpoint, req.Keys, req.SessionFilter)
	if err != nil {
		if errors.Is(err, notify.ErrBadEndpoint) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) apiUnsubscribe(w http.ResponseWriter, id string) {
	if err := s.subs.Remove(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// sessionErrorStatus maps manager error kinds onto HTTP statuses.
func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrDirInUse),
		errors.Is(err, session.ErrPortUnavailable),
		errors.Is(err, session.ErrPortExhausted),
		errors.Is(err, session.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func orEmptySessions(in []state.Session) []state.Session {
	if in == nil {
		return []state.Session{}
	}
	return in
}

func orEmptyShares(in []state.Share) []state.Share {
	if in == nil {
		return []state.Share{}
	}
	return in
}
