// Package httpd is the daemon's HTTP surface: portal, admin API, share
// landing, static assets, and the HTTP/WebSocket reverse proxy in front of
// the child terminal servers.
package httpd

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/eventlog"
	"github.com/ttyd-mux/ttyd-mux/internal/notify"
	"github.com/ttyd-mux/ttyd-mux/internal/session"
	"github.com/ttyd-mux/ttyd-mux/internal/share"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// shareCookie carries the share token that marks a browsing context
// read-only. Scoped to the base path so unrelated apps on the same origin
// never see it.
const shareCookie = "ttydmux_share"

// Server serves everything under the configured base path.
type Server struct {
	cfg      *config.Config
	store    *state.Store
	sessions *session.Manager
	shares   *share.Manager
	subs     *notify.Subscriptions
	observer *notify.Observer
	events   *eventlog.Log
	log      *logrus.Entry

	// shutdown is invoked by POST /api/shutdown; wired to the supervisor.
	shutdown func()

	upgrader  websocket.Upgrader
	transport *http.Transport
	startTime time.Time
}

// NewServer wires the HTTP surface. observer, events and shutdown may be nil.
func NewServer(cfg *config.Config, store *state.Store, sessions *session.Manager, shares *share.Manager, subs *notify.Subscriptions, observer *notify.Observer, events *eventlog.Log, shutdown func(), log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dial := cfg.DialTimeout.Std()
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		shares:   shares,
		subs:     subs,
		observer: observer,
		events:   events,
		log:      log,
		shutdown: shutdown,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon sits behind the user's own browser or an upstream
			// proxy on the same machine; origin enforcement happens there.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: dial,
			}).DialContext,
			ResponseHeaderTimeout: dial,
			MaxIdleConnsPerHost:   8,
		},
		startTime: time.Now(),
	}
}

// Handler returns the root handler for the daemon listener.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

// routeKind discriminates what a URL path resolves to.
type routeKind int

const (
	routeNotFound routeKind = iota
	routePortal
	routeAPI
	routeShareLanding
	routeStatic
	routeProxy
)

// route is the outcome of resolving one request path.
type route struct {
	kind     routeKind
	token    string        // share landing
	asset    string        // static
	target   state.Session // proxy
	readOnly bool          // proxy, from the share cookie
}

// serve dispatches one request through the router.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	rt := s.resolve(r)

	switch rt.kind {
	case routePortal:
		s.servePortal(w, r)
	case routeAPI:
		s.serveAPI(w, r)
	case routeShareLanding:
		s.serveShareLanding(w, r, rt.token)
	case routeStatic:
		s.serveStatic(w, r, rt.asset)
	case routeProxy:
		if websocket.IsWebSocketUpgrade(r) {
			s.proxyWebSocket(w, r, rt)
			return
		}
		s.proxyHTTP(w, r, rt)
	default:
		http.NotFound(w, r)
	}
}

// resolve maps the request path to a route. The first segment after the base
// path decides everything.
func (s *Server) resolve(r *http.Request) route {
	base := s.cfg.NormalizedBasePath()
	path := r.URL.Path

	if base != "" {
		if path != base && !strings.HasPrefix(path, base+"/") {
			return route{kind: routeNotFound}
		}
		path = strings.TrimPrefix(path, base)
	}
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return route{kind: routePortal}
	}

	first, _, _ := strings.Cut(path, "/")
	switch first {
	case "api":
		return route{kind: routeAPI}
	case "share":
		_, token, _ := strings.Cut(path, "/")
		token, _, _ = strings.Cut(token, "/")
		return route{kind: routeShareLanding, token: token}
	}

	if isStaticAsset(first) {
		return route{kind: routeStatic, asset: first}
	}

	// Session traffic is only proxied in proxy mode; in static mode an
	// upstream proxy routes it to the children directly.
	if s.cfg.ProxyMode != config.ProxyModeProxy {
		return route{kind: routeNotFound}
	}

	sess, ok := s.sessions.Lookup(first)
	if !ok {
		return route{kind: routeNotFound}
	}

	return route{
		kind:     routeProxy,
		target:   sess,
		readOnly: s.readOnlyFor(r, sess.Name),
	}
}

// readOnlyFor reports whether the request carries a share cookie that binds
// this browsing context to the session read-only. Invalid or foreign cookies
// are ignored.
func (s *Server) readOnlyFor(r *http.Request, sessionName string) bool {
	cookie, err := r.Cookie(shareCookie)
	if err != nil {
		return false
	}
	sh, err := s.shares.Lookup(cookie.Value)
	if err != nil {
		return false
	}
	return sh.SessionName == sessionName && sh.ReadOnly
}

// serveShareLanding validates the token, marks the browsing context and
// redirects to the session.
func (s *Server) serveShareLanding(w http.ResponseWriter, r *http.Request, token string) {
	sh, err := s.shares.Lookup(token)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	base := s.cfg.NormalizedBasePath()
	cookiePath := base
	if cookiePath == "" {
		cookiePath = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     shareCookie,
		Value:    sh.Token,
		Path:     cookiePath,
		Expires:  sh.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, base+"/"+sh.SessionName+"/", http.StatusFound)
}
