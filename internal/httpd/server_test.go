package httpd

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/notify"
	"github.com/ttyd-mux/ttyd-mux/internal/session"
	"github.com/ttyd-mux/ttyd-mux/internal/share"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// fakeRunner backs the session manager in tests; every recorded PID counts as
// running until marked dead.
type fakeRunner struct {
	mu      sync.Mutex
	nextPID int
	dead    map[int]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{nextPID: 1000, dead: make(map[int]bool)}
}

func (f *fakeRunner) Spawn(string, []string, string, []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	return f.nextPID, nil
}

func (f *fakeRunner) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pid > 1000 && !f.dead[pid]
}

func (f *fakeRunner) Kill(pid int, _ syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[pid] = true
	return nil
}

func (f *fakeRunner) IsPortAvailable(int) bool { return true }

// tmuxStub satisfies tmuxcli.Client without touching tmux.
type tmuxStub struct{}

func (tmuxStub) EnsureSession(context.Context, string, string) (bool, error) { return false, nil }
func (tmuxStub) KillSession(context.Context, string) error                   { return nil }
func (tmuxStub) IsInstalled() bool                                           { return false }

type testEnv struct {
	server   *Server
	ts       *httptest.Server
	store    *state.Store
	runner   *fakeRunner
	cfg      *config.Config
	shutdown *int
	lines    *[]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.TmuxMode = config.TmuxOff

	store := state.NewStore(t.TempDir(), nil)
	runner := newFakeRunner()
	bus := session.NewBus(nil)
	sessions := session.NewManager(store, runner, tmuxStub{}, cfg, bus, nil, nil)
	shares := share.NewManager(store, sessions, cfg, nil, nil)
	subs := notify.NewSubscriptions(store)

	var lines []string
	observer := notify.NewObserver(func(name, line string) {
		lines = append(lines, name+":"+line)
	}, nil)

	shutdowns := 0
	srv := NewServer(cfg, store, sessions, shares, subs, observer, nil, func() { shutdowns++ }, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:   srv,
		ts:       ts,
		store:    store,
		runner:   runner,
		cfg:      cfg,
		shutdown: &shutdowns,
		lines:    &lines,
	}
}

// addLiveSession injects a session record whose PID the fake runner reports
// as running, pointing at the given port.
func (e *testEnv) addLiveSession(t *testing.T, name string, port int) state.Session {
	t.Helper()
	pid, err := e.runner.Spawn("", nil, "", nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	sess := state.Session{
		Name:       name,
		PID:        pid,
		Port:       port,
		URLPath:    e.cfg.NormalizedBasePath() + "/" + name,
		WorkingDir: "/tmp/" + name,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.AddSession(sess); err != nil {
		t.Fatalf("add session: %v", err)
	}
	return sess
}

func portOf(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestPortalServesSessionIndex(t *testing.T) {
	env := newTestEnv(t)
	env.addLiveSession(t, "demo", 7681)

	resp, err := http.Get(env.ts.URL + "/ttyd-mux/")
	if err != nil {
		t.Fatalf("get portal: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "demo") {
		t.Error("portal does not list the live session")
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestRouterRejectsPathsOutsideBase(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/", "/other", "/ttyd-muxx/", "/ttyd-mux/no-such-session/"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestStaticAssetsServed(t *testing.T) {
	env := newTestEnv(t)

	for asset, wantType := range map[string]string{
		"toolbar.js":  "application/javascript",
		"toolbar.css": "text/css",
	} {
		resp, err := http.Get(env.ts.URL + "/ttyd-mux/" + asset)
		if err != nil {
			t.Fatalf("get %s: %v", asset, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d", asset, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, wantType) {
			t.Errorf("%s: content type = %q, want prefix %q", asset, ct, wantType)
		}
		if len(body) == 0 {
			t.Errorf("%s: empty body", asset)
		}
	}
}

func TestSessionAPILifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Start.
	resp := postJSON(t, env.ts.URL+"/ttyd-mux/api/sessions", `{"name":"demo","dir":"/tmp/demo"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}
	var sess state.Session
	decodeBody(t, resp, &sess)
	if sess.Name != "demo" || sess.Port <= env.cfg.BasePort {
		t.Errorf("created session = %+v", sess)
	}

	// Duplicate name.
	resp = postJSON(t, env.ts.URL+"/ttyd-mux/api/sessions", `{"name":"demo","dir":"/tmp/other"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate: status = %d, want 400", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(strings.ToLower(body), "already running") {
		t.Errorf("duplicate error body = %s", body)
	}

	// List.
	var listed []state.Session
	getJSON(t, env.ts.URL+"/ttyd-mux/api/sessions", &listed)
	if len(listed) != 1 || listed[0].Name != "demo" {
		t.Fatalf("listed = %+v", listed)
	}

	// Stop.
	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/ttyd-mux/api/sessions/demo?killTmux=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d", resp.StatusCode)
	}
	readBody(t, resp)

	getJSON(t, env.ts.URL+"/ttyd-mux/api/sessions", &listed)
	if len(listed) != 0 {
		t.Errorf("sessions after stop = %+v", listed)
	}

	// Stopping again is a 404.
	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/ttyd-mux/api/sessions/demo", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestShareAPILifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addLiveSession(t, "demo", 7681)

	resp := postJSON(t, env.ts.URL+"/ttyd-mux/api/shares", `{"sessionName":"demo","expiresIn":"1h"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create share: status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}
	var sh state.Share
	decodeBody(t, resp, &sh)
	if sh.Token == "" || sh.SessionName != "demo" || !sh.ReadOnly {
		t.Fatalf("share = %+v", sh)
	}

	var got state.Share
	getJSON(t, env.ts.URL+"/ttyd-mux/api/shares/"+sh.Token, &got)
	if got.SessionName != "demo" {
		t.Errorf("lookup = %+v", got)
	}

	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/ttyd-mux/api/shares/"+sh.Token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status = %d", resp.StatusCode)
	}
	readBody(t, resp)

	// Revoked token resolves as 404; revoking again stays 200.
	resp = doRequest(t, http.MethodGet, env.ts.URL+"/ttyd-mux/api/shares/"+sh.Token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("lookup revoked: status = %d, want 404", resp.StatusCode)
	}
	readBody(t, resp)
	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/ttyd-mux/api/shares/"+sh.Token, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("idempotent revoke: status = %d, want 200", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestShareAPIBadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/ttyd-mux/api/shares/invalid-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("invalid token: status = %d, want 404", resp.StatusCode)
	}
	readBody(t, resp)

	// No such session.
	resp = postJSON(t, env.ts.URL+"/ttyd-mux/api/shares", `{"sessionName":"ghost","expiresIn":"1h"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("ghost session: status = %d, want 400", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestShutdownEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/ttyd-mux/api/shutdown", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shutdown: status = %d", resp.StatusCode)
	}
	readBody(t, resp)

	// The hook runs asynchronously.
	deadline := time.Now().Add(time.Second)
	for *env.shutdown == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if *env.shutdown != 1 {
		t.Errorf("shutdown hook ran %d times, want 1", *env.shutdown)
	}
}

func TestSubscriptionAPI(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/ttyd-mux/api/subscriptions", `{"endpoint":"https://push.example/e"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("subscribe: status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}
	var sub state.PushSubscription
	decodeBody(t, resp, &sub)

	resp = postJSON(t, env.ts.URL+"/ttyd-mux/api/subscriptions", `{"endpoint":"http://push.example/e"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-https endpoint: status = %d, want 400", resp.StatusCode)
	}
	readBody(t, resp)

	resp = doRequest(t, http.MethodDelete, env.ts.URL+"/ttyd-mux/api/subscriptions/"+sub.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unsubscribe: status = %d", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestProxyRewritesHTML(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><h1>term</h1></body></html>"))
	}))
	defer upstream.Close()
	env.addLiveSession(t, "demo", portOf(t, upstream))

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/ttyd-mux/demo/", nil)
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if count := strings.Count(string(body), "toolbar.js"); count != 1 {
		t.Errorf("toolbar script injected %d times, want 1", count)
	}
	if !strings.Contains(string(body), "</body>") {
		t.Error("closing body tag lost in rewrite")
	}
	if idx := strings.Index(string(body), "toolbar.js"); idx > strings.Index(string(body), "</body>") {
		t.Error("injection landed after </body>")
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(body)) {
		t.Errorf("Content-Length = %s, body is %d bytes", cl, len(body))
	}
}

func TestProxyGzipsHTMLWhenAccepted(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Accept-Encoding"); enc != "identity" {
			t.Errorf("upstream saw Accept-Encoding %q, want identity", enc)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer upstream.Close()
	env.addLiveSession(t, "demo", portOf(t, upstream))

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/ttyd-mux/demo/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if enc := resp.Header.Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", enc)
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !strings.Contains(string(body), "toolbar.js") {
		t.Error("gzip body missing injected script")
	}
}

func TestProxyStreamsNonHTMLUnmodified(t *testing.T) {
	env := newTestEnv(t)

	payload := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0xff}, 256)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()
	env.addLiveSession(t, "demo", portOf(t, upstream))

	resp, err := http.Get(env.ts.URL + "/ttyd-mux/demo/blob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, payload) {
		t.Error("binary payload altered in transit")
	}
}

func TestProxyRepliesBadGatewayWhenUpstreamDown(t *testing.T) {
	env := newTestEnv(t)

	// Grab a port nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	env.addLiveSession(t, "demo", port)

	resp, err := http.Get(env.ts.URL + "/ttyd-mux/demo/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestShareLandingSetsCookieAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	env.addLiveSession(t, "demo", 7681)

	sh, err := env.server.shares.Create("demo", time.Hour, true)
	if err != nil {
		t.Fatalf("create share: %v", err)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(env.ts.URL + "/ttyd-mux/share/" + sh.Token)
	if err != nil {
		t.Fatalf("get landing: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/ttyd-mux/demo/" {
		t.Errorf("redirect = %q", loc)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == shareCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("landing did not set the share cookie")
	}
	if cookie.Value != sh.Token || cookie.Path != "/ttyd-mux" {
		t.Errorf("cookie = %+v", cookie)
	}
}

func TestShareLandingRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/ttyd-mux/share/bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// wsUpstream is a terminal-server stand-in that records inbound frames and
// can push frames to its client.
func wsUpstream(t *testing.T) (*httptest.Server, chan []byte, chan []byte) {
	t.Helper()
	inbound := make(chan []byte, 16)
	outbound := make(chan []byte, 16)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for msg := range outbound {
				if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(inbound)
				return
			}
			inbound <- data
		}
	}))
	return ts, inbound, outbound
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestWebSocketProxyRelaysBothWays(t *testing.T) {
	env := newTestEnv(t)
	upstream, inbound, outbound := wsUpstream(t)
	defer upstream.Close()
	env.addLiveSession(t, "demo", portOf(t, upstream))

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ttyd-mux/demo/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Client input reaches the child.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{frameInput, 'a'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-inbound:
		if !bytes.Equal(got, []byte{frameInput, 'a'}) {
			t.Errorf("upstream saw %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("input frame never reached upstream")
	}

	// Child output reaches the client byte-for-byte.
	outbound <- []byte{frameOutput, 'h', 'i', '\n'}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte{frameOutput, 'h', 'i', '\n'}) {
		t.Errorf("client saw %v", data)
	}
}

func TestWebSocketProxyDropsInputOnReadOnlyShare(t *testing.T) {
	env := newTestEnv(t)
	upstream, inbound, outbound := wsUpstream(t)
	defer upstream.Close()
	env.addLiveSession(t, "demo", portOf(t, upstream))

	sh, err := env.server.shares.Create("demo", time.Hour, true)
	if err != nil {
		t.Fatalf("create share: %v", err)
	}

	header := http.Header{}
	header.Set("Cookie", shareCookie+"="+sh.Token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ttyd-mux/demo/ws"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Input frame must be suppressed; a non-input frame must pass, which also
	// proves ordering (it was sent after the input frame).
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{frameInput, 'a'}); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x32, 0x01}); err != nil {
		t.Fatalf("write resize: %v", err)
	}

	select {
	case got := <-inbound:
		if len(got) > 0 && got[0] == frameInput {
			t.Fatalf("read-only connection leaked input frame %v", got)
		}
		if !bytes.Equal(got, []byte{0x32, 0x01}) {
			t.Errorf("upstream saw %v, want the resize frame", got)
		}
	case <-time.After(time.Second):
		t.Fatal("non-input frame never reached upstream")
	}

	// Output still flows, and the observer sees the line.
	outbound <- []byte{frameOutput, 'o', 'k', '\n'}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte{frameOutput, 'o', 'k', '\n'}) {
		t.Errorf("client saw %v", data)
	}

	deadline := time.Now().Add(time.Second)
	for len(*env.lines) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(*env.lines) == 0 || (*env.lines)[0] != "demo:ok" {
		t.Errorf("observer lines = %v", *env.lines)
	}
}

func TestWebSocketProxyBadGatewayWhenUpstreamDown(t *testing.T) {
	env := newTestEnv(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	env.addLiveSession(t, "demo", port)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ttyd-mux/demo/ws"), nil)
	if err == nil {
		t.Fatal("dial succeeded against dead upstream")
	}
	if resp == nil || resp.StatusCode != http.StatusBadGateway {
		t.Errorf("handshake response = %+v, want 502", resp)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build %s %s: %v", method, url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	decodeBody(t, resp, into)
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
