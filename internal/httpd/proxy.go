package httpd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// hopByHopHeaders are stripped in both directions per RFC 9110 §7.6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// proxyHTTP forwards a plain HTTP request to the session's child server.
// HTML responses are buffered and rewritten to carry the toolbar; everything
// else streams through untouched.
func (s *Server) proxyHTTP(w http.ResponseWriter, r *http.Request, rt route) {
	clientAcceptsGzip := acceptsGzip(r)

	outURL := &url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort("127.0.0.1", strconv.Itoa(rt.target.Port)),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	copyHeaders(out.Header, r.Header)
	stripHopByHop(out.Header)

	// Ask the child for identity so the HTML rewrite sees plain bytes; the
	// response is re-compressed before leaving if the client can take it.
	out.Header.Set("Accept-Encoding", "identity")

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		prior := out.Header.Get("X-Forwarded-For")
		if prior != "" {
			host = prior + ", " + host
		}
		out.Header.Set("X-Forwarded-For", host)
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	out.Header.Set("X-Forwarded-Proto", forwardedProto(r))

	resp, err := s.transport.RoundTrip(out)
	if err != nil {
		s.log.WithError(err).WithField("session", rt.target.Name).Warn("upstream request failed")
		http.Error(w, "session backend unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if isHTML(resp.Header.Get("Content-Type")) {
		s.relayRewrittenHTML(w, resp, rt, clientAcceptsGzip)
		return
	}

	stripHopByHop(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	// A copy error here means the client or child went away mid-stream;
	// nothing useful left to send.
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.log.WithError(err).Debug("response relay interrupted")
	}
}

// relayRewrittenHTML buffers the child's HTML, injects the toolbar markup
// before </body>, and re-encodes with gzip when the client accepts it.
func (s *Server) relayRewrittenHTML(w http.ResponseWriter, resp *http.Response, rt route, gzipOut bool) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.WithError(err).WithField("session", rt.target.Name).Warn("reading upstream HTML failed")
		http.Error(w, "session backend unreachable", http.StatusBadGateway)
		return
	}

	body = injectToolbar(body, s.injectionFor(rt))

	stripHopByHop(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	w.Header().Del("Content-Encoding")

	if gzipOut {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(resp.StatusCode)
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(body)
		_ = gz.Close()
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// injectionFor renders the markup appended to each session page: toolbar
// styles, the toolbar container, a JSON config blob and the toolbar script.
func (s *Server) injectionFor(rt route) []byte {
	base := s.cfg.NormalizedBasePath()
	cfg, _ := json.Marshal(map[string]any{
		"basePath": base,
		"session":  rt.target.Name,
		"readOnly": rt.readOnly,
	})

	var b bytes.Buffer
	fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"%s/toolbar.css\">\n", base)
	b.WriteString("<div id=\"ttydmux-toolbar\"></div>\n")
	fmt.Fprintf(&b, "<script>window.__ttydmux = %s;</script>\n", cfg)
	fmt.Fprintf(&b, "<script src=\"%s/toolbar.js\"></script>\n", base)
	return b.Bytes()
}

// injectToolbar inserts markup before the final </body>. Pages without a
// closing body tag get the markup appended.
func injectToolbar(body, markup []byte) []byte {
	idx := lastIndexFold(body, "</body>")
	if idx < 0 {
		return append(body, markup...)
	}
	out := make([]byte, 0, len(body)+len(markup))
	out = append(out, body[:idx]...)
	out = append(out, markup...)
	out = append(out, body[idx:]...)
	return out
}

// lastIndexFold finds the last case-insensitive occurrence of needle.
func lastIndexFold(haystack []byte, needle string) int {
	lower := bytes.ToLower(haystack)
	return bytes.LastIndex(lower, []byte(strings.ToLower(needle)))
}

func isHTML(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(strings.ToLower(mediaType)) == "text/html"
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if enc == "gzip" {
			return true
		}
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	// Headers named by Connection go first, then the fixed set.
	for _, part := range strings.Split(h.Get("Connection"), ",") {
		if name := strings.TrimSpace(part); name != "" {
			h.Del(name)
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
