package httpd

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/ttyd-mux/ttyd-mux/internal/eventlog"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

//go:embed assets
var assetsFS embed.FS

var portalTmpl = template.Must(template.New("portal").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>ttyd-mux</title>
<link rel="stylesheet" href="{{.BasePath}}/toolbar.css">
</head>
<body class="ttydmux-portal">
<header>
  <h1>ttyd-mux</h1>
  <p class="meta">{{len .Sessions}} session(s) · daemon up since {{.Started}}</p>
</header>
<main>
{{if .Sessions}}
<ul class="sessions">
{{range .Sessions}}
  <li>
    <a href="{{$.BasePath}}/{{.Name}}/">{{.Name}}</a>
    <span class="dir">{{.WorkingDir}}</span>
    <span class="port">:{{.Port}}</span>
  </li>
{{end}}
</ul>
{{else}}
<p class="empty">No sessions running. Start one with <code>ttyd-mux start &lt;dir&gt;</code>.</p>
{{end}}
{{if .Events}}
<footer class="activity">
<h2>Recent activity</h2>
<ul>
{{range .Events}}
  <li><time>{{.At.Format "15:04:05"}}</time> {{.Kind}} {{.Subject}}</li>
{{end}}
</ul>
</footer>
{{end}}
</main>
</body>
</html>
`))

// portalEventLimit bounds the activity footer.
const portalEventLimit = 10

type portalData struct {
	BasePath string
	Sessions []state.Session
	Events   []eventlog.Entry
	Started  string
}

// servePortal renders the session index.
func (s *Server) servePortal(w http.ResponseWriter, _ *http.Request) {
	data := portalData{
		BasePath: s.cfg.NormalizedBasePath(),
		Sessions: s.sessions.List(),
		Started:  s.startTime.Format(time.RFC1123),
	}
	if s.events != nil {
		entries, err := s.events.Recent(portalEventLimit)
		if err != nil {
			s.log.WithError(err).Warn("loading recent events for portal failed")
		} else {
			data.Events = entries
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := portalTmpl.Execute(w, data); err != nil {
		s.log.WithError(err).Error("rendering portal failed")
	}
}

// staticAssets maps URL names to content types.
var staticAssets = map[string]string{
	"toolbar.js":  "application/javascript; charset=utf-8",
	"toolbar.css": "text/css; charset=utf-8",
}

func isStaticAsset(name string) bool {
	_, ok := staticAssets[name]
	return ok
}

// serveStatic serves one embedded asset.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, name string) {
	contentType, ok := staticAssets[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := assetsFS.ReadFile("assets/" + name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "max-age=300")
	_, _ = w.Write(data)
}
