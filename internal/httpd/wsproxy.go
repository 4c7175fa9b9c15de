package httpd

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Wire discriminators of the child terminal protocol: the first byte of each
// binary frame names the command.
const (
	frameInput  = 0x30 // client keystrokes and paste
	frameOutput = 0x31 // terminal output
)

const writeDeadline = 10 * time.Second

// proxyWebSocket bridges one client WebSocket to the session's child server.
// The upstream dial happens first so a dead child turns into a plain 502
// before the client upgrade. In read-only mode input frames from the client
// are dropped; output frames feed the line observer either way.
func (s *Server) proxyWebSocket(w http.ResponseWriter, r *http.Request, rt route) {
	backendURL := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort("127.0.0.1", strconv.Itoa(rt.target.Port)),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	dialHeader := http.Header{}
	if protos := r.Header.Get("Sec-WebSocket-Protocol"); protos != "" {
		dialHeader.Set("Sec-WebSocket-Protocol", protos)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout.Std()}
	upstream, resp, err := dialer.Dial(backendURL.String(), dialHeader)
	if err != nil {
		s.log.WithError(err).WithField("session", rt.target.Name).Warn("upstream websocket dial failed")
		http.Error(w, "session backend unreachable", http.StatusBadGateway)
		return
	}
	if resp != nil {
		resp.Body.Close()
	}

	// The child picked the subprotocol; echo its choice to the client.
	upgradeHeader := http.Header{}
	if proto := upstream.Subprotocol(); proto != "" {
		upgradeHeader.Set("Sec-WebSocket-Protocol", proto)
	}

	client, err := s.upgrader.Upgrade(w, r, upgradeHeader)
	if err != nil {
		// Upgrade already wrote the error response.
		upstream.Close()
		return
	}

	log := s.log.WithFields(logrus.Fields{"session": rt.target.Name, "readonly": rt.readOnly})
	log.Debug("websocket bridge established")

	var once sync.Once
	closeBoth := func(code int, reason string) {
		once.Do(func() {
			msg := websocket.FormatCloseMessage(code, reason)
			deadline := time.Now().Add(writeDeadline)
			_ = client.WriteControl(websocket.CloseMessage, msg, deadline)
			_ = upstream.WriteControl(websocket.CloseMessage, msg, deadline)
			client.Close()
			upstream.Close()
		})
	}

	// Client to child: drop input frames when the context is read-only.
	go func() {
		for {
			mt, data, err := client.ReadMessage()
			if err != nil {
				closeBoth(closeCodeFrom(err), "")
				return
			}
			if rt.readOnly && len(data) > 0 && data[0] == frameInput {
				continue
			}
			_ = upstream.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := upstream.WriteMessage(mt, data); err != nil {
				closeBoth(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}()

	// Child to client: relay everything, observing output frames.
	for {
		mt, data, err := upstream.ReadMessage()
		if err != nil {
			closeBoth(closeCodeFrom(err), "")
			return
		}
		if s.observer != nil && len(data) > 1 && data[0] == frameOutput {
			s.observer.Observe(rt.target.Name, data[1:])
		}
		_ = client.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := client.WriteMessage(mt, data); err != nil {
			closeBoth(websocket.CloseAbnormalClosure, "")
			return
		}
	}
}

// closeCodeFrom forwards a peer's close code; anything else is an abnormal
// closure.
func closeCodeFrom(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
