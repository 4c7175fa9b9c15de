package notify

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// bufferCap bounds each session's pending output. On overflow only the last
// bufferCap bytes are kept.
const bufferCap = 8192

// LineHandler receives complete output lines for one session.
type LineHandler func(session, line string)

// Observer accumulates terminal output per session, splits it into lines and
// hands complete lines to the handler. The trailing partial line waits for
// more output. Feeding the observer never alters or delays the data being
// relayed.
type Observer struct {
	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
	handler LineHandler
	log     *logrus.Entry
}

// NewObserver creates an observer delivering lines to handler.
func NewObserver(handler LineHandler, log *logrus.Entry) *Observer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Observer{
		buffers: make(map[string]*bytes.Buffer),
		handler: handler,
		log:     log,
	}
}

// Observe feeds output bytes for a session.
func (o *Observer) Observe(session string, data []byte) {
	var lines []string

	o.mu.Lock()
	buf, ok := o.buffers[session]
	if !ok {
		buf = &bytes.Buffer{}
		o.buffers[session] = buf
	}
	buf.Write(data)

	for {
		raw := buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(raw[:idx], "\r"))
		buf.Next(idx + 1)
		if line != "" {
			lines = append(lines, line)
		}
	}

	// Keep only the tail when a session floods without newlines.
	if buf.Len() > bufferCap {
		tail := buf.Bytes()[buf.Len()-bufferCap:]
		trimmed := bytes.NewBuffer(nil)
		trimmed.Write(tail)
		o.buffers[session] = trimmed
	}
	o.mu.Unlock()

	// Deliver outside the lock so a slow handler can't stall other sessions.
	for _, line := range lines {
		o.handler(session, line)
	}
}

// Forget drops the buffered state for a session.
func (o *Observer) Forget(session string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.buffers, session)
}
