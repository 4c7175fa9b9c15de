package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// EventType distinguishes session lifecycle events.
type EventType string

const (
	// EventStart is published after a session is recorded and live.
	EventStart EventType = "session:start"
	// EventStop is published after a session is removed.
	EventStop EventType = "session:stop"
)

// Event is one session lifecycle notification.
type Event struct {
	Type    EventType
	Name    string
	Session state.Session // zero value for EventStop
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events rather than blocking the
// manager.
const subscriberBuffer = 16

// Bus fans session events out to subscribers. Delivery is FIFO per
// subscriber and never blocks the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  *logrus.Entry
}

// NewBus creates an event bus.
func NewBus(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. Full subscriber buffers
// drop the event for that subscriber only.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      ev.Type,
				"session":    ev.Name,
			}).Warn("slow event subscriber, dropping event")
		}
	}
}
