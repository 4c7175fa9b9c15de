// Package notify carries the notification-side concerns: the push
// subscription registry and the terminal-output line observer the WebSocket
// proxy feeds.
package notify

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// ErrBadEndpoint rejects push endpoints that are not https URLs.
var ErrBadEndpoint = errors.New("push endpoint must be an https URL")

// Subscriptions manages persisted push subscriptions. Endpoint is the unique
// key; re-subscribing with the same endpoint replaces the prior record.
type Subscriptions struct {
	store *state.Store
}

// NewSubscriptions wires the registry over the state store.
func NewSubscriptions(store *state.Store) *Subscriptions {
	return &Subscriptions{store: store}
}

// Subscribe records a push subscription and returns it.
func (s *Subscriptions) Subscribe(endpoint string, keys map[string]string, sessionFilter string) (state.PushSubscription, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return state.PushSubscription{}, fmt.Errorf("%w: %q", ErrBadEndpoint, endpoint)
	}

	sub := state.PushSubscription{
		ID:            ulid.Make().String(),
		Endpoint:      endpoint,
		Keys:          keys,
		SessionFilter: sessionFilter,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.PutPushSubscription(sub); err != nil {
		return state.PushSubscription{}, fmt.Errorf("persist subscription: %w", err)
	}
	return sub, nil
}

// List returns all subscriptions.
func (s *Subscriptions) List() []state.PushSubscription {
	snap := s.store.Load()
	out := make([]state.PushSubscription, 0, len(snap.PushSubscriptions))
	for _, sub := range snap.PushSubscriptions {
		out = append(out, sub)
	}
	return out
}

// Remove deletes the subscription with the given ID; missing is not an error.
func (s *Subscriptions) Remove(id string) error {
	return s.store.RemovePushSubscription(id)
}
