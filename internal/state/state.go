// Package state owns the daemon's single persistent JSON document: daemon
// identity, sessions, share tokens and push subscriptions. All mutation goes
// through the Store so writes are serialised and atomic.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/paths"
)

// DaemonInfo identifies the live daemon process.
type DaemonInfo struct {
	PID        int       `json:"pid"`
	ListenPort int       `json:"listen_port"`
	StartedAt  time.Time `json:"started_at"`
}

// Session is the persisted record of one child terminal server.
type Session struct {
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	URLPath    string    `json:"url_path"`
	WorkingDir string    `json:"working_dir"`
	StartedAt  time.Time `json:"started_at"`
}

// Share is a persisted share token granting access to one session.
type Share struct {
	Token       string    `json:"token"`
	SessionName string    `json:"session_name"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ReadOnly    bool      `json:"read_only"`
}

// UnmarshalJSON defaults read_only to true when the key is absent.
func (s *Share) UnmarshalJSON(data []byte) error {
	type alias Share
	tmp := struct {
		*alias
		ReadOnly *bool `json:"read_only"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	if tmp.ReadOnly == nil {
		s.ReadOnly = true
	} else {
		s.ReadOnly = *tmp.ReadOnly
	}
	return nil
}

// PushSubscription is a persisted web-push subscription. Endpoint is the
// unique key; re-subscribing with the same endpoint replaces the record.
type PushSubscription struct {
	ID            string            `json:"id"`
	Endpoint      string            `json:"endpoint"`
	Keys          map[string]string `json:"keys,omitempty"`
	SessionFilter string            `json:"session_filter,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Snapshot is one consistent view of the whole state document.
type Snapshot struct {
	Daemon            *DaemonInfo                 `json:"daemon,omitempty"`
	Sessions          []Session                   `json:"sessions"`
	Shares            map[string]Share            `json:"shares"`
	PushSubscriptions map[string]PushSubscription `json:"push_subscriptions"`
}

// FindSession returns the session with the given name, if any.
func (s *Snapshot) FindSession(name string) (Session, bool) {
	for _, sess := range s.Sessions {
		if sess.Name == name {
			return sess, true
		}
	}
	return Session{}, false
}

// Clone returns a deep copy so callers can't alias the store's view.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Sessions:          make([]Session, len(s.Sessions)),
		Shares:            make(map[string]Share, len(s.Shares)),
		PushSubscriptions: make(map[string]PushSubscription, len(s.PushSubscriptions)),
	}
	if s.Daemon != nil {
		d := *s.Daemon
		out.Daemon = &d
	}
	copy(out.Sessions, s.Sessions)
	for k, v := range s.Shares {
		out.Shares[k] = v
	}
	for k, v := range s.PushSubscriptions {
		keys := make(map[string]string, len(v.Keys))
		for kk, vv := range v.Keys {
			keys[kk] = vv
		}
		v.Keys = keys
		out.PushSubscriptions[k] = v
	}
	return out
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Sessions:          []Session{},
		Shares:            map[string]Share{},
		PushSubscriptions: map[string]PushSubscription{},
	}
}

// The four keys the store owns inside the document. Anything else found in
// the file is carried through rewrites untouched.
var knownKeys = map[string]bool{
	"daemon":             true,
	"sessions":           true,
	"shares":             true,
	"push_subscriptions": true,
}

// Store serialises access to the on-disk state document.
type Store struct {
	mu    sync.Mutex
	path  string
	dir   string
	extra map[string]json.RawMessage
	log   *logrus.Entry
}

// NewStore creates a store over the state document in stateDir.
func NewStore(stateDir string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		path:  paths.StateFile(stateDir),
		dir:   stateDir,
		extra: map[string]json.RawMessage{},
		log:   log,
	}
}

// Dir returns the state directory the store writes under.
func (s *Store) Dir() string { return s.dir }

// SocketPath returns the daemon control-socket path for this state directory.
func (s *Store) SocketPath() string { return paths.SocketPath(s.dir) }

// Load returns the current snapshot. A missing or malformed file yields an
// empty snapshot and a warning; Load never fails.
func (s *Store) Load() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() *Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("state file unreadable, starting empty")
		}
		return emptySnapshot()
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.WithError(err).Warn("state file malformed, starting empty")
		return emptySnapshot()
	}

	snap := emptySnapshot()
	if raw, ok := doc["daemon"]; ok {
		if err := json.Unmarshal(raw, &snap.Daemon); err != nil {
			s.log.WithError(err).Warn("daemon record malformed, dropping")
			snap.Daemon = nil
		}
	}
	if raw, ok := doc["sessions"]; ok {
		if err := json.Unmarshal(raw, &snap.Sessions); err != nil {
			s.log.WithError(err).Warn("sessions malformed, dropping")
			snap.Sessions = []Session{}
		}
	}
	if raw, ok := doc["shares"]; ok {
		if err := json.Unmarshal(raw, &snap.Shares); err != nil {
			s.log.WithError(err).Warn("shares malformed, dropping")
			snap.Shares = map[string]Share{}
		}
	}
	if raw, ok := doc["push_subscriptions"]; ok {
		if err := json.Unmarshal(raw, &snap.PushSubscriptions); err != nil {
			s.log.WithError(err).Warn("push subscriptions malformed, dropping")
			snap.PushSubscriptions = map[string]PushSubscription{}
		}
	}

	// Remember unknown keys so Save carries them through.
	s.extra = map[string]json.RawMessage{}
	for k, v := range doc {
		if !knownKeys[k] {
			s.extra[k] = v
		}
	}

	return snap
}

// Save atomically replaces the state document with the given snapshot.
func (s *Store) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(snap)
}

func (s *Store) saveLocked(snap *Snapshot) error {
	doc := map[string]any{
		"sessions":           snap.Sessions,
		"shares":             snap.Shares,
		"push_subscriptions": snap.PushSubscriptions,
	}
	if snap.Daemon != nil {
		doc["daemon"] = snap.Daemon
	}
	for k, v := range s.extra {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// Write-temp + rename on the same filesystem so readers never observe a
	// torn document.
	tmp, err := os.CreateTemp(s.dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Mutate runs fn over the current snapshot and persists the result. The whole
// read-modify-write cycle holds the store lock, so concurrent mutators cannot
// interleave.
func (s *Store) Mutate(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.loadLocked()
	if err := fn(snap); err != nil {
		return err
	}
	return s.saveLocked(snap)
}

// SetDaemon records the daemon identity.
func (s *Store) SetDaemon(info DaemonInfo) error {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Daemon = &info
		return nil
	})
}

// ClearDaemon removes the daemon identity on clean shutdown.
func (s *Store) ClearDaemon() error {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Daemon = nil
		return nil
	})
}

// AddSession inserts or replaces the session record with the same name.
func (s *Store) AddSession(sess Session) error {
	return s.Mutate(func(snap *Snapshot) error {
		for i, existing := range snap.Sessions {
			if existing.Name == sess.Name {
				snap.Sessions[i] = sess
				return nil
			}
		}
		snap.Sessions = append(snap.Sessions, sess)
		return nil
	})
}

// RemoveSession deletes the session record; missing is not an error.
func (s *Store) RemoveSession(name string) error {
	return s.Mutate(func(snap *Snapshot) error {
		kept := snap.Sessions[:0]
		for _, sess := range snap.Sessions {
			if sess.Name != name {
				kept = append(kept, sess)
			}
		}
		snap.Sessions = kept
		return nil
	})
}

// RemoveSessions deletes several session records in one write.
func (s *Store) RemoveSessions(names []string) error {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	return s.Mutate(func(snap *Snapshot) error {
		kept := snap.Sessions[:0]
		for _, sess := range snap.Sessions {
			if !drop[sess.Name] {
				kept = append(kept, sess)
			}
		}
		snap.Sessions = kept
		return nil
	})
}

// AddShare persists a share token record.
func (s *Store) AddShare(share Share) error {
	return s.Mutate(func(snap *Snapshot) error {
		snap.Shares[share.Token] = share
		return nil
	})
}

// RemoveShare deletes a share token record; missing is not an error.
func (s *Store) RemoveShare(token string) error {
	return s.Mutate(func(snap *Snapshot) error {
		delete(snap.Shares, token)
		return nil
	})
}

// PutPushSubscription inserts or replaces the subscription for its endpoint.
func (s *Store) PutPushSubscription(sub PushSubscription) error {
	return s.Mutate(func(snap *Snapshot) error {
		snap.PushSubscriptions[sub.Endpoint] = sub
		return nil
	})
}

// RemovePushSubscription deletes the subscription with the given ID; missing
// is not an error.
func (s *Store) RemovePushSubscription(id string) error {
	return s.Mutate(func(snap *Snapshot) error {
		for endpoint, sub := range snap.PushSubscriptions {
			if sub.ID == id {
				delete(snap.PushSubscriptions, endpoint)
				return nil
			}
		}
		return nil
	})
}
