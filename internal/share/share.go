// Package share issues and validates the opaque bearer tokens that grant
// read-only access to one session.
package share

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// Share error kinds.
var (
	ErrSessionNotFound = errors.New("share target session not found")
	ErrInvalidDuration = errors.New("share duration out of range")
	ErrInvalidToken    = errors.New("invalid share token")
)

// tokenBytes yields 176 bits of entropy, comfortably above the 128-bit
// minimum, and a 30-character base64url string.
const tokenBytes = 22

// SessionLookup answers "is this session currently live". Implemented by the
// session manager.
type SessionLookup interface {
	Lookup(name string) (state.Session, bool)
}

// Recorder receives lifecycle audit entries.
type Recorder interface {
	Record(kind, subject, detail string)
}

// Manager issues, resolves and expires share tokens. Tokens persist through
// the state store so they survive daemon restarts.
type Manager struct {
	store    *state.Store
	sessions SessionLookup
	cfg      *config.Config
	audit    Recorder
	log      *logrus.Entry
	now      func() time.Time
}

// NewManager wires a share manager. audit may be nil.
func NewManager(store *state.Store, sessions SessionLookup, cfg *config.Config, audit Recorder, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// newToken returns a fresh URL-safe bearer token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a token for the named session, valid for expiresIn.
// readOnly defaults to true at the API layer.
func (m *Manager) Create(sessionName string, expiresIn time.Duration, readOnly bool) (state.Share, error) {
	if _, ok := m.sessions.Lookup(sessionName); !ok {
		return state.Share{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionName)
	}

	if expiresIn < m.cfg.ShareMinExpiry.Std() || expiresIn > m.cfg.ShareMaxExpiry.Std() {
		return state.Share{}, fmt.Errorf("%w: %s (allowed %s..%s)",
			ErrInvalidDuration, expiresIn, m.cfg.ShareMinExpiry, m.cfg.ShareMaxExpiry)
	}

	token, err := newToken()
	if err != nil {
		return state.Share{}, err
	}

	now := m.now().UTC()
	share := state.Share{
		Token:       token,
		SessionName: sessionName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
		ReadOnly:    readOnly,
	}
	if err := m.store.AddShare(share); err != nil {
		return state.Share{}, fmt.Errorf("persist share: %w", err)
	}

	// The token is a bearer credential: log only a stub, and only at debug.
	m.log.WithFields(logrus.Fields{
		"session": sessionName,
		"token":   token[:6] + "…",
		"expires": share.ExpiresAt,
	}).Debug("share created")
	if m.audit != nil {
		m.audit.Record("share.create", sessionName, "expires "+share.ExpiresAt.Format(time.RFC3339))
	}

	return share, nil
}

// Lookup resolves a token. It succeeds only while the token is unexpired and
// its target session is live. Expired tokens are removed on the way out;
// tokens whose session is gone stay recorded but resolve as invalid.
func (m *Manager) Lookup(token string) (state.Share, error) {
	share, ok := m.match(token)
	if !ok {
		return state.Share{}, ErrInvalidToken
	}

	if !m.now().Before(share.ExpiresAt) {
		if err := m.store.RemoveShare(share.Token); err != nil {
			m.log.WithError(err).Warn("removing expired share failed")
		}
		return state.Share{}, ErrInvalidToken
	}

	if _, live := m.sessions.Lookup(share.SessionName); !live {
		return state.Share{}, ErrInvalidToken
	}

	return share, nil
}

// match finds the persisted share whose token equals the candidate,
// comparing in constant time.
func (m *Manager) match(token string) (state.Share, bool) {
	if token == "" {
		return state.Share{}, false
	}
	snap := m.store.Load()
	for stored, share := range snap.Shares {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1 {
			return share, true
		}
	}
	return state.Share{}, false
}

// List returns the non-expired shares, sweeping expired ones as it goes.
func (m *Manager) List() []state.Share {
	now := m.now()
	snap := m.store.Load()

	var out []state.Share
	var expired []string
	for token, share := range snap.Shares {
		if now.Before(share.ExpiresAt) {
			out = append(out, share)
		} else {
			expired = append(expired, token)
		}
	}

	for _, token := range expired {
		if err := m.store.RemoveShare(token); err != nil {
			m.log.WithError(err).Warn("sweeping expired share failed")
		}
	}
	return out
}

// Revoke removes a token. Missing is not an error.
func (m *Manager) Revoke(token string) error {
	share, ok := m.match(token)
	if !ok {
		return nil
	}
	if err := m.store.RemoveShare(share.Token); err != nil {
		return fmt.Errorf("remove share: %w", err)
	}
	if m.audit != nil {
		m.audit.Record("share.revoke", share.SessionName, "")
	}
	return nil
}

// Sweep deletes every expired token. Run on a timer by the supervisor.
func (m *Manager) Sweep() int {
	now := m.now()
	snap := m.store.Load()

	removed := 0
	for token, share := range snap.Shares {
		if now.Before(share.ExpiresAt) {
			continue
		}
		if err := m.store.RemoveShare(token); err != nil {
			m.log.WithError(err).Warn("sweeping expired share failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.WithField("count", removed).Debug("swept expired shares")
	}
	return removed
}
