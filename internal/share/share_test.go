package share

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ttyd-mux/ttyd-mux/internal/config"
	"github.com/ttyd-mux/ttyd-mux/internal/state"
)

// fakeSessions is a SessionLookup over a fixed set of live names.
type fakeSessions map[string]bool

func (f fakeSessions) Lookup(name string) (state.Session, bool) {
	if f[name] {
		return state.Session{Name: name, Port: 7681}, true
	}
	return state.Session{}, false
}

func newTestManager(t *testing.T, live ...string) (*Manager, fakeSessions) {
	t.Helper()
	sessions := fakeSessions{}
	for _, name := range live {
		sessions[name] = true
	}
	store := state.NewStore(t.TempDir(), nil)
	return NewManager(store, sessions, config.Default(), nil, nil), sessions
}

func TestCreateAndLookupRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, "demo")

	share, err := m.Create("demo", time.Hour, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(share.Token) < 22 {
		t.Errorf("token %q shorter than 22 chars (128-bit floor)", share.Token)
	}
	if got := share.ExpiresAt.Sub(share.CreatedAt); got != time.Hour {
		t.Errorf("expiry window = %s, want 1h", got)
	}

	back, err := m.Lookup(share.Token)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if back.SessionName != "demo" || !back.ReadOnly {
		t.Errorf("lookup returned %+v", back)
	}
}

func TestTokensAreURLSafeAndUnique(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		share, err := m.Create("demo", time.Hour, true)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if strings.ContainsAny(share.Token, "+/=") {
			t.Errorf("token %q not URL-safe", share.Token)
		}
		if seen[share.Token] {
			t.Fatalf("duplicate token %q", share.Token)
		}
		seen[share.Token] = true
	}
}

func TestCreateUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create("ghost", time.Hour, true)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateDurationOutOfRange(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	if _, err := m.Create("demo", time.Second, true); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("below minimum: err = %v, want ErrInvalidDuration", err)
	}
	if _, err := m.Create("demo", 365*24*time.Hour, true); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("above maximum: err = %v, want ErrInvalidDuration", err)
	}
}

func TestLookupExpiredRemovesToken(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	share, err := m.Create("demo", time.Hour, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := m.Lookup(share.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired lookup err = %v, want ErrInvalidToken", err)
	}
	// Removal on observation: the persisted record is gone.
	m.now = time.Now
	if _, err := m.Lookup(share.Token); !errors.Is(err, ErrInvalidToken) {
		t.Error("expired token should have been removed on first observation")
	}
}

func TestLookupDeadSessionIsInvalidButKept(t *testing.T) {
	m, sessions := newTestManager(t, "demo")
	share, err := m.Create("demo", time.Hour, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	delete(sessions, "demo")
	if _, err := m.Lookup(share.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}

	// Session comes back (same name): token is valid again, not purged.
	sessions["demo"] = true
	if _, err := m.Lookup(share.Token); err != nil {
		t.Errorf("token should survive a dead-session interval: %v", err)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	if _, err := m.Lookup("invalid-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestListSweepsExpired(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	fresh, _ := m.Create("demo", time.Hour, true)
	stale, _ := m.Create("demo", time.Minute, true)

	m.now = func() time.Time { return time.Now().Add(30 * time.Minute) }

	list := m.List()
	if len(list) != 1 || list[0].Token != fresh.Token {
		t.Errorf("list = %v, want only the fresh token", list)
	}
	_ = stale
}

func TestRevokeIdempotent(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	share, _ := m.Create("demo", time.Hour, true)

	if err := m.Revoke(share.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := m.Revoke(share.Token); err != nil {
		t.Errorf("second revoke should succeed: %v", err)
	}
	if err := m.Revoke("never-existed"); err != nil {
		t.Errorf("revoking unknown token should succeed: %v", err)
	}
}

func TestSweep(t *testing.T) {
	m, _ := newTestManager(t, "demo")
	_, _ = m.Create("demo", time.Minute, true)
	_, _ = m.Create("demo", time.Minute, true)
	_, _ = m.Create("demo", time.Hour, true)

	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	if removed := m.Sweep(); removed != 2 {
		t.Errorf("swept %d, want 2", removed)
	}
	if removed := m.Sweep(); removed != 0 {
		t.Errorf("second sweep removed %d, want 0", removed)
	}
}
