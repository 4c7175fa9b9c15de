package eventlog

import (
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"), nil)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)

	l.Record("session.start", "demo", "port=7681")
	l.Record("session.stop", "demo", "")
	l.Record("share.create", "demo", "")

	entries, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Kind != "share.create" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[2].Kind != "session.start" || entries[2].Detail != "port=7681" {
		t.Errorf("oldest entry = %+v", entries[2])
	}
	for _, e := range entries {
		if e.ID == "" || e.At.IsZero() {
			t.Errorf("entry missing id/timestamp: %+v", e)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	l := openTestLog(t)
	for i := 0; i < 10; i++ {
		l.Record("session.start", "s", "")
	}
	entries, err := l.Recent(5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries, want limit 5", len(entries))
	}
}

func TestRecentEmpty(t *testing.T) {
	l := openTestLog(t)
	entries, err := l.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
