// Package eventlog keeps an append-only SQLite audit of daemon, session and
// share lifecycle events. Recording is best-effort: a broken log never blocks
// the action being recorded.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Log is the SQLite-backed event log.
type Log struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens (creating if needed) the event log at path.
func Open(path string, log *logrus.Entry) (*Log, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return &Log{db: db, log: log}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one event. Errors are logged, not returned; the audit trail
// must never fail a user action.
func (l *Log) Record(kind, subject, detail string) {
	now := time.Now().UTC()
	id := ulid.Make().String()
	_, err := l.db.Exec(
		`INSERT INTO events (id, kind, subject, detail, at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, subject, detail, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		l.log.WithError(err).WithField("kind", kind).Warn("recording event failed")
	}
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(
		`SELECT id, kind, subject, detail, at FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
