// Package eventlog batches HA lifecycle events (the lifecycle and admin
// events core records: start, activate, deactivate, reload, demote,
// deregister and util-process requests) into a SQLite history,
// adapted from the teacher daemon's internal/audit buffered logger: a
// ticker plus a max-buffer flush trigger, so a flurry of CALC_SCORE/
// CHANGE_MODE cycles doesn't turn into one INSERT per row. This is
// history, not state — cluster/resource roster state is never persisted
// here.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultMaxBuffer     = 200
	defaultFlushInterval = 2 * time.Second
)

// Event is one recorded HA lifecycle event.
type Event struct {
	At     time.Time
	Kind   string // e.g. "lifecycle", "admin"
	Detail string
}

// Logger buffers events in memory and flushes them to SQLite either when
// the buffer fills or on a fixed tick, whichever comes first.
type Logger struct {
	db *sql.DB

	mu            sync.Mutex
	buf           []Event
	maxBuffer     int
	flushInterval time.Duration
	disabled      bool // set only through SetDisabled
}

// Open creates (if needed) the events table in the SQLite database at path
// and returns a ready Logger.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create table: %w", err)
	}
	return &Logger{db: db, maxBuffer: defaultMaxBuffer, flushInterval: defaultFlushInterval}, nil
}

// Log appends an event to the in-memory buffer, flushing immediately if the
// buffer has reached its max size.
func (l *Logger) Log(kind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled {
		return
	}
	l.buf = append(l.buf, Event{At: time.Now(), Kind: kind, Detail: detail})
	if len(l.buf) >= l.maxBuffer {
		l.flushLocked()
	}
}

// SetDisabled disables (or re-enables) log writes, dropping any buffered
// events when disabling. Nothing in the daemon calls it: the disk-hang
// path demotes without disabling the event log.
func (l *Logger) SetDisabled(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = v
	if v {
		l.buf = nil
	}
}

// Run flushes on a fixed tick until ctx is cancelled, then performs one
// final flush.
func (l *Logger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
			return
		case <-ticker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		}
	}
}

// flushLocked writes the buffered events in one transaction. Caller must
// hold l.mu.
func (l *Logger) flushLocked() {
	if len(l.buf) == 0 || l.disabled {
		return
	}
	tx, err := l.db.Begin()
	if err != nil {
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return
	}
	for _, e := range l.buf {
		if _, err := stmt.Exec(e.At.Unix(), e.Kind, e.Detail); err != nil {
			stmt.Close()
			tx.Rollback()
			return
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return
	}
	l.buf = l.buf[:0]
}

// Recent returns the n most recently flushed events, newest first —
// exported for the admin /admin-info route.
func (l *Logger) Recent(n int) ([]Event, error) {
	rows, err := l.db.Query(`SELECT at, kind, detail FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var unixAt int64
		var e Event
		if err := rows.Scan(&unixAt, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		e.At = time.Unix(unixAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes any remaining buffered events and closes the database.
func (l *Logger) Close() error {
	l.mu.Lock()
	l.flushLocked()
	l.mu.Unlock()
	return l.db.Close()
}
