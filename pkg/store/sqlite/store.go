// Package sqlite provides a single-file SQLite implementation of
// [store.Store] for single-instance deployments.
//
// It uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is
// needed. Slides, sections and file references are stored as JSON text and
// timestamps as Unix nanoseconds assigned by the store's clock. Change feeds
// are driven by an in-process [store.Hub]: subscribers see writes made
// through this Store only, not those of other processes sharing the file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/convene/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL DEFAULT '',
    scheduled   INTEGER NOT NULL DEFAULT 0,
    template    INTEGER NOT NULL DEFAULT 0,
    slides      TEXT    NOT NULL DEFAULT '[]',
    created_at  INTEGER NOT NULL,
    created_by  TEXT    NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL,
    updated_by  TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notes (
    id                TEXT    PRIMARY KEY,
    session_id        TEXT    NOT NULL,
    full_text         TEXT    NOT NULL DEFAULT '',
    full_text_source  TEXT    NOT NULL DEFAULT '',
    title             TEXT    NOT NULL DEFAULT '',
    title_source      TEXT    NOT NULL DEFAULT '',
    summary           TEXT    NOT NULL DEFAULT '',
    summary_source    TEXT    NOT NULL DEFAULT '',
    emoji             TEXT    NOT NULL DEFAULT '',
    file              TEXT,
    created_at        INTEGER NOT NULL,
    created_by        TEXT    NOT NULL DEFAULT '',
    updated_at        INTEGER NOT NULL,
    updated_by        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notes_session_created ON notes (session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS responses (
    id                 TEXT    PRIMARY KEY,
    session_id         TEXT    NOT NULL,
    slide_id           TEXT    NOT NULL DEFAULT '',
    user_id            TEXT    NOT NULL DEFAULT '',
    sections           TEXT    NOT NULL DEFAULT '[]',
    thinking           TEXT    NOT NULL DEFAULT '',
    thinking_sections  TEXT    NOT NULL DEFAULT '[]',
    created_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_responses_session_slide ON responses (session_id, slide_id, created_at);
`

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the clock used for created and updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the SQLite-backed document store. All access goes through one
// connection, so writes are serialised and ":memory:" databases work.
type Store struct {
	db  *sql.DB
	hub store.Hub
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// New opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path must not be empty")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	return b.String()
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close stops all subscriptions and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.hub.Close()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) stamp() int64 { return s.now().UTC().UnixNano() }

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
