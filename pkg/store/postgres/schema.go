// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store].
//
// Sessions, notes and responses live in one table each. Slides, sections and
// file references are stored as JSONB. Row triggers publish every insert and
// update through pg_notify, and a dedicated LISTEN connection turns those
// notifications into change-feed deliveries, so writes from other service
// instances reach local subscribers too.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	cancel, _ := st.SubscribeResponses(ctx, store.Filter{SessionID: id, SlideID: slide}, onChange, onError)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification channels, one per table.
const (
	channelSessions  = "convene_sessions"
	channelNotes     = "convene_notes"
	channelResponses = "convene_responses"
)

const ddlTables = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    title         TEXT         NOT NULL DEFAULT '',
    scheduled_at  TIMESTAMPTZ,
    template      BOOLEAN      NOT NULL DEFAULT false,
    slides        JSONB        NOT NULL DEFAULT '[]'::jsonb,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_by    TEXT         NOT NULL DEFAULT '',
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_by    TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notes (
    id                TEXT         PRIMARY KEY,
    seq               BIGSERIAL,
    session_id        TEXT         NOT NULL,
    full_text         TEXT         NOT NULL DEFAULT '',
    full_text_source  TEXT         NOT NULL DEFAULT '',
    title             TEXT         NOT NULL DEFAULT '',
    title_source      TEXT         NOT NULL DEFAULT '',
    summary           TEXT         NOT NULL DEFAULT '',
    summary_source    TEXT         NOT NULL DEFAULT '',
    emoji             TEXT         NOT NULL DEFAULT '',
    file              JSONB,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_by        TEXT         NOT NULL DEFAULT '',
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_by        TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notes_session_created
    ON notes (session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS responses (
    id                 TEXT         PRIMARY KEY,
    seq                BIGSERIAL,
    session_id         TEXT         NOT NULL,
    slide_id           TEXT         NOT NULL DEFAULT '',
    user_id            TEXT         NOT NULL DEFAULT '',
    sections           JSONB        NOT NULL DEFAULT '[]'::jsonb,
    thinking           TEXT         NOT NULL DEFAULT '',
    thinking_sections  JSONB        NOT NULL DEFAULT '[]'::jsonb,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_responses_session_slide_created
    ON responses (session_id, slide_id, created_at);
`

// The trigger function publishes the value of the column named by its first
// argument on the channel convene_<table>.
const ddlNotify = `
CREATE OR REPLACE FUNCTION convene_notify() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('convene_' || TG_TABLE_NAME, to_jsonb(NEW) ->> TG_ARGV[0]);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS sessions_notify ON sessions;
CREATE TRIGGER sessions_notify AFTER INSERT OR UPDATE ON sessions
    FOR EACH ROW EXECUTE FUNCTION convene_notify('id');

DROP TRIGGER IF EXISTS notes_notify ON notes;
CREATE TRIGGER notes_notify AFTER INSERT OR UPDATE ON notes
    FOR EACH ROW EXECUTE FUNCTION convene_notify('session_id');

DROP TRIGGER IF EXISTS responses_notify ON responses;
CREATE TRIGGER responses_notify AFTER INSERT OR UPDATE ON responses
    FOR EACH ROW EXECUTE FUNCTION convene_notify('session_id');
`

// Migrate creates the tables, indexes and notification triggers. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlTables, ddlNotify} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
