package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/convene/pkg/store"
)

// ── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess store.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.UpdatedBy == "" {
		sess.UpdatedBy = sess.CreatedBy
	}
	const q = `
		INSERT INTO sessions (id, title, scheduled_at, template, slides, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.Title, sess.ScheduledAt, sess.Template, slidesOrEmpty(sess.Slides),
		sess.CreatedBy, sess.UpdatedBy,
	)
	if err != nil {
		return "", fmt.Errorf("postgres store: create session: %w", err)
	}
	s.hub.Notify(store.SessionTopic(sess.ID))
	return sess.ID, nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `
		SELECT id, title, COALESCE(scheduled_at, 'epoch'::timestamptz), template, slides,
		       created_at, created_by, updated_at, updated_by
		FROM   sessions
		WHERE  id = $1`

	var sess store.Session
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Title, &sess.ScheduledAt, &sess.Template, &sess.Slides,
		&sess.CreatedAt, &sess.CreatedBy, &sess.UpdatedAt, &sess.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: session %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return &sess, nil
}

// UpdateSession implements [store.SessionStore] as a whole-document replace.
func (s *Store) UpdateSession(ctx context.Context, sess store.Session) error {
	const q = `
		UPDATE sessions
		SET    title = $2, scheduled_at = $3, template = $4, slides = $5,
		       updated_at = now(), updated_by = $6
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q,
		sess.ID, sess.Title, sess.ScheduledAt, sess.Template, slidesOrEmpty(sess.Slides), sess.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: session %q: %w", sess.ID, store.ErrNotFound)
	}
	s.hub.Notify(store.SessionTopic(sess.ID))
	return nil
}

// SubscribeSession implements [store.SessionStore].
func (s *Store) SubscribeSession(ctx context.Context, id string, onChange func(store.Session), onError func(error)) (store.CancelFunc, error) {
	return s.hub.Watch(ctx, store.SessionTopic(id), func(ctx context.Context) {
		sess, err := s.GetSession(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			onError(err)
		default:
			onChange(*sess)
		}
	}), nil
}

func slidesOrEmpty(sl []store.Slide) []store.Slide {
	if sl == nil {
		return []store.Slide{}
	}
	return sl
}

// ── Notes ────────────────────────────────────────────────────────────────────

// AddNote implements [store.NoteStore]. The file reference is written without
// its resolved URL.
func (s *Store) AddNote(ctx context.Context, n store.SessionNote) error {
	if n.SessionID == "" {
		return fmt.Errorf("postgres store: add note: session id must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n = n.Persistable()
	if n.UpdatedBy == "" {
		n.UpdatedBy = n.CreatedBy
	}

	var file any
	if n.File != nil {
		file = *n.File
	}

	const q = `
		INSERT INTO notes
		    (id, session_id, full_text, full_text_source, title, title_source,
		     summary, summary_source, emoji, file, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		n.ID, n.SessionID,
		n.FullText, string(n.FullTextSource),
		n.Title, string(n.TitleSource),
		n.Summary, string(n.SummarySource),
		n.Emoji, file, n.CreatedBy, n.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres store: add note: %w", err)
	}
	s.hub.Notify(store.NotesTopic(n.SessionID))
	return nil
}

// ListNotes implements [store.NoteStore].
func (s *Store) ListNotes(ctx context.Context, f store.Filter) ([]store.SessionNote, error) {
	const q = `
		SELECT id, session_id, full_text, full_text_source, title, title_source,
		       summary, summary_source, emoji, file,
		       created_at, created_by, updated_at, updated_by
		FROM   notes
		WHERE  session_id = $1
		ORDER  BY created_at DESC, seq DESC`

	rows, err := s.pool.Query(ctx, q, f.SessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list notes: %w", err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SessionNote, error) {
		var n store.SessionNote
		var textSrc, titleSrc, sumSrc string
		if err := row.Scan(
			&n.ID, &n.SessionID,
			&n.FullText, &textSrc,
			&n.Title, &titleSrc,
			&n.Summary, &sumSrc,
			&n.Emoji, &n.File,
			&n.CreatedAt, &n.CreatedBy, &n.UpdatedAt, &n.UpdatedBy,
		); err != nil {
			return store.SessionNote{}, err
		}
		n.FullTextSource = store.Provenance(textSrc)
		n.TitleSource = store.Provenance(titleSrc)
		n.SummarySource = store.Provenance(sumSrc)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan notes: %w", err)
	}
	if notes == nil {
		notes = []store.SessionNote{}
	}
	return notes, nil
}

// UpdateNote implements [store.NoteStore]. Only the fields set in p are
// written; updated_at is stamped with the database clock.
func (s *Store) UpdateNote(ctx context.Context, id string, p store.NotePatch) error {
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if p.FullText != nil {
		sets = append(sets, "full_text = "+next(*p.FullText))
	}
	if p.FullTextSource != nil {
		sets = append(sets, "full_text_source = "+next(string(*p.FullTextSource)))
	}
	if p.Title != nil {
		sets = append(sets, "title = "+next(*p.Title))
	}
	if p.TitleSource != nil {
		sets = append(sets, "title_source = "+next(string(*p.TitleSource)))
	}
	if p.Summary != nil {
		sets = append(sets, "summary = "+next(*p.Summary))
	}
	if p.SummarySource != nil {
		sets = append(sets, "summary_source = "+next(string(*p.SummarySource)))
	}
	if p.Emoji != nil {
		sets = append(sets, "emoji = "+next(*p.Emoji))
	}
	if p.UpdatedBy != "" {
		sets = append(sets, "updated_by = "+next(p.UpdatedBy))
	}

	q := "UPDATE notes SET " + strings.Join(sets, ", ") + " WHERE id = $1 RETURNING session_id"

	var sessionID string
	err := s.pool.QueryRow(ctx, q, args...).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres store: note %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres store: update note: %w", err)
	}
	s.hub.Notify(store.NotesTopic(sessionID))
	return nil
}

// SubscribeNotes implements [store.NoteStore].
func (s *Store) SubscribeNotes(ctx context.Context, f store.Filter, onChange func([]store.SessionNote), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("postgres store: subscribe notes: session id must not be empty")
	}
	return s.hub.Watch(ctx, store.NotesTopic(f.SessionID), func(ctx context.Context) {
		notes, err := s.ListNotes(ctx, f)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onChange(notes)
	}), nil
}

// ── Responses ────────────────────────────────────────────────────────────────

// CreateResponse implements [store.ResponseStore]. created_at is assigned by
// the database.
func (s *Store) CreateResponse(ctx context.Context, r store.Response) (string, error) {
	if r.SessionID == "" {
		return "", fmt.Errorf("postgres store: create response: session id must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	sections := r.Sections
	if sections == nil {
		sections = []store.Section{}
	}
	thinking := r.ThinkingSections
	if thinking == nil {
		thinking = []store.ThinkingSection{}
	}

	const q = `
		INSERT INTO responses (id, session_id, slide_id, user_id, sections, thinking, thinking_sections)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.pool.Exec(ctx, q, r.ID, r.SessionID, r.SlideID, r.UserID, sections, r.Thinking, thinking); err != nil {
		return "", fmt.Errorf("postgres store: create response: %w", err)
	}
	s.hub.Notify(store.ResponsesTopic(r.SessionID))
	return r.ID, nil
}

// ListResponses implements [store.ResponseStore].
func (s *Store) ListResponses(ctx context.Context, f store.Filter) ([]store.Response, error) {
	q := `
		SELECT id, session_id, slide_id, user_id, sections, thinking, thinking_sections, created_at
		FROM   responses
		WHERE  session_id = $1`
	args := []any{f.SessionID}
	if f.SlideID != "" {
		q += " AND slide_id = $2"
		args = append(args, f.SlideID)
	}
	q += " ORDER BY created_at, seq"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list responses: %w", err)
	}
	rs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Response, error) {
		var r store.Response
		err := row.Scan(&r.ID, &r.SessionID, &r.SlideID, &r.UserID, &r.Sections, &r.Thinking, &r.ThinkingSections, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan responses: %w", err)
	}
	if rs == nil {
		rs = []store.Response{}
	}
	return rs, nil
}

// SubscribeResponses implements [store.ResponseStore].
func (s *Store) SubscribeResponses(ctx context.Context, f store.Filter, onChange func([]store.Response), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("postgres store: subscribe responses: session id must not be empty")
	}
	return s.hub.Watch(ctx, store.ResponsesTopic(f.SessionID), func(ctx context.Context) {
		rs, err := s.ListResponses(ctx, f)
		if err != nil {
			if ctx.Err() == nil {
				onError(err)
			}
			return
		}
		onChange(rs)
	}), nil
}
