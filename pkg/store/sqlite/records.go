package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

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
	slides, err := json.Marshal(slidesOrEmpty(sess.Slides))
	if err != nil {
		return "", fmt.Errorf("sqlite store: encode slides: %w", err)
	}
	now := s.stamp()

	const q = `
		INSERT INTO sessions (id, title, scheduled, template, slides, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		sess.ID, sess.Title, toNanos(sess.ScheduledAt), sess.Template, string(slides),
		now, sess.CreatedBy, now, sess.UpdatedBy,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite store: create session: %w", err)
	}
	s.hub.Notify(store.SessionTopic(sess.ID))
	return sess.ID, nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `
		SELECT id, title, scheduled, template, slides, created_at, created_by, updated_at, updated_by
		FROM   sessions
		WHERE  id = ?`

	var (
		sess                        store.Session
		scheduled, created, updated int64
		slides                      string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&sess.ID, &sess.Title, &scheduled, &sess.Template, &slides,
		&created, &sess.CreatedBy, &updated, &sess.UpdatedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite store: session %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get session: %w", err)
	}
	if err := json.Unmarshal([]byte(slides), &sess.Slides); err != nil {
		return nil, fmt.Errorf("sqlite store: decode slides of %q: %w", id, err)
	}
	sess.ScheduledAt = fromNanos(scheduled)
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return &sess, nil
}

// UpdateSession implements [store.SessionStore] as a whole-document replace.
func (s *Store) UpdateSession(ctx context.Context, sess store.Session) error {
	slides, err := json.Marshal(slidesOrEmpty(sess.Slides))
	if err != nil {
		return fmt.Errorf("sqlite store: encode slides: %w", err)
	}

	const q = `
		UPDATE sessions
		SET    title = ?, scheduled = ?, template = ?, slides = ?, updated_at = ?, updated_by = ?
		WHERE  id = ?`

	res, err := s.db.ExecContext(ctx, q,
		sess.Title, toNanos(sess.ScheduledAt), sess.Template, string(slides), s.stamp(), sess.UpdatedBy, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite store: session %q: %w", sess.ID, store.ErrNotFound)
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
			if ctx.Err() == nil {
				onError(err)
			}
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

// AddNote implements [store.NoteStore].
func (s *Store) AddNote(ctx context.Context, n store.SessionNote) error {
	if n.SessionID == "" {
		return fmt.Errorf("sqlite store: add note: session id must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n = n.Persistable()
	if n.UpdatedBy == "" {
		n.UpdatedBy = n.CreatedBy
	}

	var file sql.NullString
	if n.File != nil {
		b, err := json.Marshal(n.File)
		if err != nil {
			return fmt.Errorf("sqlite store: encode file: %w", err)
		}
		file = sql.NullString{String: string(b), Valid: true}
	}
	now := s.stamp()

	const q = `
		INSERT INTO notes
		    (id, session_id, full_text, full_text_source, title, title_source,
		     summary, summary_source, emoji, file, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		n.ID, n.SessionID,
		n.FullText, string(n.FullTextSource),
		n.Title, string(n.TitleSource),
		n.Summary, string(n.SummarySource),
		n.Emoji, file, now, n.CreatedBy, now, n.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: add note: %w", err)
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
		WHERE  session_id = ?
		ORDER  BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, q, f.SessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list notes: %w", err)
	}
	defer rows.Close()

	notes := []store.SessionNote{}
	for rows.Next() {
		var (
			n                         store.SessionNote
			textSrc, titleSrc, sumSrc string
			file                      sql.NullString
			created, updated          int64
		)
		if err := rows.Scan(
			&n.ID, &n.SessionID,
			&n.FullText, &textSrc,
			&n.Title, &titleSrc,
			&n.Summary, &sumSrc,
			&n.Emoji, &file,
			&created, &n.CreatedBy, &updated, &n.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("sqlite store: scan notes: %w", err)
		}
		if file.Valid {
			n.File = &store.SessionFile{}
			if err := json.Unmarshal([]byte(file.String), n.File); err != nil {
				return nil, fmt.Errorf("sqlite store: decode file of note %q: %w", n.ID, err)
			}
		}
		n.FullTextSource = store.Provenance(textSrc)
		n.TitleSource = store.Provenance(titleSrc)
		n.SummarySource = store.Provenance(sumSrc)
		n.CreatedAt = fromNanos(created)
		n.UpdatedAt = fromNanos(updated)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: scan notes: %w", err)
	}
	return notes, nil
}

// UpdateNote implements [store.NoteStore]. Only the fields set in p are
// written.
func (s *Store) UpdateNote(ctx context.Context, id string, p store.NotePatch) error {
	var args []any
	set := func(col string, v any) string {
		args = append(args, v)
		return col + " = ?"
	}

	sets := []string{set("updated_at", s.stamp())}
	if p.FullText != nil {
		sets = append(sets, set("full_text", *p.FullText))
	}
	if p.FullTextSource != nil {
		sets = append(sets, set("full_text_source", string(*p.FullTextSource)))
	}
	if p.Title != nil {
		sets = append(sets, set("title", *p.Title))
	}
	if p.TitleSource != nil {
		sets = append(sets, set("title_source", string(*p.TitleSource)))
	}
	if p.Summary != nil {
		sets = append(sets, set("summary", *p.Summary))
	}
	if p.SummarySource != nil {
		sets = append(sets, set("summary_source", string(*p.SummarySource)))
	}
	if p.Emoji != nil {
		sets = append(sets, set("emoji", *p.Emoji))
	}
	if p.UpdatedBy != "" {
		sets = append(sets, set("updated_by", p.UpdatedBy))
	}
	args = append(args, id)

	q := "UPDATE notes SET " + strings.Join(sets, ", ") + " WHERE id = ? RETURNING session_id"

	var sessionID string
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite store: note %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: update note: %w", err)
	}
	s.hub.Notify(store.NotesTopic(sessionID))
	return nil
}

// SubscribeNotes implements [store.NoteStore].
func (s *Store) SubscribeNotes(ctx context.Context, f store.Filter, onChange func([]store.SessionNote), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("sqlite store: subscribe notes: session id must not be empty")
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

// CreateResponse implements [store.ResponseStore].
func (s *Store) CreateResponse(ctx context.Context, r store.Response) (string, error) {
	if r.SessionID == "" {
		return "", fmt.Errorf("sqlite store: create response: session id must not be empty")
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
	secJSON, err := json.Marshal(sections)
	if err != nil {
		return "", fmt.Errorf("sqlite store: encode sections: %w", err)
	}
	thinkJSON, err := json.Marshal(thinking)
	if err != nil {
		return "", fmt.Errorf("sqlite store: encode thinking sections: %w", err)
	}

	const q = `
		INSERT INTO responses (id, session_id, slide_id, user_id, sections, thinking, thinking_sections, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		r.ID, r.SessionID, r.SlideID, r.UserID, string(secJSON), r.Thinking, string(thinkJSON), s.stamp(),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite store: create response: %w", err)
	}
	s.hub.Notify(store.ResponsesTopic(r.SessionID))
	return r.ID, nil
}

// ListResponses implements [store.ResponseStore].
func (s *Store) ListResponses(ctx context.Context, f store.Filter) ([]store.Response, error) {
	q := `
		SELECT id, session_id, slide_id, user_id, sections, thinking, thinking_sections, created_at
		FROM   responses
		WHERE  session_id = ?`
	args := []any{f.SessionID}
	if f.SlideID != "" {
		q += " AND slide_id = ?"
		args = append(args, f.SlideID)
	}
	q += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list responses: %w", err)
	}
	defer rows.Close()

	rs := []store.Response{}
	for rows.Next() {
		var (
			r                  store.Response
			sections, thinking string
			created            int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SlideID, &r.UserID, &sections, &r.Thinking, &thinking, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan responses: %w", err)
		}
		if err := json.Unmarshal([]byte(sections), &r.Sections); err != nil {
			return nil, fmt.Errorf("sqlite store: decode sections of %q: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(thinking), &r.ThinkingSections); err != nil {
			return nil, fmt.Errorf("sqlite store: decode thinking sections of %q: %w", r.ID, err)
		}
		r.CreatedAt = fromNanos(created)
		rs = append(rs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: scan responses: %w", err)
	}
	return rs, nil
}

// SubscribeResponses implements [store.ResponseStore].
func (s *Store) SubscribeResponses(ctx context.Context, f store.Filter, onChange func([]store.Response), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("sqlite store: subscribe responses: session id must not be empty")
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
