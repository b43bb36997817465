// Package memstore provides a thread-safe, in-memory implementation of
// [store.Store] with a live change feed. It is intended for development,
// single-instance deployments and tests.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/convene/pkg/store"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces the clock used for store-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps all records in maps guarded by a single RWMutex.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]store.Session
	notes     map[string]entry[store.SessionNote]
	responses map[string]entry[store.Response]
	seq       uint64

	now func() time.Time
	hub store.Hub
}

// entry pairs a record with its insertion sequence, which breaks timestamp
// ties deterministically.
type entry[T any] struct {
	seq uint64
	rec T
}

// New returns an empty [Store].
func New(opts ...Option) *Store {
	s := &Store{
		sessions:  make(map[string]store.Session),
		notes:     make(map[string]entry[store.SessionNote]),
		responses: make(map[string]entry[store.Response]),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(_ context.Context, sess store.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.UpdatedBy == "" {
		sess.UpdatedBy = sess.CreatedBy
	}

	s.mu.Lock()
	if _, exists := s.sessions[sess.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("memstore: session %q already exists", sess.ID)
	}
	s.sessions[sess.ID] = cloneSession(sess)
	s.mu.Unlock()

	s.hub.Notify(store.SessionTopic(sess.ID))
	return sess.ID, nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memstore: session %q: %w", id, store.ErrNotFound)
	}
	out := cloneSession(sess)
	return &out, nil
}

// UpdateSession implements [store.SessionStore].
func (s *Store) UpdateSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	prev, ok := s.sessions[sess.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: session %q: %w", sess.ID, store.ErrNotFound)
	}
	sess.CreatedAt, sess.CreatedBy = prev.CreatedAt, prev.CreatedBy
	sess.UpdatedAt = s.now()
	s.sessions[sess.ID] = cloneSession(sess)
	s.mu.Unlock()

	s.hub.Notify(store.SessionTopic(sess.ID))
	return nil
}

// SubscribeSession implements [store.SessionStore]. Nothing is delivered
// while the session does not exist.
func (s *Store) SubscribeSession(ctx context.Context, id string, onChange func(store.Session), onError func(error)) (store.CancelFunc, error) {
	return s.hub.Watch(ctx, store.SessionTopic(id), func(ctx context.Context) {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return
		}
		onChange(*sess)
	}), nil
}

// ── Notes ────────────────────────────────────────────────────────────────────

// AddNote implements [store.NoteStore].
func (s *Store) AddNote(_ context.Context, n store.SessionNote) error {
	if n.SessionID == "" {
		return fmt.Errorf("memstore: add note: session id must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n = cloneNote(n.Persistable())
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now
	if n.UpdatedBy == "" {
		n.UpdatedBy = n.CreatedBy
	}

	s.mu.Lock()
	if _, exists := s.notes[n.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("memstore: note %q already exists", n.ID)
	}
	s.seq++
	s.notes[n.ID] = entry[store.SessionNote]{seq: s.seq, rec: n}
	s.mu.Unlock()

	s.hub.Notify(store.NotesTopic(n.SessionID))
	return nil
}

// ListNotes implements [store.NoteStore].
func (s *Store) ListNotes(_ context.Context, f store.Filter) ([]store.SessionNote, error) {
	s.mu.RLock()
	matched := make([]entry[store.SessionNote], 0)
	for _, e := range s.notes {
		if e.rec.SessionID == f.SessionID {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b entry[store.SessionNote]) int {
		if c := b.rec.CreatedAt.Compare(a.rec.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	out := make([]store.SessionNote, len(matched))
	for i, e := range matched {
		out[i] = cloneNote(e.rec)
	}
	return out, nil
}

// UpdateNote implements [store.NoteStore].
func (s *Store) UpdateNote(_ context.Context, id string, p store.NotePatch) error {
	s.mu.Lock()
	e, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: note %q: %w", id, store.ErrNotFound)
	}
	p.Apply(&e.rec)
	e.rec.UpdatedAt = s.now()
	s.notes[id] = e
	sessionID := e.rec.SessionID
	s.mu.Unlock()

	s.hub.Notify(store.NotesTopic(sessionID))
	return nil
}

// SubscribeNotes implements [store.NoteStore].
func (s *Store) SubscribeNotes(ctx context.Context, f store.Filter, onChange func([]store.SessionNote), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("memstore: subscribe notes: session id must not be empty")
	}
	return s.hub.Watch(ctx, store.NotesTopic(f.SessionID), func(ctx context.Context) {
		notes, err := s.ListNotes(ctx, f)
		if err != nil {
			onError(err)
			return
		}
		onChange(notes)
	}), nil
}

// ── Responses ────────────────────────────────────────────────────────────────

// CreateResponse implements [store.ResponseStore].
func (s *Store) CreateResponse(_ context.Context, r store.Response) (string, error) {
	if r.SessionID == "" {
		return "", fmt.Errorf("memstore: create response: session id must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r = cloneResponse(r)
	r.CreatedAt = s.now()

	s.mu.Lock()
	if _, exists := s.responses[r.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("memstore: response %q already exists", r.ID)
	}
	s.seq++
	s.responses[r.ID] = entry[store.Response]{seq: s.seq, rec: r}
	s.mu.Unlock()

	s.hub.Notify(store.ResponsesTopic(r.SessionID))
	return r.ID, nil
}

// ListResponses implements [store.ResponseStore].
func (s *Store) ListResponses(_ context.Context, f store.Filter) ([]store.Response, error) {
	s.mu.RLock()
	matched := make([]entry[store.Response], 0)
	for _, e := range s.responses {
		if e.rec.SessionID != f.SessionID {
			continue
		}
		if f.SlideID != "" && e.rec.SlideID != f.SlideID {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b entry[store.Response]) int {
		if c := a.rec.CreatedAt.Compare(b.rec.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]store.Response, len(matched))
	for i, e := range matched {
		out[i] = cloneResponse(e.rec)
	}
	return out, nil
}

// SubscribeResponses implements [store.ResponseStore].
func (s *Store) SubscribeResponses(ctx context.Context, f store.Filter, onChange func([]store.Response), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, fmt.Errorf("memstore: subscribe responses: session id must not be empty")
	}
	return s.hub.Watch(ctx, store.ResponsesTopic(f.SessionID), func(ctx context.Context) {
		rs, err := s.ListResponses(ctx, f)
		if err != nil {
			onError(err)
			return
		}
		onChange(rs)
	}), nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Ping implements [store.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store] by stopping all subscriptions.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

// ── Copy helpers ─────────────────────────────────────────────────────────────

func cloneSession(s store.Session) store.Session {
	s.Slides = slices.Clone(s.Slides)
	return s
}

func cloneNote(n store.SessionNote) store.SessionNote {
	if n.File != nil {
		f := *n.File
		n.File = &f
	}
	return n
}

func cloneResponse(r store.Response) store.Response {
	r.Sections = slices.Clone(r.Sections)
	r.ThinkingSections = slices.Clone(r.ThinkingSections)
	return r
}
