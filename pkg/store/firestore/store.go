// Package firestore provides a Cloud Firestore implementation of
// [store.Store].
//
// Change feeds use Firestore's native snapshot listeners. Creation and
// update timestamps are assigned by the server.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/convene/pkg/store"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

const (
	colSessions  = "sessions"
	colNotes     = "notes"
	colResponses = "responses"
)

// Store is a Firestore-backed document store.
type Store struct {
	client *firestore.Client
}

// New creates a Firestore client for projectID. An empty databaseID selects
// the project's default database.
func New(ctx context.Context, projectID, databaseID string) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("firestore store: projectID must not be empty")
	}
	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("firestore store: create client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Ping implements [store.Store] with a one-document read.
func (s *Store) Ping(ctx context.Context) error {
	it := s.client.Collection(colSessions).Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore store: ping: %w", err)
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("firestore store: close: %w", err)
	}
	return nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess store.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.UpdatedBy == "" {
		sess.UpdatedBy = sess.CreatedBy
	}
	if _, err := s.client.Collection(colSessions).Doc(sess.ID).Create(ctx, toSessionDoc(sess)); err != nil {
		return "", fmt.Errorf("firestore store: create session: %w", err)
	}
	return sess.ID, nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	snap, err := s.client.Collection(colSessions).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("firestore store: session %q: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("firestore store: get session: %w", err)
	}
	var d sessionDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("firestore store: decode session: %w", err)
	}
	sess := fromSessionDoc(snap.Ref.ID, d)
	return &sess, nil
}

// UpdateSession implements [store.SessionStore]. Content fields and the slide
// list are replaced as a whole; creation metadata is preserved.
func (s *Store) UpdateSession(ctx context.Context, sess store.Session) error {
	d := toSessionDoc(sess)
	_, err := s.client.Collection(colSessions).Doc(sess.ID).Update(ctx, []firestore.Update{
		{Path: "title", Value: d.Title},
		{Path: "scheduledAt", Value: d.ScheduledAt},
		{Path: "template", Value: d.Template},
		{Path: "slides", Value: d.Slides},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
		{Path: "updatedBy", Value: d.UpdatedBy},
	})
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("firestore store: session %q: %w", sess.ID, store.ErrNotFound)
		}
		return fmt.Errorf("firestore store: update session: %w", err)
	}
	return nil
}

// SubscribeSession implements [store.SessionStore].
func (s *Store) SubscribeSession(ctx context.Context, id string, onChange func(store.Session), onError func(error)) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(colSessions).Doc(id).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				reportStreamError(ctx, "session", err, onError)
				return
			}
			if !snap.Exists() {
				continue
			}
			var d sessionDoc
			if err := snap.DataTo(&d); err != nil {
				onError(fmt.Errorf("firestore store: decode session: %w", err))
				continue
			}
			onChange(fromSessionDoc(snap.Ref.ID, d))
		}
	}()
	return store.CancelFunc(cancel), nil
}

// ── Notes ────────────────────────────────────────────────────────────────────

// AddNote implements [store.NoteStore].
func (s *Store) AddNote(ctx context.Context, n store.SessionNote) error {
	if n.SessionID == "" {
		return errors.New("firestore store: add note: session id must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.UpdatedBy == "" {
		n.UpdatedBy = n.CreatedBy
	}
	if _, err := s.client.Collection(colNotes).Doc(n.ID).Create(ctx, toNoteDoc(n)); err != nil {
		return fmt.Errorf("firestore store: add note: %w", err)
	}
	return nil
}

func (s *Store) notesQuery(f store.Filter) firestore.Query {
	return s.client.Collection(colNotes).
		Where("sessionId", "==", f.SessionID).
		OrderBy("createdAt", firestore.Desc)
}

// ListNotes implements [store.NoteStore].
func (s *Store) ListNotes(ctx context.Context, f store.Filter) ([]store.SessionNote, error) {
	snaps, err := s.notesQuery(f).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore store: list notes: %w", err)
	}
	return decodeNotes(snaps)
}

func decodeNotes(snaps []*firestore.DocumentSnapshot) ([]store.SessionNote, error) {
	out := make([]store.SessionNote, 0, len(snaps))
	for _, snap := range snaps {
		var d noteDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore store: decode note %s: %w", snap.Ref.ID, err)
		}
		out = append(out, fromNoteDoc(snap.Ref.ID, d))
	}
	return out, nil
}

// UpdateNote implements [store.NoteStore] as a field-path update.
func (s *Store) UpdateNote(ctx context.Context, id string, p store.NotePatch) error {
	updates := []firestore.Update{{Path: "updatedAt", Value: firestore.ServerTimestamp}}
	add := func(path string, v any) {
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}
	if p.FullText != nil {
		add("fullText", *p.FullText)
	}
	if p.FullTextSource != nil {
		add("fullTextModelUsed", string(*p.FullTextSource))
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.TitleSource != nil {
		add("titleModelUsed", string(*p.TitleSource))
	}
	if p.Summary != nil {
		add("summary", *p.Summary)
	}
	if p.SummarySource != nil {
		add("summaryModelUsed", string(*p.SummarySource))
	}
	if p.Emoji != nil {
		add("emoji", *p.Emoji)
	}
	if p.UpdatedBy != "" {
		add("updatedBy", p.UpdatedBy)
	}

	if _, err := s.client.Collection(colNotes).Doc(id).Update(ctx, updates); err != nil {
		if notFound(err) {
			return fmt.Errorf("firestore store: note %q: %w", id, store.ErrNotFound)
		}
		return fmt.Errorf("firestore store: update note: %w", err)
	}
	return nil
}

// SubscribeNotes implements [store.NoteStore].
func (s *Store) SubscribeNotes(ctx context.Context, f store.Filter, onChange func([]store.SessionNote), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, errors.New("firestore store: subscribe notes: session id must not be empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	it := s.notesQuery(f).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				reportStreamError(ctx, "notes", err, onError)
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				onError(fmt.Errorf("firestore store: read notes snapshot: %w", err))
				continue
			}
			notes, err := decodeNotes(snaps)
			if err != nil {
				onError(err)
				continue
			}
			onChange(notes)
		}
	}()
	return store.CancelFunc(cancel), nil
}

// ── Responses ────────────────────────────────────────────────────────────────

// CreateResponse implements [store.ResponseStore].
func (s *Store) CreateResponse(ctx context.Context, r store.Response) (string, error) {
	if r.SessionID == "" {
		return "", errors.New("firestore store: create response: session id must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, err := s.client.Collection(colResponses).Doc(r.ID).Create(ctx, toResponseDoc(r)); err != nil {
		return "", fmt.Errorf("firestore store: create response: %w", err)
	}
	return r.ID, nil
}

func (s *Store) responsesQuery(f store.Filter) firestore.Query {
	q := s.client.Collection(colResponses).Where("sessionId", "==", f.SessionID)
	if f.SlideID != "" {
		q = q.Where("slideId", "==", f.SlideID)
	}
	return q.OrderBy("createdAt", firestore.Asc)
}

// ListResponses implements [store.ResponseStore].
func (s *Store) ListResponses(ctx context.Context, f store.Filter) ([]store.Response, error) {
	snaps, err := s.responsesQuery(f).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore store: list responses: %w", err)
	}
	return decodeResponses(snaps)
}

func decodeResponses(snaps []*firestore.DocumentSnapshot) ([]store.Response, error) {
	out := make([]store.Response, 0, len(snaps))
	for _, snap := range snaps {
		var d responseDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore store: decode response %s: %w", snap.Ref.ID, err)
		}
		out = append(out, fromResponseDoc(snap.Ref.ID, d))
	}
	return out, nil
}

// SubscribeResponses implements [store.ResponseStore].
func (s *Store) SubscribeResponses(ctx context.Context, f store.Filter, onChange func([]store.Response), onError func(error)) (store.CancelFunc, error) {
	if f.SessionID == "" {
		return nil, errors.New("firestore store: subscribe responses: session id must not be empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	it := s.responsesQuery(f).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				reportStreamError(ctx, "responses", err, onError)
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				onError(fmt.Errorf("firestore store: read responses snapshot: %w", err))
				continue
			}
			rs, err := decodeResponses(snaps)
			if err != nil {
				onError(err)
				continue
			}
			onChange(rs)
		}
	}()
	return store.CancelFunc(cancel), nil
}

// reportStreamError forwards a terminal listener error unless it was caused by
// cancelling the subscription.
func reportStreamError(ctx context.Context, what string, err error, onError func(error)) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
		return
	}
	slog.Warn("firestore store: snapshot listener stopped", "collection", what, "err", err)
	onError(fmt.Errorf("firestore store: listen %s: %w", what, err))
}
