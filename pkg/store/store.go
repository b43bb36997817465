// Package store defines the durable record types of convene and the
// interfaces of the document store that persists them.
//
// The store exposes three collections (sessions, notes and responses) with
// create, sparse update, point and filtered reads, and a change feed. Change
// feeds follow a push model: Subscribe* calls register callbacks that receive
// a full snapshot of the matching records every time one of them changes. A
// snapshot is always delivered once right after subscribing.
//
// Callbacks may run on a store-owned goroutine and must not block for long;
// consumers that do slow work per snapshot should hand it off.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point reads and updates when no record exists.
var ErrNotFound = errors.New("store: not found")

// CancelFunc stops a subscription. It is idempotent and safe to call from any
// goroutine, including from within the subscription's own callback.
type CancelFunc func()

// Filter selects records for list queries and subscriptions.
type Filter struct {
	// SessionID is required for notes and responses.
	SessionID string

	// SlideID narrows responses to one slide. Empty selects all slides.
	SlideID string
}

// SessionStore persists sessions.
type SessionStore interface {
	// CreateSession stores s under a new id and returns it. Audit timestamps
	// are assigned by the store.
	CreateSession(ctx context.Context, s Session) (string, error)

	// GetSession returns the session with id or [ErrNotFound].
	GetSession(ctx context.Context, id string) (*Session, error)

	// UpdateSession replaces the stored session document with s.
	UpdateSession(ctx context.Context, s Session) error

	// SubscribeSession delivers the session on every change.
	SubscribeSession(ctx context.Context, id string, onChange func(Session), onError func(error)) (CancelFunc, error)
}

// NoteStore persists session notes.
type NoteStore interface {
	// AddNote stores n. The note's file URL is never persisted. CreatedAt and
	// UpdatedAt are assigned by the store.
	AddNote(ctx context.Context, n SessionNote) error

	// ListNotes returns the session's notes, newest first.
	ListNotes(ctx context.Context, f Filter) ([]SessionNote, error)

	// UpdateNote applies p to the note with id and stamps UpdatedAt with the
	// store's clock. Returns [ErrNotFound] for unknown ids.
	UpdateNote(ctx context.Context, id string, p NotePatch) error

	// SubscribeNotes delivers ListNotes snapshots on every change.
	SubscribeNotes(ctx context.Context, f Filter, onChange func([]SessionNote), onError func(error)) (CancelFunc, error)
}

// ResponseStore persists committed model responses.
type ResponseStore interface {
	// CreateResponse appends r with a store-assigned CreatedAt and returns
	// the new id.
	CreateResponse(ctx context.Context, r Response) (string, error)

	// ListResponses returns matching responses, oldest first.
	ListResponses(ctx context.Context, f Filter) ([]Response, error)

	// SubscribeResponses delivers ListResponses snapshots on every change.
	SubscribeResponses(ctx context.Context, f Filter, onChange func([]Response), onError func(error)) (CancelFunc, error)
}

// Store bundles all collections with lifecycle hooks.
type Store interface {
	SessionStore
	NoteStore
	ResponseStore

	// Ping verifies connectivity. Used by readiness checks.
	Ping(ctx context.Context) error

	// Close releases held resources and stops all subscriptions.
	Close() error
}
