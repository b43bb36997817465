// Package mock provides a configurable test double for [store.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. Subscriptions are captured so
// tests can push snapshots with the Emit* helpers. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	st := &mock.Store{}
//	st.ListNotesResult = []store.SessionNote{{ID: "n1"}}
//
//	// inject st into the system under test …
//
//	if got := st.CallCount("UpdateNote"); got != 0 {
//	    t.Errorf("expected no UpdateNote calls, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/convene/pkg/store"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [store.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call

	CreateSessionErr error
	GetSessionResult *store.Session
	GetSessionErr    error
	UpdateSessionErr error

	AddNoteErr      error
	ListNotesResult []store.SessionNote
	ListNotesErr    error
	UpdateNoteErr   error

	CreateResponseErr   error
	ListResponsesResult []store.Response
	ListResponsesErr    error

	SubscribeErr error
	PingErr      error

	nextID        int
	noteSubs      []func([]store.SessionNote)
	responseSubs  []func([]store.Response)
	sessionSubs   []func(store.Session)
	errorHandlers []func(error)
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded calls.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was called.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and captured subscriptions.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.noteSubs = nil
	m.responseSubs = nil
	m.sessionSubs = nil
	m.errorHandlers = nil
}

func (m *Store) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// CreateSession implements [store.SessionStore].
func (m *Store) CreateSession(_ context.Context, s store.Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateSession", s)
	if m.CreateSessionErr != nil {
		return "", m.CreateSessionErr
	}
	if s.ID != "" {
		return s.ID, nil
	}
	return m.newID("session"), nil
}

// GetSession implements [store.SessionStore].
func (m *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetSession", id)
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	if m.GetSessionResult == nil {
		return nil, store.ErrNotFound
	}
	s := *m.GetSessionResult
	return &s, nil
}

// UpdateSession implements [store.SessionStore].
func (m *Store) UpdateSession(_ context.Context, s store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateSession", s)
	return m.UpdateSessionErr
}

// SubscribeSession implements [store.SessionStore].
func (m *Store) SubscribeSession(_ context.Context, id string, onChange func(store.Session), onError func(error)) (store.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubscribeSession", id)
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.sessionSubs = append(m.sessionSubs, onChange)
	m.errorHandlers = append(m.errorHandlers, onError)
	return func() {}, nil
}

// AddNote implements [store.NoteStore].
func (m *Store) AddNote(_ context.Context, n store.SessionNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddNote", n.Persistable())
	return m.AddNoteErr
}

// ListNotes implements [store.NoteStore].
func (m *Store) ListNotes(_ context.Context, f store.Filter) ([]store.SessionNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListNotes", f)
	if m.ListNotesErr != nil {
		return nil, m.ListNotesErr
	}
	out := make([]store.SessionNote, len(m.ListNotesResult))
	copy(out, m.ListNotesResult)
	return out, nil
}

// UpdateNote implements [store.NoteStore].
func (m *Store) UpdateNote(_ context.Context, id string, p store.NotePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateNote", id, p)
	return m.UpdateNoteErr
}

// SubscribeNotes implements [store.NoteStore].
func (m *Store) SubscribeNotes(_ context.Context, f store.Filter, onChange func([]store.SessionNote), onError func(error)) (store.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubscribeNotes", f)
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.noteSubs = append(m.noteSubs, onChange)
	m.errorHandlers = append(m.errorHandlers, onError)
	return func() {}, nil
}

// CreateResponse implements [store.ResponseStore].
func (m *Store) CreateResponse(_ context.Context, r store.Response) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateResponse", r)
	if m.CreateResponseErr != nil {
		return "", m.CreateResponseErr
	}
	return m.newID("response"), nil
}

// ListResponses implements [store.ResponseStore].
func (m *Store) ListResponses(_ context.Context, f store.Filter) ([]store.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListResponses", f)
	if m.ListResponsesErr != nil {
		return nil, m.ListResponsesErr
	}
	out := make([]store.Response, len(m.ListResponsesResult))
	copy(out, m.ListResponsesResult)
	return out, nil
}

// SubscribeResponses implements [store.ResponseStore].
func (m *Store) SubscribeResponses(_ context.Context, f store.Filter, onChange func([]store.Response), onError func(error)) (store.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SubscribeResponses", f)
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.responseSubs = append(m.responseSubs, onChange)
	m.errorHandlers = append(m.errorHandlers, onError)
	return func() {}, nil
}

// Ping implements [store.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Ping")
	return m.PingErr
}

// Close implements [store.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Close")
	return nil
}

// EmitNotes delivers notes to every captured note subscription, synchronously.
func (m *Store) EmitNotes(notes []store.SessionNote) {
	m.mu.Lock()
	subs := slices.Clone(m.noteSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(notes)
	}
}

// EmitResponses delivers rs to every captured response subscription.
func (m *Store) EmitResponses(rs []store.Response) {
	m.mu.Lock()
	subs := slices.Clone(m.responseSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(rs)
	}
}

// EmitSession delivers s to every captured session subscription.
func (m *Store) EmitSession(s store.Session) {
	m.mu.Lock()
	subs := slices.Clone(m.sessionSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// EmitError delivers err to every captured onError handler.
func (m *Store) EmitError(err error) {
	m.mu.Lock()
	hs := slices.Clone(m.errorHandlers)
	m.mu.Unlock()
	for _, fn := range hs {
		fn(err)
	}
}
