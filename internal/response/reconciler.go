// Package response owns the lifecycle of model answers for a slide: the
// ephemeral temporary response that previews a turn while it streams, and
// the durable responses committed to the store once a turn completes.
//
// Per (session, slide) [Key] the [Reconciler] behaves as a small state
// machine:
//
//	Idle --SetTemporary--> Live --SetTemporary--> Live
//	Live --Commit--> (durable write, slot cleared) --> Idle
//	any  --ClearTemporary--> Idle
//
// Consumers observe a [View]: the durable responses in creation order
// followed by the temporary response, if any.
package response

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// Key identifies the response list of one slide.
type Key struct {
	SessionID string
	SlideID   string
}

// Partial is the in-flight state of a turn. It is never persisted.
type Partial struct {
	Sections []store.Section `json:"sections"`
	Thinking string          `json:"thinking,omitempty"`
}

// Final is the parsed outcome of a completed turn.
type Final struct {
	Sections []store.Section
	Thinking string
}

// View is what a consumer of a slide sees.
type View struct {
	Durable   []store.Response `json:"responses"`
	Temporary *Partial         `json:"temporary,omitempty"`
}

// List returns the durable responses followed by the temporary response, if
// any, rendered as an unsaved [store.Response] without id.
func (v View) List() []store.Response {
	out := slices.Clone(v.Durable)
	if v.Temporary != nil {
		out = append(out, store.Response{
			Sections:         v.Temporary.Sections,
			Thinking:         v.Temporary.Thinking,
			ThinkingSections: ParseThinking(v.Temporary.Thinking),
		})
	}
	return out
}

// Reconciler tracks temporary responses and commits final ones. It is safe
// for concurrent use.
type Reconciler struct {
	store store.ResponseStore
	now   func() time.Time

	mu       sync.Mutex
	slots    map[Key]*Partial
	watchers map[Key]map[*watcher]struct{}
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithClock sets the clock used to stamp optimistic durable entries until the
// store delivers the authoritative record.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New returns a [Reconciler] that commits to rs.
func New(rs store.ResponseStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    rs,
		now:      time.Now,
		slots:    make(map[Key]*Partial),
		watchers: make(map[Key]map[*watcher]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetTemporary replaces the temporary response of key with p. The last call
// wins; intermediate states are never queued.
func (r *Reconciler) SetTemporary(key Key, p Partial) {
	cp := Partial{Sections: slices.Clone(p.Sections), Thinking: p.Thinking}
	if cp.Sections == nil {
		cp.Sections = []store.Section{}
	}
	r.mu.Lock()
	r.slots[key] = &cp
	ws := r.watchersOf(key)
	r.mu.Unlock()
	for _, w := range ws {
		w.notify()
	}
}

// ClearTemporary drops the temporary response of key. Clearing an empty slot
// is a no-op.
func (r *Reconciler) ClearTemporary(key Key) {
	r.mu.Lock()
	_, had := r.slots[key]
	delete(r.slots, key)
	ws := r.watchersOf(key)
	r.mu.Unlock()
	if !had {
		return
	}
	for _, w := range ws {
		w.notify()
	}
}

// Temporary returns a copy of the temporary response of key, or nil.
func (r *Reconciler) Temporary(key Key) *Partial {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.slots[key]
	if !ok {
		return nil
	}
	return &Partial{Sections: slices.Clone(p.Sections), Thinking: p.Thinking}
}

// Commit appends f as a durable response of key and clears the temporary
// slot. The store assigns the creation time. When the write fails the slot is
// left untouched and an error wrapping [types.ErrTransport] is returned.
func (r *Reconciler) Commit(ctx context.Context, key Key, userID string, f Final) (*store.Response, error) {
	resp := store.Response{
		SessionID:        key.SessionID,
		SlideID:          key.SlideID,
		UserID:           userID,
		Sections:         slices.Clone(f.Sections),
		Thinking:         f.Thinking,
		ThinkingSections: ParseThinking(f.Thinking),
	}
	id, err := r.store.CreateResponse(ctx, resp)
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "response: commit", err)
	}
	resp.ID = id
	resp.CreatedAt = r.now()

	// Swap the temporary for the durable entry atomically so no view shows
	// both or neither.
	r.mu.Lock()
	delete(r.slots, key)
	ws := r.watchersOf(key)
	for _, w := range ws {
		w.addDurable(resp)
	}
	r.mu.Unlock()
	for _, w := range ws {
		w.notify()
	}
	return &resp, nil
}

// View reads the durable responses of key and combines them with the current
// temporary response.
func (r *Reconciler) View(ctx context.Context, key Key) (View, error) {
	rs, err := r.store.ListResponses(ctx, store.Filter{SessionID: key.SessionID, SlideID: key.SlideID})
	if err != nil {
		return View{}, types.Wrap(types.ErrTransport, "response: list", err)
	}
	return View{Durable: rs, Temporary: r.Temporary(key)}, nil
}

// Subscribe delivers a [View] of key whenever the durable list or the
// temporary slot changes. Deliveries are serialised per subscription and
// coalesced: a slow onChange sees the latest state, not every intermediate
// one. onChange runs on a goroutine owned by the subscription.
func (r *Reconciler) Subscribe(ctx context.Context, key Key, onChange func(View), onError func(error)) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		rec:      r,
		key:      key,
		onChange: onChange,
		kick:     make(chan struct{}, 1),
	}

	r.mu.Lock()
	if r.watchers[key] == nil {
		r.watchers[key] = make(map[*watcher]struct{})
	}
	r.watchers[key][w] = struct{}{}
	r.mu.Unlock()

	// Seed synchronously so the first view already carries the durable list;
	// the feed's own first snapshot arrives asynchronously.
	filter := store.Filter{SessionID: key.SessionID, SlideID: key.SlideID}
	rs, err := r.store.ListResponses(ctx, filter)
	if err != nil {
		cancel()
		r.removeWatcher(w)
		return nil, types.Wrap(types.ErrTransport, "response: subscribe", err)
	}
	w.setDurable(rs)

	stopFeed, err := r.store.SubscribeResponses(ctx, filter,
		func(rs []store.Response) {
			w.setDurable(rs)
			w.notify()
		}, onError)
	if err != nil {
		cancel()
		r.removeWatcher(w)
		return nil, types.Wrap(types.ErrTransport, "response: subscribe", err)
	}

	go w.run(ctx)
	w.notify()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopFeed()
			cancel()
			r.removeWatcher(w)
		})
	}, nil
}

func (r *Reconciler) watchersOf(key Key) []*watcher {
	ws := make([]*watcher, 0, len(r.watchers[key]))
	for w := range r.watchers[key] {
		ws = append(ws, w)
	}
	return ws
}

func (r *Reconciler) removeWatcher(w *watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.watchers[w.key]
	delete(set, w)
	if len(set) == 0 {
		delete(r.watchers, w.key)
	}
}

// ── Watcher ──────────────────────────────────────────────────────────────────

type watcher struct {
	rec      *Reconciler
	key      Key
	onChange func(View)
	kick     chan struct{}

	mu      sync.Mutex
	durable []store.Response
	// pending holds committed responses no store snapshot has shown yet.
	pending []store.Response
}

// notify schedules a delivery without blocking. A pending delivery already
// covers the new state.
func (w *watcher) notify() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// setDurable replaces the durable list with a store snapshot. Committed
// responses the snapshot predates stay appended until a snapshot includes
// them.
func (w *watcher) setDurable(rs []store.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durable = slices.Clone(rs)
	w.pending = slices.DeleteFunc(w.pending, func(p store.Response) bool {
		return containsID(rs, p.ID)
	})
	w.durable = append(w.durable, w.pending...)
}

// addDurable appends a just-committed response unless the store already
// delivered it.
func (w *watcher) addDurable(resp store.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if containsID(w.durable, resp.ID) {
		return
	}
	w.durable = append(w.durable, resp)
	w.pending = append(w.pending, resp)
}

func containsID(rs []store.Response, id string) bool {
	return slices.ContainsFunc(rs, func(r store.Response) bool { return r.ID == id })
}

// view snapshots the watcher's state. Lock order is Reconciler.mu, then
// watcher.mu.
func (w *watcher) view() View {
	w.rec.mu.Lock()
	defer w.rec.mu.Unlock()
	var temp *Partial
	if p, ok := w.rec.slots[w.key]; ok {
		temp = &Partial{Sections: slices.Clone(p.Sections), Thinking: p.Thinking}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{Durable: slices.Clone(w.durable), Temporary: temp}
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		}
		v := w.view()
		if ctx.Err() != nil {
			return
		}
		w.onChange(v)
	}
}
