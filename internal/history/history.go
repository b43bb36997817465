// Package history rebuilds the conversation of a session from its stored
// notes and committed responses.
//
// Notes are participant turns and responses are model turns. Both are merged
// into one timeline ordered by creation time, converted into content parts,
// and folded so that no two consecutive turns share a role. The most recent
// note is never part of the history: it is the input of the turn being
// generated.
package history

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/pkg/blob"
	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// defaultFetchConcurrency bounds parallel media downloads per build.
const defaultFetchConcurrency = 4

// Option configures a [Builder].
type Option func(*Builder)

// WithFetchConcurrency sets how many note files are downloaded in parallel.
// Values below 1 are ignored. Default: 4.
func WithFetchConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMetrics records build latency to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// Builder reconstructs session histories. It is safe for concurrent use.
type Builder struct {
	notes       store.NoteStore
	responses   store.ResponseStore
	blobs       blob.Store
	fetcher     blob.Fetcher
	concurrency int
	metrics     *observe.Metrics
}

// New returns a [Builder] reading records from notes and responses and media
// from blobs via fetcher.
func New(notes store.NoteStore, responses store.ResponseStore, blobs blob.Store, fetcher blob.Fetcher, opts ...Option) *Builder {
	b := &Builder{
		notes:       notes,
		responses:   responses,
		blobs:       blobs,
		fetcher:     fetcher,
		concurrency: defaultFetchConcurrency,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// event is one entry of the merged timeline.
type event struct {
	at    time.Time
	role  types.Role
	note  *store.SessionNote
	reply *store.Response
	part  *types.Part
}

// Build returns the session's history oldest first. Store failures abort with
// [types.ErrTransport]; a note whose content cannot be obtained is logged and
// skipped.
func (b *Builder) Build(ctx context.Context, sessionID string) ([]types.Content, error) {
	ctx, span := observe.StartSpan(ctx, "history.build")
	defer span.End()
	start := time.Now()

	var (
		notes     []store.SessionNote
		responses []store.Response
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		notes, err = b.notes.ListNotes(gctx, store.Filter{SessionID: sessionID})
		return types.Wrap(types.ErrTransport, "history: list notes", err)
	})
	g.Go(func() error {
		var err error
		responses, err = b.responses.ListResponses(gctx, store.Filter{SessionID: sessionID})
		return types.Wrap(types.ErrTransport, "history: list responses", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	events := timeline(notes, responses)
	b.resolve(ctx, events)

	var history []types.Content
	for _, ev := range events {
		if ev.part == nil {
			continue
		}
		history = types.AppendTurn(history, ev.role, *ev.part)
	}

	if b.metrics != nil {
		b.metrics.HistoryDuration.Record(ctx, time.Since(start).Seconds())
	}
	return history, nil
}

// timeline merges notes (newest first, as listed by the store) without the
// most recent one and responses into a stable, ascending event list. Records
// without a creation time sort first.
func timeline(notes []store.SessionNote, responses []store.Response) []event {
	if len(notes) > 0 {
		notes = notes[1:]
	}
	events := make([]event, 0, len(notes)+len(responses))
	for i := len(notes) - 1; i >= 0; i-- {
		events = append(events, event{at: notes[i].CreatedAt, role: types.RoleUser, note: &notes[i]})
	}
	for i := range responses {
		events = append(events, event{at: responses[i].CreatedAt, role: types.RoleModel, reply: &responses[i]})
	}
	slices.SortStableFunc(events, func(a, b event) int {
		return a.at.Compare(b.at)
	})
	return events
}

// resolve fills in the content part of every event. Participant media is
// fetched in parallel; failures leave the part nil.
func (b *Builder) resolve(ctx context.Context, events []event) {
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i := range events {
		ev := &events[i]
		if ev.reply != nil {
			ev.part = assistantPart(ctx, ev.reply)
			continue
		}
		if ev.note.FullText != "" {
			p := types.TextPart(ev.note.FullText)
			ev.part = &p
			continue
		}
		if ev.note.File == nil {
			observe.Logger(ctx).Warn("history: skipping note without text or file", "note_id", ev.note.ID)
			continue
		}
		g.Go(func() error {
			p, err := b.notePart(ctx, ev.note.File)
			if err != nil {
				observe.Logger(ctx).Warn("history: skipping note with unreadable file",
					"note_id", ev.note.ID, "storage_path", ev.note.File.StoragePath, "err", err)
				return nil
			}
			ev.part = &p
			return nil
		})
	}
	_ = g.Wait()
}

// notePart downloads a note's file and converts it into an inline part. A URL
// cached on the record is used before asking the blob store.
func (b *Builder) notePart(ctx context.Context, f *store.SessionFile) (types.Part, error) {
	url := f.URL
	if url == "" {
		var err error
		url, err = b.blobs.ResolveURL(ctx, f.StoragePath)
		if err != nil {
			return types.Part{}, types.Wrap(types.ErrTransport, "history: resolve url", err)
		}
	}
	data, contentType, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		return types.Part{}, types.Wrap(types.ErrTransport, "history: fetch", err)
	}
	mimeType := f.MIMEType
	if mimeType == "" {
		mimeType = contentType
	}
	return media.BytesToInlinePart(data, mimeType)
}

// assistantPart serialises a committed response the way the model produced
// it: {"sections":[...]}.
func assistantPart(ctx context.Context, r *store.Response) *types.Part {
	sections := r.Sections
	if sections == nil {
		sections = []store.Section{}
	}
	data, err := json.Marshal(struct {
		Sections []store.Section `json:"sections"`
	}{Sections: sections})
	if err != nil {
		observe.Logger(ctx).Warn("history: skipping unserialisable response", "response_id", r.ID, "err", err)
		return nil
	}
	p := types.TextPart(string(data))
	return &p
}
