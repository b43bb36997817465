// Package enrich fills in the derived fields of stored session notes.
//
// A [Reconciler] pass looks at every note that still lacks a model-derived
// transcript, a title or a summary. It transcribes or extracts the note's
// file, summarizes the resulting text, and writes whatever it derived back in
// one sparse update. Fully enriched notes are skipped, so a pass may run on
// every change-feed snapshot without reprocessing anything.
//
// Passes may overlap. Two passes racing on the same note can both call a
// model and both write; sparse updates make the second write harmless.
package enrich

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/pkg/blob"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// Step names used in logs and metrics.
const (
	StepTranscribe = "transcribe"
	StepExtract    = "extract"
	StepSummarize  = "summarize"
	StepWrite      = "write"
)

const (
	defaultConcurrency = 2
	defaultActor       = "enrichment"
)

// Deriver produces derived note fields. *assist.Assistant implements it.
type Deriver interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
	Summarize(ctx context.Context, text string) (*assist.Summary, error)
}

var _ Deriver = (*assist.Assistant)(nil)

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithConcurrency bounds how many notes one pass processes in parallel.
// Values below 1 are ignored. Default: 2.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithActor sets the UpdatedBy value written with every patch.
// Default: "enrichment".
func WithActor(actor string) Option {
	return func(r *Reconciler) { r.actor = actor }
}

// WithMetrics records step outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler enriches notes. It is safe for concurrent use.
type Reconciler struct {
	notes       store.NoteStore
	blobs       blob.Store
	fetcher     blob.Fetcher
	derive      Deriver
	concurrency int
	actor       string
	metrics     *observe.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New returns a [Reconciler] that writes to notes and reads note media from
// blobs via fetcher.
func New(notes store.NoteStore, blobs blob.Store, fetcher blob.Fetcher, derive Deriver, opts ...Option) *Reconciler {
	r := &Reconciler{
		notes:       notes,
		blobs:       blobs,
		fetcher:     fetcher,
		derive:      derive,
		concurrency: defaultConcurrency,
		actor:       defaultActor,
		inflight:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile runs one pass over notes and returns how many were updated.
// Per-note failures are logged and never abort the pass. Notes that another
// pass of this Reconciler is currently processing are skipped.
func (r *Reconciler) Reconcile(ctx context.Context, notes []store.SessionNote) int {
	ctx, span := observe.StartSpan(ctx, "enrich.reconcile")
	defer span.End()

	var (
		mu      sync.Mutex
		updated int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i := range notes {
		n := notes[i]
		if n.Enriched() || !r.claim(n.ID) {
			continue
		}
		g.Go(func() error {
			defer r.release(n.ID)
			if r.enrichNote(ctx, &n) {
				mu.Lock()
				updated++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return updated
}

// Watch subscribes to the session's notes and runs a pass for every
// snapshot in its own goroutine. The returned CancelFunc stops the
// subscription, cancels passes still running and waits for them to return.
func (r *Reconciler) Watch(ctx context.Context, sessionID string) (store.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	log := observe.Logger(ctx).With("session_id", sessionID)

	var (
		mu     sync.Mutex
		closed bool
		wg     sync.WaitGroup
	)
	unsubscribe, err := r.notes.SubscribeNotes(ctx, store.Filter{SessionID: sessionID},
		func(notes []store.SessionNote) {
			snapshot := append([]store.SessionNote(nil), notes...)
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			wg.Go(func() {
				if n := r.Reconcile(ctx, snapshot); n > 0 {
					log.Debug("enrich: pass complete", "updated", n)
				}
			})
		},
		func(err error) {
			log.Warn("enrich: note feed failed", "err", err)
		},
	)
	if err != nil {
		cancel()
		return nil, types.Wrap(types.ErrTransport, "enrich: subscribe notes", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			cancel()
			wg.Wait()
		})
	}, nil
}

func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// enrichNote derives the missing fields of n and writes them. Fields derived
// before a failing step are still written. It reports whether a write
// happened.
func (r *Reconciler) enrichNote(ctx context.Context, n *store.SessionNote) bool {
	log := observe.Logger(ctx).With("note_id", n.ID, "session_id", n.SessionID)
	patch := store.NotePatch{UpdatedBy: r.actor}
	text := n.FullText
	failed := false

	if n.FullTextSource != store.ProvenanceModel && n.File != nil {
		step := StepExtract
		if n.File.Kind == store.FileAudio {
			step = StepTranscribe
		}
		derived, err := r.extract(ctx, n.File, step)
		r.record(ctx, step, err)
		if err != nil {
			log.Warn("enrich: step failed", "step", step, "err", types.Wrap(types.ErrEnrichmentStep, "enrich: "+step, err))
			failed = true
		} else {
			patch.FullTextSource = ptr(store.ProvenanceModel)
			if derived != "" {
				patch.FullText = &derived
				text = derived
			}
		}
	}

	if !failed && strings.TrimSpace(text) != "" && (n.Title == "" || n.Summary == "") {
		s, err := r.derive.Summarize(ctx, text)
		r.record(ctx, StepSummarize, err)
		if err != nil {
			log.Warn("enrich: step failed", "step", StepSummarize, "err", types.Wrap(types.ErrEnrichmentStep, "enrich: summarize", err))
		} else {
			patch.Title, patch.TitleSource = &s.Title, ptr(store.ProvenanceModel)
			patch.Summary, patch.SummarySource = &s.Summary, ptr(store.ProvenanceModel)
			if s.Emoji != "" {
				patch.Emoji = &s.Emoji
			}
		}
	}

	if patch.IsEmpty() {
		return false
	}
	err := r.notes.UpdateNote(ctx, n.ID, patch)
	r.record(ctx, StepWrite, err)
	if err != nil {
		log.Warn("enrich: step failed", "step", StepWrite, "err", types.Wrap(types.ErrEnrichmentStep, "enrich: write", err))
		return false
	}
	return true
}

// extract downloads f and turns it into text.
func (r *Reconciler) extract(ctx context.Context, f *store.SessionFile, step string) (string, error) {
	url := f.URL
	if url == "" {
		var err error
		url, err = r.blobs.ResolveURL(ctx, f.StoragePath)
		if err != nil {
			return "", types.Wrap(types.ErrTransport, "enrich: resolve url", err)
		}
	}
	data, contentType, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", types.Wrap(types.ErrTransport, "enrich: fetch", err)
	}
	mimeType := f.MIMEType
	if mimeType == "" {
		mimeType = contentType
	}
	if step == StepTranscribe {
		return r.derive.Transcribe(ctx, data, mimeType)
	}
	return r.derive.ExtractText(ctx, data, mimeType)
}

func (r *Reconciler) record(ctx context.Context, step string, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.RecordEnrichmentStep(ctx, step, status)
}

func ptr[T any](v T) *T { return &v }
