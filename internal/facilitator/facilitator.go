// Package facilitator is the operation boundary of convene. A [Service]
// combines the history builder, the generation orchestrator, the response
// reconciler and the note helpers into the operations exposed to clients:
// sending a voice message to a slide, managing sessions and notes, and the
// stand-alone transcription, extraction and summary helpers.
//
// Every error returned by a Service carries one of the kinds in
// [types] so callers can map it to a user-facing message.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/enrich"
	"github.com/MrWong99/convene/internal/generate"
	"github.com/MrWong99/convene/internal/history"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/blob"
	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// ErrInvalid marks requests rejected before any collaborator is called.
var ErrInvalid = errors.New("invalid request")

// Palette holds the colours assigned at random to new slides.
var Palette = []string{"red", "orange", "amber", "lime", "emerald", "teal", "sky", "indigo", "violet", "pink"}

// DefaultSlideTitle is the title of the slide every new session starts with.
const DefaultSlideTitle = "Slide 1"

// Deps are the collaborators of a [Service]. Store, Blobs, Fetcher, Assistant
// and Orchestrator are required; the rest default as documented.
type Deps struct {
	Store        store.Store
	Blobs        blob.Store
	Fetcher      blob.Fetcher
	Assistant    *assist.Assistant
	Orchestrator *generate.Orchestrator

	// History defaults to a builder over Store, Blobs and Fetcher.
	History *history.Builder

	// Responses defaults to a reconciler committing to Store.
	Responses *response.Reconciler

	// Preamble, when set, streams early feedback for messages that carry a
	// transcript hint.
	Preamble *generate.Preamble

	// Enricher, when set, is started for every session passed to
	// [Service.WatchSession].
	Enricher *enrich.Reconciler
}

// Option configures a [Service].
type Option func(*Service)

// WithContentInstructions sets the instructions used on slides that have no
// agent instructions of their own. Empty omits the instructions part.
// Default: [assist.DefaultContentInstructions].
func WithContentInstructions(s string) Option {
	return func(svc *Service) { svc.contentInstructions.Store(&s) }
}

// WithClock overrides the time source used for audit fields.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// WithRand overrides the random source used to pick slide colours.
func WithRand(r *rand.Rand) Option {
	return func(svc *Service) { svc.rand = r }
}

// Service implements the facilitation operations. It is safe for concurrent
// use.
type Service struct {
	store     store.Store
	blobs     blob.Store
	assistant *assist.Assistant
	orch      *generate.Orchestrator
	history   *history.Builder
	responses *response.Reconciler
	preamble  *generate.Preamble
	enricher  *enrich.Reconciler

	contentInstructions atomic.Pointer[string]
	now                 func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	watchMu  sync.Mutex
	watching map[string]store.CancelFunc
}

// New returns a [Service] over deps.
func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("facilitator: store is required")
	case deps.Blobs == nil || deps.Fetcher == nil:
		return nil, fmt.Errorf("facilitator: blob store and fetcher are required")
	case deps.Assistant == nil || deps.Orchestrator == nil:
		return nil, fmt.Errorf("facilitator: assistant and orchestrator are required")
	}
	s := &Service{
		store:     deps.Store,
		blobs:     deps.Blobs,
		assistant: deps.Assistant,
		orch:      deps.Orchestrator,
		history:   deps.History,
		responses: deps.Responses,
		preamble:  deps.Preamble,
		enricher:  deps.Enricher,
		now:       time.Now,
		watching:  make(map[string]store.CancelFunc),
	}
	if s.history == nil {
		s.history = history.New(deps.Store, deps.Store, deps.Blobs, deps.Fetcher)
	}
	if s.responses == nil {
		s.responses = response.New(deps.Store)
	}
	s.SetContentInstructions(assist.DefaultContentInstructions)
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(uint64(s.now().UnixNano()), 0))
	}
	return s, nil
}

// SetContentInstructions replaces the instructions used on slides without
// agent instructions. Turns already running keep the previous value.
func (s *Service) SetContentInstructions(text string) {
	s.contentInstructions.Store(&text)
}

// Responses returns the reconciler holding the live response state.
func (s *Service) Responses() *response.Reconciler { return s.responses }

// ── Facilitation turn ────────────────────────────────────────────────────────

// VoiceMessage is one participant contribution to a slide.
type VoiceMessage struct {
	SessionID string
	SlideID   string
	UserID    string

	Audio    []byte
	MIMEType string

	// TranscriptHint is the live transcript recorded on the device, if any.
	// It drives the preamble; the model always listens to Audio itself.
	TranscriptHint string
}

// SendVoiceMessage runs one facilitation turn for msg and returns the
// committed response.
//
// An empty temporary response is published before anything else. While the
// model streams, the temporary response shows the sections parsed so far.
// On success it is replaced by exactly one durable response; on failure it
// is cleared and the error returned.
func (s *Service) SendVoiceMessage(ctx context.Context, msg VoiceMessage) (resp *store.Response, err error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.send_voice_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", msg.SessionID),
		attribute.String("slide.id", msg.SlideID),
		attribute.Int("audio.bytes", len(msg.Audio)),
	)
	log := observe.Logger(ctx).With("session_id", msg.SessionID, "slide_id", msg.SlideID)

	key := response.Key{SessionID: msg.SessionID, SlideID: msg.SlideID}
	s.responses.SetTemporary(key, response.Partial{})
	defer func() {
		if err != nil {
			s.responses.ClearTemporary(key)
			observe.FailSpan(span, err)
			log.Warn("facilitator: turn failed", "err", err)
		}
	}()

	audio, err := media.BytesToInlinePart(msg.Audio, msg.MIMEType)
	if err != nil {
		return nil, err
	}

	session, err := s.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "facilitator: get session", err)
	}
	slide, ok := session.Slide(msg.SlideID)
	if !ok {
		log.Warn("facilitator: slide not in session, using default instructions")
	}

	latch := &generate.Latch{}
	stopPreamble := s.startPreamble(ctx, key, msg.TranscriptHint, latch)
	defer stopPreamble()

	hist, err := s.history.Build(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}

	final, err := s.orch.Run(ctx, generate.Turn{
		History: hist,
		Parts:   assist.TurnParts(slide.AgentInstructions, *s.contentInstructions.Load(), audio),
		Latch:   latch,
	}, func(p response.Partial) {
		s.responses.SetTemporary(key, p)
	})
	if err != nil {
		return nil, err
	}

	stopPreamble()
	resp, err = s.responses.Commit(ctx, key, msg.UserID, *final)
	if err != nil {
		return nil, err
	}
	log.Info("facilitator: turn committed", "response_id", resp.ID, "sections", len(resp.Sections))
	return resp, nil
}

// startPreamble runs the preamble in the background when one is configured
// and hint is non-empty. The returned function stops it and waits for it to
// return; it is safe to call more than once.
func (s *Service) startPreamble(ctx context.Context, key response.Key, hint string, latch *generate.Latch) func() {
	if s.preamble == nil || strings.TrimSpace(hint) == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.preamble.Run(ctx, hint, latch, func(text string) {
			s.responses.SetTemporary(key, response.Partial{Thinking: text})
		})
	}()
	return func() {
		cancel()
		<-done
	}
}

// SetTemporaryResponse replaces the temporary response of a slide.
func (s *Service) SetTemporaryResponse(sessionID, slideID string, p response.Partial) {
	s.responses.SetTemporary(response.Key{SessionID: sessionID, SlideID: slideID}, p)
}

// ViewResponses returns the slide's current response view.
func (s *Service) ViewResponses(ctx context.Context, sessionID, slideID string) (response.View, error) {
	return s.responses.View(ctx, response.Key{SessionID: sessionID, SlideID: slideID})
}

// SubscribeToResponses delivers the slide's response view on every change:
// durable responses oldest first, then the temporary response if any.
func (s *Service) SubscribeToResponses(ctx context.Context, sessionID, slideID string, onChange func(response.View), onError func(error)) (store.CancelFunc, error) {
	return s.responses.Subscribe(ctx, response.Key{SessionID: sessionID, SlideID: slideID}, onChange, onError)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// TranscribeAudio returns the transcript of an audio payload.
func (s *Service) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.transcribe_audio")
	defer span.End()
	return s.assistant.Transcribe(ctx, audio, mimeType)
}

// ExtractText returns the text of a document or image.
func (s *Service) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.extract_text")
	defer span.End()
	return s.assistant.ExtractText(ctx, data, mimeType)
}

// GenerateSummary derives a title, summary and emoji from text.
func (s *Service) GenerateSummary(ctx context.Context, text string) (*assist.Summary, error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.generate_summary")
	defer span.End()
	return s.assistant.Summarize(ctx, text)
}
