// Package generate drives the streamed facilitation turn.
//
// The [Orchestrator] opens one streaming exchange with the main model, seeded
// with the session history and constrained to the four-section JSON shape.
// While chunks arrive it re-parses the accumulated text on every chunk and
// publishes each valid partial result (or fresh thinking text when nothing
// parses yet) as the slide's temporary response. When the stream ends it
// parses the final aggregate and returns it for commit. Nothing is retried.
//
// The [Preamble] runs a short, independent "thinking out loud" exchange on a
// fast model for early feedback. A shared [Latch] silences it as soon as the
// main turn produces its first chunk.
package generate

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

// Publisher receives live previews of a turn. It must not block for long.
type Publisher func(response.Partial)

// Turn is the input of one generation.
type Turn struct {
	// History is the prior conversation, oldest first.
	History []types.Content

	// Parts is the current participant turn: instructions and media.
	Parts []types.Part

	// Latch, when set, is tripped on the first chunk of the main exchange.
	Latch *Latch
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTimeout bounds each exchange. Zero leaves the bound to the transport.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithTemperature sets the sampling temperature. Zero uses the model default.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithThoughts requests streamed thought summaries from models that support
// them. Default: true.
func WithThoughts(enabled bool) Option {
	return func(o *Orchestrator) { o.thoughts = enabled }
}

// WithMetrics records turn metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs facilitation turns against one model. It holds no
// per-turn state and is safe for concurrent use.
type Orchestrator struct {
	model       llm.Provider
	timeout     time.Duration
	temperature float64
	thoughts    bool
	metrics     *observe.Metrics
}

// New returns an [Orchestrator] for model.
func New(model llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{model: model, thoughts: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one streamed turn and returns its parsed outcome.
//
// Errors wrap one of [types.ErrTransport] (open or mid-stream failure,
// timeout), [types.ErrMalformedOutput] (final text does not parse) or
// [types.ErrEmptyOutput] (neither text nor thoughts arrived).
func (o *Orchestrator) Run(ctx context.Context, turn Turn, publish Publisher) (final *response.Final, err error) {
	ctx, span := observe.StartSpan(ctx, "generate.run")
	defer span.End()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if publish == nil {
		publish = func(response.Partial) {}
	}

	start := time.Now()
	defer func() {
		o.record(ctx, start, err)
		observe.FailSpan(span, err)
	}()

	req := llm.CompletionRequest{
		History:          turn.History,
		Parts:            turn.Parts,
		Temperature:      o.temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   assist.SectionsSchema(),
		IncludeThoughts:  o.thoughts && o.model.Capabilities().SupportsThoughts,
	}
	span.SetAttributes(
		attribute.Int("generate.history_turns", len(turn.History)),
		attribute.Bool("generate.thoughts", req.IncludeThoughts),
	)

	ch, err := o.model.StreamCompletion(ctx, req)
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "generate: open stream", err)
	}
	if o.metrics != nil {
		o.metrics.ActiveStreams.Add(ctx, 1)
		defer o.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}

	var (
		text, thought strings.Builder
		agg           *llm.CompletionResponse
		streamErr     error
		first         = true
		parsedOnce    bool
	)
	for c := range ch {
		if first {
			first = false
			if turn.Latch != nil {
				turn.Latch.Trip()
			}
			if o.metrics != nil {
				o.metrics.FirstChunkLatency.Record(ctx, time.Since(start).Seconds())
			}
		}
		if cerr := c.Err(); cerr != nil {
			streamErr = cerr
			continue
		}
		text.WriteString(c.Text)
		thought.WriteString(c.Thought)
		if c.Final != nil {
			agg = c.Final
		}

		if sections, ok := ExtractPartial(text.String()); ok {
			parsedOnce = true
			publish(response.Partial{Sections: sections, Thinking: thought.String()})
		} else if c.Thought != "" && !parsedOnce {
			publish(response.Partial{Thinking: thought.String()})
		}
	}
	if turn.Latch != nil {
		turn.Latch.Trip()
	}

	if streamErr != nil {
		return nil, types.Wrap(types.ErrTransport, "generate: stream", streamErr)
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, types.Wrap(types.ErrTransport, "generate: stream", cerr)
	}

	finalText, finalThought := text.String(), thought.String()
	if agg != nil {
		finalText, finalThought = agg.Content, agg.Thought
	}
	span.SetAttributes(attribute.Int("generate.output_chars", len(finalText)))

	if strings.TrimSpace(finalText) == "" && strings.TrimSpace(finalThought) == "" {
		return nil, types.Errorf(types.ErrEmptyOutput, "generate: run", "model returned neither text nor thoughts")
	}
	sections, ok := ExtractSections(finalText)
	if !ok {
		return nil, types.Errorf(types.ErrMalformedOutput, "generate: run", "final output does not parse: %q", truncate(finalText, 200))
	}
	if len(sections) != assist.SectionCount {
		observe.Logger(ctx).Warn("generate: unexpected section count", "got", len(sections), "want", assist.SectionCount)
	}
	return &response.Final{Sections: sections, Thinking: finalThought}, nil
}

func (o *Orchestrator) record(ctx context.Context, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	outcome := observe.OutcomeCommitted
	switch types.KindOf(err) {
	case nil:
	case types.ErrMalformedOutput:
		outcome = observe.OutcomeMalformed
	case types.ErrEmptyOutput:
		outcome = observe.OutcomeEmpty
	default:
		outcome = observe.OutcomeFailed
	}
	o.metrics.RecordTurn(ctx, outcome)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
