package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/llm/mock"
	"github.com/MrWong99/convene/pkg/types"
)

// splitChunks cuts s into n roughly equal text chunks.
func splitChunks(s string, n int) []llm.Chunk {
	var out []llm.Chunk
	step := (len(s) + n - 1) / n
	for i := 0; i < len(s); i += step {
		end := min(i+step, len(s))
		out = append(out, llm.Chunk{Text: s[i:end]})
	}
	out[len(out)-1].FinishReason = "stop"
	return out
}

type recorder struct {
	partials []response.Partial
}

func (r *recorder) publish(p response.Partial) { r.partials = append(r.partials, p) }

func TestRun_PublishesGrowingPartials(t *testing.T) {
	t.Parallel()

	model := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"sections":[{"emoji":"👍","title":"Een","description":"eerste"}`},
		{Text: `,{"emoji":"👎","title":"Twee","description":"tweede"}`},
		{Text: `,{"emoji":"🤔","title":"Drie","description":"derde"},{"emoji":"🎉","title":"Vier","description":"vierde"}]}`, FinishReason: "stop"},
	}}
	rec := &recorder{}
	final, err := New(model).Run(context.Background(), Turn{Parts: []types.Part{types.TextPart("hi")}}, rec.publish)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(final.Sections) != 4 || final.Sections[3].Title != "Vier" {
		t.Errorf("final = %+v", final)
	}

	want := []int{1, 2, 4}
	if len(rec.partials) != len(want) {
		t.Fatalf("published %d partials, want %d", len(rec.partials), len(want))
	}
	for i, n := range want {
		if got := len(rec.partials[i].Sections); got != n {
			t.Errorf("partial %d has %d sections, want %d", i, got, n)
		}
	}
}

func TestRun_Request(t *testing.T) {
	t.Parallel()

	history := []types.Content{{Role: types.RoleUser, Parts: []types.Part{types.TextPart("eerder")}}}
	parts := []types.Part{types.TextPart("nu")}

	t.Run("thoughts when supported", func(t *testing.T) {
		t.Parallel()
		model := &mock.Provider{
			StreamChunks:      splitChunks(full, 3),
			ModelCapabilities: llm.ModelCapabilities{SupportsThoughts: true},
		}
		if _, err := New(model, WithTemperature(0.7)).Run(context.Background(), Turn{History: history, Parts: parts}, nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		req := model.StreamCalls[0].Req
		if req.ResponseMIMEType != "application/json" || req.ResponseSchema == nil {
			t.Errorf("structured output not requested: %+v", req)
		}
		if !req.IncludeThoughts || req.Temperature != 0.7 {
			t.Errorf("IncludeThoughts = %v, Temperature = %v", req.IncludeThoughts, req.Temperature)
		}
		if len(req.History) != 1 || len(req.Parts) != 1 {
			t.Errorf("history/parts not forwarded: %+v", req)
		}
	})

	t.Run("no thoughts when unsupported", func(t *testing.T) {
		t.Parallel()
		model := &mock.Provider{StreamChunks: splitChunks(full, 2)}
		if _, err := New(model).Run(context.Background(), Turn{Parts: parts}, nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if model.StreamCalls[0].Req.IncludeThoughts {
			t.Error("thoughts requested from a model without support")
		}
	})

	t.Run("no thoughts when disabled", func(t *testing.T) {
		t.Parallel()
		model := &mock.Provider{
			StreamChunks:      splitChunks(full, 2),
			ModelCapabilities: llm.ModelCapabilities{SupportsThoughts: true},
		}
		if _, err := New(model, WithThoughts(false)).Run(context.Background(), Turn{Parts: parts}, nil); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if model.StreamCalls[0].Req.IncludeThoughts {
			t.Error("thoughts requested despite WithThoughts(false)")
		}
	})
}

func TestRun_ThinkingBeforeAnswer(t *testing.T) {
	t.Parallel()

	model := &mock.Provider{StreamChunks: []llm.Chunk{
		{Thought: "**Luisteren**\n"},
		{Thought: "De groep aarzelt."},
		{Text: full, FinishReason: "stop"},
	}}
	rec := &recorder{}
	final, err := New(model).Run(context.Background(), Turn{}, rec.publish)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.partials) != 3 {
		t.Fatalf("published %d partials, want 3", len(rec.partials))
	}
	if rec.partials[0].Thinking != "**Luisteren**\n" || rec.partials[0].Sections != nil {
		t.Errorf("first partial = %+v, want thinking only", rec.partials[0])
	}
	if rec.partials[1].Thinking != "**Luisteren**\nDe groep aarzelt." {
		t.Errorf("thinking not accumulated: %q", rec.partials[1].Thinking)
	}
	if len(rec.partials[2].Sections) != 4 {
		t.Errorf("last partial = %+v", rec.partials[2])
	}
	if final.Thinking != "**Luisteren**\nDe groep aarzelt." {
		t.Errorf("final thinking = %q", final.Thinking)
	}
}

func TestRun_FinalAggregateWins(t *testing.T) {
	t.Parallel()

	model := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: `{"sections":[{"emoji":"x","title":"tijdelijk","description":"d"}`},
		{FinishReason: "stop", Final: &llm.CompletionResponse{Content: "```json\n" + full + "\n```", Thought: "definitief"}},
	}}
	final, err := New(model).Run(context.Background(), Turn{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(final.Sections) != 4 || final.Thinking != "definitief" {
		t.Errorf("final = %+v, want the provider aggregate", final)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		model    *mock.Provider
		wantKind error
	}{
		{
			name:     "open failure",
			model:    &mock.Provider{StreamErr: errors.New("dial")},
			wantKind: types.ErrTransport,
		},
		{
			name: "mid-stream failure",
			model: &mock.Provider{StreamChunks: []llm.Chunk{
				{Text: `{"sections":[`},
				{Text: "connection reset", FinishReason: llm.FinishReasonError},
			}},
			wantKind: types.ErrTransport,
		},
		{
			name:     "malformed",
			model:    &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hier zijn vier vragen.", FinishReason: "stop"}}},
			wantKind: types.ErrMalformedOutput,
		},
		{
			name:     "truncated json",
			model:    &mock.Provider{StreamChunks: splitChunks(full[:len(full)-10], 3)},
			wantKind: types.ErrMalformedOutput,
		},
		{
			name:     "thoughts only",
			model:    &mock.Provider{StreamChunks: []llm.Chunk{{Thought: "hmm", FinishReason: "stop"}}},
			wantKind: types.ErrMalformedOutput,
		},
		{
			name:     "no chunks",
			model:    &mock.Provider{},
			wantKind: types.ErrEmptyOutput,
		},
		{
			name:     "blank chunks",
			model:    &mock.Provider{StreamChunks: []llm.Chunk{{Text: "  "}, {Text: "\n", FinishReason: "stop"}}},
			wantKind: types.ErrEmptyOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			final, err := New(tt.model).Run(context.Background(), Turn{}, nil)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
			if final != nil {
				t.Errorf("final = %+v, want nil on error", final)
			}
			if tt.model.StreamErr == nil && tt.model.StreamCallCount() != 1 {
				t.Errorf("stream calls = %d, want exactly 1 (no retry)", tt.model.StreamCallCount())
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	model := &mock.Provider{StreamChunks: splitChunks(full, 2), Gate: make(chan struct{})}
	_, err := New(model, WithTimeout(20*time.Millisecond)).Run(context.Background(), Turn{}, nil)
	if !errors.Is(err, types.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want transport deadline error", err)
	}
}

func TestRun_TripsLatchOnFirstChunk(t *testing.T) {
	t.Parallel()

	latch := &Latch{}
	model := &mock.Provider{StreamChunks: splitChunks(full, 4)}
	trippedAtFirstPublish := false
	first := true
	_, err := New(model).Run(context.Background(), Turn{Latch: latch}, func(response.Partial) {
		if first {
			first = false
			trippedAtFirstPublish = latch.Tripped()
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !trippedAtFirstPublish {
		t.Error("latch was not tripped before the first publish")
	}
}

func TestRun_LatchTrippedOnFailure(t *testing.T) {
	t.Parallel()

	latch := &Latch{}
	_, _ = New(&mock.Provider{}).Run(context.Background(), Turn{Latch: latch}, nil)
	if !latch.Tripped() {
		t.Error("latch left open after an empty stream")
	}
}
