// Package llm defines the Provider interface for generative model backends.
//
// A provider wraps a remote model API (Gemini, OpenAI, or any backend reachable
// through any-llm-go) and exposes a uniform streaming interface that accepts
// multimodal history and an optional JSON response schema.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/convene/pkg/types"
)

// FinishReasonError marks a chunk that reports a mid-stream failure. The
// chunk's Text carries the error message.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// History is the prior conversation, oldest first, with same-role turns
	// already merged.
	History []types.Content

	// Parts is the current user turn. It is appended to History as a user
	// turn, merging into the last turn when that is also a user turn.
	Parts []types.Part

	// SystemPrompt is an optional high-priority instruction.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps generated tokens. Zero uses the provider default.
	MaxTokens int

	// ResponseMIMEType requests a specific output encoding, typically
	// "application/json". Empty means free text.
	ResponseMIMEType string

	// ResponseSchema is a JSON Schema (as decoded JSON) the output must
	// conform to. Only honoured together with ResponseMIMEType
	// "application/json".
	ResponseSchema map[string]any

	// IncludeThoughts asks the model to stream its reasoning summary as
	// Chunk.Thought. Ignored by providers without thought support.
	IncludeThoughts bool
}

// Contents returns History with Parts appended as a user turn.
func (r CompletionRequest) Contents() []types.Content {
	out := make([]types.Content, 0, len(r.History)+1)
	for _, c := range r.History {
		out = types.AppendTurn(out, c.Role, c.Parts...)
	}
	if len(r.Parts) > 0 {
		out = types.AppendTurn(out, types.RoleUser, r.Parts...)
	}
	return out
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental answer text.
	Text string

	// Thought is incremental reasoning text, when requested and supported.
	Thought string

	// FinishReason is set on the last chunk. "stop" (natural end), "length"
	// (MaxTokens reached), [FinishReasonError] (transport failure) or any
	// provider-specific value; "" on non-final chunks.
	FinishReason string

	// Final, when non-nil on the last chunk, is the provider's own aggregate
	// of the whole exchange. Consumers should prefer it over their own
	// accumulation.
	Final *CompletionResponse
}

// Err returns the error reported by an error chunk, or nil.
func (c Chunk) Err() error {
	if c.FinishReason != FinishReasonError {
		return nil
	}
	if c.Text == "" {
		return errors.New("llm: stream failed")
	}
	return errors.New(c.Text)
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full answer text.
	Content string

	// Thought is the full reasoning text, if any.
	Thought string

	// FinishReason is the provider's reason for stopping.
	FinishReason string

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any model backend.
//
// Each method should propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or ctx is cancelled.
	//
	// Callers must drain the channel or cancel ctx. Errors after the channel
	// is opened are surfaced as a Chunk with FinishReason [FinishReasonError];
	// the error return is non-nil only for failures that prevent the stream
	// from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// Collect drains ch and returns the aggregate response. A provider-reported
// Final takes precedence over the accumulated text.
func Collect(ctx context.Context, ch <-chan Chunk) (*CompletionResponse, error) {
	var text, thought strings.Builder
	var final *CompletionResponse
	var reason string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				if final != nil {
					return final, nil
				}
				return &CompletionResponse{Content: text.String(), Thought: thought.String(), FinishReason: reason}, nil
			}
			if err := c.Err(); err != nil {
				return nil, err
			}
			text.WriteString(c.Text)
			thought.WriteString(c.Thought)
			if c.FinishReason != "" {
				reason = c.FinishReason
			}
			if c.Final != nil {
				final = c.Final
			}
		}
	}
}
