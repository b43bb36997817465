package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/stt"
)

// GuardedLLM wraps an [llm.Provider] with a [CircuitBreaker]. A stream counts
// as failed when it cannot be opened or when it ends with an error chunk.
type GuardedLLM struct {
	inner   llm.Provider
	breaker *CircuitBreaker
}

var _ llm.Provider = (*GuardedLLM)(nil)

// NewGuardedLLM returns p guarded by cb.
func NewGuardedLLM(p llm.Provider, cb *CircuitBreaker) *GuardedLLM {
	return &GuardedLLM{inner: p, breaker: cb}
}

// StreamCompletion implements llm.Provider.
func (g *GuardedLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	done, err := g.breaker.Allow()
	if err != nil {
		return nil, err
	}
	src, err := g.inner.StreamCompletion(ctx, req)
	if err != nil {
		done(err)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var streamErr error
		defer func() { done(streamErr) }()
		for c := range src {
			if err := c.Err(); err != nil {
				streamErr = err
			}
			select {
			case out <- c:
			case <-ctx.Done():
				streamErr = ctx.Err()
				// Drain so the inner provider's goroutine can exit.
				for range src {
				}
				return
			}
		}
	}()
	return out, nil
}

// Complete implements llm.Provider.
func (g *GuardedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

// Capabilities implements llm.Provider.
func (g *GuardedLLM) Capabilities() llm.ModelCapabilities {
	return g.inner.Capabilities()
}

// GuardedSTT wraps an [stt.Provider] with a [CircuitBreaker].
type GuardedSTT struct {
	inner   stt.Provider
	breaker *CircuitBreaker
}

var _ stt.Provider = (*GuardedSTT)(nil)

// NewGuardedSTT returns p guarded by cb.
func NewGuardedSTT(p stt.Provider, cb *CircuitBreaker) *GuardedSTT {
	return &GuardedSTT{inner: p, breaker: cb}
}

// Transcribe implements stt.Provider.
func (g *GuardedSTT) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	var tr *stt.Transcript
	err := g.breaker.Execute(func() error {
		var err error
		tr, err = g.inner.Transcribe(ctx, req)
		return err
	})
	return tr, err
}

// IsOpen reports whether err was produced by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
