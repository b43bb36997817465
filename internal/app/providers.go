package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/resilience"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/stt"
)

// guardLLM wraps p with request metrics and a circuit breaker keyed by role.
func (a *App) guardLLM(role string, p llm.Provider) llm.Provider {
	return resilience.NewGuardedLLM(&meteredLLM{inner: p, role: role, metrics: a.metrics}, a.breaker(role))
}

// guardSTT wraps p with request metrics and a circuit breaker keyed by role.
func (a *App) guardSTT(role string, p stt.Provider) stt.Provider {
	return resilience.NewGuardedSTT(&meteredSTT{inner: p, role: role, metrics: a.metrics}, a.breaker(role))
}

func (a *App) breaker(role string) *resilience.CircuitBreaker {
	bc := a.cfg.Breaker
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         role,
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		HalfOpenMax:  bc.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider circuit changed", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	a.breakers[role] = cb
	return cb
}

// ── Metered wrappers ─────────────────────────────────────────────────────────

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type meteredLLM struct {
	inner   llm.Provider
	role    string
	metrics *observe.Metrics
}

var _ llm.Provider = (*meteredLLM)(nil)

func (m *meteredLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	src, err := m.inner.StreamCompletion(ctx, req)
	if err != nil {
		m.record(ctx, "stream", err)
		return nil, err
	}
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var streamErr error
		defer func() { m.record(context.WithoutCancel(ctx), "stream", streamErr) }()
		for c := range src {
			if err := c.Err(); err != nil {
				streamErr = err
			}
			select {
			case out <- c:
			case <-ctx.Done():
				streamErr = ctx.Err()
				for range src {
				}
				return
			}
		}
	}()
	return out, nil
}

func (m *meteredLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.inner.Complete(ctx, req)
	m.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", m.role), attribute.String("status", status(err))))
	m.record(ctx, "complete", err)
	return resp, err
}

func (m *meteredLLM) Capabilities() llm.ModelCapabilities { return m.inner.Capabilities() }

func (m *meteredLLM) record(ctx context.Context, kind string, err error) {
	m.metrics.RecordProviderRequest(ctx, m.role, kind, status(err))
	if err != nil {
		m.metrics.RecordProviderError(ctx, m.role, kind)
	}
}

type meteredSTT struct {
	inner   stt.Provider
	role    string
	metrics *observe.Metrics
}

var _ stt.Provider = (*meteredSTT)(nil)

func (m *meteredSTT) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	start := time.Now()
	tr, err := m.inner.Transcribe(ctx, req)
	m.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status(err))))
	m.metrics.RecordProviderRequest(ctx, m.role, "transcribe", status(err))
	if err != nil {
		m.metrics.RecordProviderError(ctx, m.role, "transcribe")
	}
	return tr, err
}
