package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test. Tests calling it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "facilitator.send_voice_message")
	id := TraceID(ctx)
	span.End()

	if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("TraceID = %q, want 32 hex chars", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "facilitator.send_voice_message" {
		t.Fatalf("spans = %v", spans.Snapshots())
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	FailSpan(ok, nil)
	ok.End()
	_, bad := StartSpan(context.Background(), "bad")
	FailSpan(bad, errors.New("model unavailable"))
	bad.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("nil error changed status to %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "model unavailable" {
		t.Errorf("status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t, slog.LevelInfo)

	Logger(context.Background()).Info("without span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id: %s", buf)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "with")
	defer span.End()
	Logger(ctx).Info("with span")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+TraceID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("missing trace attributes: %s", out)
	}
}
