package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	tel, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test", Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordTurn(ctx, "ok")
	tel.Metrics.RecordProviderRequest(ctx, "gemini", "llm", "ok")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"convene_turns_total", `outcome="ok"`, "convene_provider_requests_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestResourceSchemaMatchesSDK(t *testing.T) {
	t.Parallel()

	if got := resource.Default().SchemaURL(); got != semconv.SchemaURL {
		t.Errorf("SDK default resource schema = %q, semconv schema = %q; merging them fails", got, semconv.SchemaURL)
	}
}

func TestTraceExporterFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	exp, err := TraceExporterFromEnv(ctx)
	if err != nil || exp != nil {
		t.Fatalf("without endpoint = %v, %v; want nil, nil", exp, err)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	exp, err = TraceExporterFromEnv(ctx)
	if err != nil || exp == nil {
		t.Fatalf("with endpoint = %v, %v; want exporter", exp, err)
	}
	_ = exp.Shutdown(ctx)
}
