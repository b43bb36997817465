// Package observe provides application-wide observability primitives for
// convene: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all convene metrics.
const meterName = "github.com/MrWong99/convene"

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeCommitted = "committed"
	OutcomeMalformed = "malformed"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks the wall time of one streamed facilitation
	// turn, from opening the exchange to the final aggregate.
	GenerationDuration metric.Float64Histogram

	// FirstChunkLatency tracks the time until the first streamed chunk.
	FirstChunkLatency metric.Float64Histogram

	// HistoryDuration tracks how long rebuilding a session history takes.
	HistoryDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks single-shot model calls (extraction, summaries).
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts facilitation turns. Use with attribute:
	//   attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// EnrichmentSteps counts note enrichment sub-steps. Use with attributes:
	//   attribute.String("step", ...), attribute.String("status", ...)
	EnrichmentSteps metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks streamed model exchanges currently in flight.
	ActiveStreams metric.Int64UpDownCounter

	// LiveViewers tracks connected live response feeds.
	LiveViewers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// round trips, which range from sub-second summaries to long streamed turns.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.GenerationDuration, "convene.generation.duration", "Latency of a streamed facilitation turn."},
		{&met.FirstChunkLatency, "convene.generation.first_chunk", "Time until the first streamed chunk of a turn."},
		{&met.HistoryDuration, "convene.history.duration", "Latency of rebuilding a session history."},
		{&met.STTDuration, "convene.stt.duration", "Latency of audio transcription."},
		{&met.LLMDuration, "convene.llm.duration", "Latency of single-shot model calls."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("convene.turns",
		metric.WithDescription("Total facilitation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentSteps, err = m.Int64Counter("convene.enrichment.steps",
		metric.WithDescription("Total note enrichment sub-steps by step and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("convene.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("convene.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("convene.active_streams",
		metric.WithDescription("Number of streamed model exchanges in flight."),
	); err != nil {
		return nil, err
	}
	if met.LiveViewers, err = m.Int64UpDownCounter("convene.live_viewers",
		metric.WithDescription("Number of connected live response feeds."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("convene.http.request.duration",
		metric.WithDescription("HTTP request latency by route pattern and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records the outcome of one facilitation turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEnrichmentStep records one enrichment sub-step.
func (m *Metrics) RecordEnrichmentStep(ctx context.Context, step, status string) {
	m.EnrichmentSteps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
