package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/convene/internal/app"
	"github.com/MrWong99/convene/internal/config"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/resilience"
	"github.com/MrWong99/convene/pkg/blob/memblob"
	llmmock "github.com/MrWong99/convene/pkg/provider/llm/mock"
	"github.com/MrWong99/convene/pkg/store/memstore"
	"github.com/MrWong99/convene/pkg/types"
)

// testConfig returns a minimal in-memory config.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "mock"}},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newApp(t *testing.T, cfg *config.Config, p *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_RequiresLLM(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without llm provider")
	}
}

func TestNew_InjectedBlobsNeedFetcher(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{LLM: &llmmock.Provider{}},
		app.WithBlobs(memblob.New(), nil))
	if err == nil {
		t.Fatal("expected error for blob store without fetcher")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	st := memstore.New()
	t.Cleanup(func() { _ = st.Close() })
	blobs := memblob.New()
	a := newApp(t, testConfig(), &app.Providers{LLM: &llmmock.Provider{}},
		app.WithStore(st),
		app.WithBlobs(blobs, blobs),
		app.WithHandler("GET /extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})),
	)

	if a.Service() == nil {
		t.Fatal("Service() = nil")
	}
	for path, want := range map[string]int{
		"/healthz":        http.StatusOK,
		"/readyz":         http.StatusOK,
		"/extra":          http.StatusTeapot,
		"/v1/sessions/no": http.StatusNotFound,
	} {
		if rec := get(t, a.Handler(), path); rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestNew_FSBlobsServed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Blob = config.BlobConfig{Backend: config.BlobFS, Dir: dir, BaseURL: "http://localhost:8080/files"}
	a := newApp(t, cfg, &app.Providers{LLM: &llmmock.Provider{}})

	if err := os.MkdirAll(filepath.Join(dir, "s1"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "s1", "memo.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := get(t, a.Handler(), "/files/s1/memo.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestBreakerOpensAndFailsReadiness(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Breaker = config.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}
	model := &llmmock.Provider{CompleteErr: errors.New("upstream 503")}
	metrics, reader := testMetrics(t)
	a := newApp(t, cfg, &app.Providers{LLM: model}, app.WithMetrics(metrics))

	ctx := context.Background()
	for range 2 {
		_, err := a.Service().ExtractText(ctx, []byte("doc"), "text/plain")
		if !errors.Is(err, types.ErrTransport) {
			t.Fatalf("ExtractText err = %v, want transport error", err)
		}
	}
	_, err := a.Service().ExtractText(ctx, []byte("doc"), "text/plain")
	if !resilience.IsOpen(err) {
		t.Fatalf("third call err = %v, want open circuit", err)
	}
	if n := model.CompleteCallCount(); n != 2 {
		t.Errorf("model called %d times, want 2", n)
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var errorsSeen int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "convene.provider.errors" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				errorsSeen += dp.Value
			}
		}
	}
	if errorsSeen != 2 {
		t.Errorf("provider errors = %d, want 2", errorsSeen)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), &app.Providers{LLM: &llmmock.Provider{}})
	a.ApplyConfig(config.ConfigDiff{
		ContentInstructionsChanged: true,
		NewContentInstructions:     "Be brief.",
		RestartRequired:            []string{"store"},
	})
	// Clearing falls back to the default instructions.
	a.ApplyConfig(config.ConfigDiff{ContentInstructionsChanged: true})
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), &app.Providers{LLM: &llmmock.Provider{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
