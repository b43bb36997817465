// Package app wires all convene subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithBlobs,
// WithMetrics). When an option is not provided, New creates the backends
// named in the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/convene/internal/api"
	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/config"
	"github.com/MrWong99/convene/internal/enrich"
	"github.com/MrWong99/convene/internal/facilitator"
	"github.com/MrWong99/convene/internal/generate"
	"github.com/MrWong99/convene/internal/health"
	"github.com/MrWong99/convene/internal/history"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/resilience"
	"github.com/MrWong99/convene/pkg/blob"
	"github.com/MrWong99/convene/pkg/blob/fsblob"
	"github.com/MrWong99/convene/pkg/blob/gcs"
	"github.com/MrWong99/convene/pkg/blob/memblob"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/stt"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/store/firestore"
	"github.com/MrWong99/convene/pkg/store/memstore"
	"github.com/MrWong99/convene/pkg/store/postgres"
	"github.com/MrWong99/convene/pkg/store/sqlite"
)

// Providers holds one interface value per model role. LLM is required; nil
// optional roles fall back as documented on [config.ProvidersConfig].
// Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	FastLLM    llm.Provider
	SummaryLLM llm.Provider
	STT        stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	blobs    blob.Store
	fetcher  blob.Fetcher
	metrics  *observe.Metrics
	breakers map[string]*resilience.CircuitBreaker
	service  *facilitator.Service
	handler  http.Handler
	extra    []route
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

type route struct {
	pattern string
	handler http.Handler
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a durable store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithBlobs injects a blob store and the fetcher that reads its URLs.
func WithBlobs(s blob.Store, f blob.Fetcher) Option {
	return func(a *App) { a.blobs, a.fetcher = s, f }
}

// WithMetrics sets the instruments used by every subsystem. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHandler mounts an extra handler on the server mux, e.g. /metrics.
func WithHandler(pattern string, h http.Handler) Option {
	return func(a *App) { a.extra = append(a.extra, route{pattern, h}) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: a main llm provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Durable store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Blob store ────────────────────────────────────────────────────
	if err := a.initBlobs(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init blobs: %w", err)
	}

	// ── 3. Facilitation service ──────────────────────────────────────────
	if err := a.initService(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init service: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Backend {
	case config.StorePostgres:
		st, err := postgres.New(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = st
	case config.StoreFirestore:
		st, err := firestore.New(ctx, sc.FirestoreProject, sc.FirestoreDatabase)
		if err != nil {
			return err
		}
		a.store = st
	case config.StoreSQLite:
		st, err := sqlite.New(ctx, sc.SQLitePath)
		if err != nil {
			return err
		}
		a.store = st
	default:
		a.store = memstore.New()
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("store ready", "backend", sc.Backend)
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	if a.blobs != nil {
		if a.fetcher == nil {
			return errors.New("blob store injected without fetcher")
		}
		return nil
	}
	bc := a.cfg.Blob
	var fetchOpts []blob.FetchOption
	if bc.FetchMaxBytes > 0 {
		fetchOpts = append(fetchOpts, blob.WithMaxBytes(bc.FetchMaxBytes))
	}

	switch bc.Backend {
	case config.BlobFS:
		fs, err := fsblob.New(bc.Dir, bc.BaseURL)
		if err != nil {
			return err
		}
		u, err := url.Parse(bc.BaseURL)
		if err != nil {
			return fmt.Errorf("parse blob.base_url: %w", err)
		}
		prefix := strings.TrimSuffix(u.Path, "/")
		a.extra = append(a.extra, route{"GET " + prefix + "/", http.StripPrefix(prefix, fs)})
		a.blobs, a.fetcher = fs, fs
	case config.BlobGCS:
		var opts []gcs.Option
		if bc.URLTTL > 0 {
			opts = append(opts, gcs.WithURLTTL(bc.URLTTL))
		}
		g, err := gcs.New(ctx, bc.Bucket, opts...)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, g.Close)
		a.blobs, a.fetcher = g, blob.NewHTTPFetcher(fetchOpts...)
	default:
		m := memblob.New()
		a.blobs, a.fetcher = m, m
	}
	slog.Info("blob store ready", "backend", bc.Backend)
	return nil
}

func (a *App) initService() error {
	gc := a.cfg.Generation
	model := a.guardLLM("llm", a.providers.LLM)

	fast := a.providers.FastLLM
	if fast != nil {
		fast = a.guardLLM("fast_llm", fast)
	}
	summary := a.providers.SummaryLLM
	switch {
	case summary != nil:
		summary = a.guardLLM("summary_llm", summary)
	case fast != nil:
		summary = fast
	default:
		summary = model
	}

	assistOpts := []assist.Option{assist.WithSummaryProvider(summary)}
	if a.providers.STT != nil {
		assistOpts = append(assistOpts, assist.WithTranscriber(a.guardSTT("stt", a.providers.STT)))
	}
	if gc.Language != "" {
		assistOpts = append(assistOpts, assist.WithLanguage(gc.Language))
	}
	assistant := assist.New(model, assistOpts...)

	genOpts := []generate.Option{
		generate.WithMetrics(a.metrics),
		generate.WithThoughts(!gc.DisableThinking),
	}
	if gc.Timeout > 0 {
		genOpts = append(genOpts, generate.WithTimeout(gc.Timeout))
	}
	if gc.Temperature != nil {
		genOpts = append(genOpts, generate.WithTemperature(*gc.Temperature))
	}

	deps := facilitator.Deps{
		Store:        a.store,
		Blobs:        a.blobs,
		Fetcher:      a.fetcher,
		Assistant:    assistant,
		Orchestrator: generate.New(model, genOpts...),
		History:      history.New(a.store, a.store, a.blobs, a.fetcher, history.WithMetrics(a.metrics)),
	}
	if fast != nil && !gc.DisablePreamble {
		deps.Preamble = generate.NewPreamble(fast)
	}
	if !a.cfg.Enrichment.Disabled {
		enrichOpts := []enrich.Option{enrich.WithMetrics(a.metrics)}
		if n := a.cfg.Enrichment.Concurrency; n > 0 {
			enrichOpts = append(enrichOpts, enrich.WithConcurrency(n))
		}
		deps.Enricher = enrich.New(a.store, a.blobs, a.fetcher, assistant, enrichOpts...)
	}

	var svcOpts []facilitator.Option
	if ci := gc.ContentInstructions; ci != "" {
		svcOpts = append(svcOpts, facilitator.WithContentInstructions(ci))
	}
	svc, err := facilitator.New(deps, svcOpts...)
	if err != nil {
		return err
	}
	a.service = svc
	// Stop enrichment watches before the store closes.
	a.closers = append([]func() error{svc.Close}, a.closers...)
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()

	api.New(a.service,
		api.WithMetrics(a.metrics),
		api.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		api.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
	).Register(mux)

	checkers := []health.Checker{health.PingChecker("store", a.store)}
	if p, ok := a.blobs.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("blob", p))
	}
	if cb, ok := a.breakers["llm"]; ok {
		checkers = append(checkers, health.BreakerChecker("llm", cb))
	}
	health.New(checkers...).Register(mux)

	for _, r := range a.extra {
		mux.Handle(r.pattern, r.handler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the facilitation service.
func (a *App) Service() *facilitator.Service { return a.service }

// ApplyConfig hot-applies the reloadable parts of a config change and logs
// the sections that need a restart. The log level is owned by the caller.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.ContentInstructionsChanged {
		ci := d.NewContentInstructions
		if ci == "" {
			ci = assist.DefaultContentInstructions
		}
		a.service.SetContentInstructions(ci)
		slog.Info("content instructions reloaded")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart to apply", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. On cancellation it returns ctx.Err();
// call Shutdown afterwards to drain requests and close subsystems.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, waits for in-flight requests up to the
// ctx deadline, then runs the closers in order. Live response feeds are
// hijacked connections that the server does not wait for.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}
		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
