// Command convene is the main entry point for the Convene facilitation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/convene/internal/app"
	"github.com/MrWong99/convene/internal/config"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/llm/anyllm"
	"github.com/MrWong99/convene/pkg/provider/llm/gemini"
	"github.com/MrWong99/convene/pkg/provider/llm/openai"
	"github.com/MrWong99/convene/pkg/provider/stt"
	"github.com/MrWong99/convene/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	reloadEvery := flag.Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes")
	envFile := flag.String("env-file", ".env", "optional dotenv file with provider credentials (GEMINI_API_KEY, OPENAI_API_KEY, ...)")
	flag.Parse()

	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "convene: load env file %q: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher keeps only the newest undelivered config.
	reloads := make(chan *config.Config, 1)
	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
		select {
		case <-reloads:
		default:
		}
		reloads <- next
	}, config.WithInterval(*reloadEvery))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "convene: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "convene: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("convene starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	spans, err := observe.TraceExporterFromEnv(ctx)
	if err != nil {
		slog.Error("failed to create trace exporter", "err", err)
		return 1
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version, TraceExporter: spans})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(tel.Metrics),
		app.WithHandler("GET /metrics", tel.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	go func() {
		current := cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloads:
				d := config.Diff(current, next)
				if d.LogLevelChanged {
					level.Set(slogLevel(d.NewLogLevel))
					slog.Info("log level changed", "level", d.NewLogLevel)
				}
				application.ApplyConfig(d)
				current = next
			}
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the text-only backends reachable through any-llm-go.
// They can serve fast_llm and summary_llm.
var anyllmBackends = []string{"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if project := optString(entry.Options, "vertex_project"); project != "" {
			opts = append(opts, gemini.WithVertex(project, optString(entry.Options, "vertex_location")))
		} else if entry.APIKey != "" {
			opts = append(opts, gemini.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(ctx, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered llm providers", "names", reg.LLMNames())
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	var err error
	if ps.LLM, err = createLLM(reg, "llm", cfg.Providers.LLM); err != nil {
		return nil, err
	}
	if ps.LLM == nil {
		return nil, fmt.Errorf("llm provider %q is not registered", cfg.Providers.LLM.Name)
	}
	if ps.FastLLM, err = createLLM(reg, "fast_llm", cfg.Providers.FastLLM); err != nil {
		return nil, err
	}
	if ps.SummaryLLM, err = createLLM(reg, "summary_llm", cfg.Providers.SummaryLLM); err != nil {
		return nil, err
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}
	return ps, nil
}

// createLLM returns nil, nil for an unconfigured role.
func createLLM(reg *config.Registry, role string, entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create %s provider %q: %w", role, entry.Name, err)
	}
	slog.Info("provider created", "kind", role, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║" + color.New(color.FgCyan, color.Bold).Sprint("         Convene, startup summary      ") + "║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Fast LLM", providerLabel(cfg.Providers.FastLLM))
	printRow("Summary LLM", providerLabel(cfg.Providers.SummaryLLM))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("Store", string(cfg.Store.Backend))
	printRow("Blobs", string(cfg.Blob.Backend))
	if cfg.Enrichment.Disabled {
		printRow("Enrichment", "(disabled)")
	} else {
		printRow("Enrichment", "enabled")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

var (
	okValue    = color.New(color.FgGreen)
	unsetValue = color.New(color.FgYellow)
)

// printRow pads before colouring so escape codes do not skew the columns.
// Colour is dropped automatically when stdout is not a terminal or NO_COLOR
// is set.
func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	paint := okValue
	if strings.HasPrefix(value, "(") {
		paint = unsetValue
	}
	fmt.Printf("║  %-12s    : %s ║\n", kind, paint.Sprintf("%-19s", value))
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
