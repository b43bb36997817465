package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper"},
}

// audioCapableLLMs are the backends that accept inline audio and can serve
// as the main model.
var audioCapableLLMs = []string{"gemini", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a single sensible default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = BlobMemory
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.FastLLM.Name)
	validateProviderName("llm", cfg.Providers.SummaryLLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else if slices.Contains(ValidProviderNames["llm"], cfg.Providers.LLM.Name) && !slices.Contains(audioCapableLLMs, cfg.Providers.LLM.Name) {
		errs = append(errs, fmt.Errorf("providers.llm %q cannot listen to audio; valid values: %v", cfg.Providers.LLM.Name, audioCapableLLMs))
	}

	// Store
	switch {
	case !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, firestore, sqlite", cfg.Store.Backend))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
	case cfg.Store.Backend == StoreFirestore && cfg.Store.FirestoreProject == "":
		errs = append(errs, errors.New("store.firestore_project is required for the firestore backend"))
	case cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "":
		errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
	case cfg.Store.Backend == StoreMemory:
		slog.Warn("store.backend is memory; sessions and notes are lost on restart")
	}

	// Blob
	switch {
	case !cfg.Blob.Backend.IsValid():
		errs = append(errs, fmt.Errorf("blob.backend %q is invalid; valid values: memory, fs, gcs", cfg.Blob.Backend))
	case cfg.Blob.Backend == BlobFS && (cfg.Blob.Dir == "" || cfg.Blob.BaseURL == ""):
		errs = append(errs, errors.New("blob.dir and blob.base_url are required for the fs backend"))
	case cfg.Blob.Backend == BlobGCS && cfg.Blob.Bucket == "":
		errs = append(errs, errors.New("blob.bucket is required for the gcs backend"))
	}
	if cfg.Blob.URLTTL < 0 {
		errs = append(errs, fmt.Errorf("blob.url_ttl %s must not be negative", cfg.Blob.URLTTL))
	}

	// Generation
	if cfg.Generation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("generation.timeout %s must not be negative", cfg.Generation.Timeout))
	}
	if t := cfg.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("generation.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Providers.FastLLM.Name == "" && !cfg.Generation.DisablePreamble {
		slog.Info("providers.fast_llm is not configured; no preamble will be streamed")
	}

	// Enrichment
	if cfg.Enrichment.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("enrichment.concurrency %d must not be negative", cfg.Enrichment.Concurrency))
	}

	// Breaker
	if cfg.Breaker.MaxFailures < 0 || cfg.Breaker.HalfOpenMax < 0 || cfg.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
