package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ContentInstructionsChanged bool
	NewContentInstructions     string

	// RestartRequired lists the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Generation.ContentInstructions != new.Generation.ContentInstructions {
		d.ContentInstructionsChanged = true
		d.NewContentInstructions = new.Generation.ContentInstructions
	}

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Blob != new.Blob {
		d.RestartRequired = append(d.RestartRequired, "blob")
	}
	og, ng := old.Generation, new.Generation
	og.ContentInstructions, ng.ContentInstructions = "", ""
	if !sameGeneration(og, ng) {
		d.RestartRequired = append(d.RestartRequired, "generation")
	}
	if old.Enrichment != new.Enrichment {
		d.RestartRequired = append(d.RestartRequired, "enrichment")
	}
	if old.Breaker != new.Breaker {
		d.RestartRequired = append(d.RestartRequired, "breaker")
	}
	return d
}

// sameServer ignores the hot-reloadable log level.
func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.MaxUploadBytes != b.MaxUploadBytes {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.FastLLM, b.FastLLM) &&
		sameEntry(a.SummaryLLM, b.SummaryLLM) && sameEntry(a.STT, b.STT)
}

// sameEntry compares the scalar fields of two entries. Options maps only
// count as changed when their sizes differ.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}

func sameGeneration(a, b GenerationConfig) bool {
	if (a.Temperature == nil) != (b.Temperature == nil) || (a.Temperature != nil && *a.Temperature != *b.Temperature) {
		return false
	}
	a.Temperature, b.Temperature = nil, nil
	return a == b
}
