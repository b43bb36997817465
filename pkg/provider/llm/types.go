package llm

import "strings"

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsVision indicates the model accepts image parts.
	SupportsVision bool

	// SupportsAudio indicates the model accepts audio parts.
	SupportsAudio bool

	// SupportsDocuments indicates the model accepts PDF and similar document parts.
	SupportsDocuments bool

	// SupportsThoughts indicates the model can stream a reasoning summary.
	SupportsThoughts bool

	// SupportsStructuredOutput indicates ResponseSchema is enforced by the backend.
	SupportsStructuredOutput bool

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// Accepts reports whether a part with the given MIME type can be sent to the
// model. Text parts are always accepted.
func (c ModelCapabilities) Accepts(mimeType string) bool {
	switch {
	case mimeType == "":
		return true
	case strings.HasPrefix(mimeType, "audio/"), strings.HasPrefix(mimeType, "video/webm"):
		return c.SupportsAudio
	case strings.HasPrefix(mimeType, "image/"):
		return c.SupportsVision
	case strings.HasPrefix(mimeType, "text/"):
		return true
	default:
		return c.SupportsDocuments
	}
}
