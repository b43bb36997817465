// Package assist holds the prompts of the facilitation assistant and the
// single-shot model operations built on them: audio transcription, verbatim
// text extraction from documents and images, and note summarization.
//
// Model selection follows the one-provider-per-model pattern: the
// [Assistant] is given a multimodal provider for transcription and
// extraction, and optionally a separate (usually cheaper) provider for
// summaries and a dedicated speech-to-text backend.
package assist

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/provider/stt"
	"github.com/MrWong99/convene/pkg/types"
)

const defaultSummaryTemperature = 0.3

// Summary is the derived title, summary and emoji of a note.
type Summary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Emoji   string `json:"emoji"`
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithTranscriber routes audio transcription to a dedicated speech-to-text
// backend instead of the multimodal model.
func WithTranscriber(p stt.Provider) Option {
	return func(a *Assistant) { a.stt = p }
}

// WithSummaryProvider uses p for summaries. Default: the multimodal model.
func WithSummaryProvider(p llm.Provider) Option {
	return func(a *Assistant) { a.summarizer = p }
}

// WithSummaryTemperature sets the sampling temperature for summaries.
// Default: 0.3.
func WithSummaryTemperature(t float64) Option {
	return func(a *Assistant) { a.temperature = t }
}

// WithLanguage sets the language hint passed to a dedicated transcriber.
// Default: "nl".
func WithLanguage(lang string) Option {
	return func(a *Assistant) { a.language = lang }
}

// Assistant runs single-shot model operations. It is safe for concurrent use.
type Assistant struct {
	model       llm.Provider
	summarizer  llm.Provider
	stt         stt.Provider
	temperature float64
	language    string
}

// New returns an [Assistant] that uses model for multimodal operations.
func New(model llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		model:       model,
		temperature: defaultSummaryTemperature,
		language:    "nl",
	}
	for _, o := range opts {
		o(a)
	}
	if a.summarizer == nil {
		a.summarizer = model
	}
	return a
}

// Transcribe returns the Dutch transcript of an audio payload. Silence yields
// an empty string and no error.
func (a *Assistant) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if a.stt != nil {
		if len(audio) == 0 {
			return "", types.Errorf(types.ErrMediaRead, "assist: transcribe", "empty payload")
		}
		tr, err := a.stt.Transcribe(ctx, stt.Request{Audio: audio, MIMEType: mimeType, Language: a.language})
		if err != nil {
			return "", types.Wrap(types.ErrTransport, "assist: transcribe", err)
		}
		return strings.TrimSpace(tr.Text), nil
	}
	return a.describe(ctx, "assist: transcribe", TranscriptionPrompt, audio, mimeType)
}

// ExtractText returns the verbatim text of a document or image.
func (a *Assistant) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	return a.describe(ctx, "assist: extract text", ExtractTextPrompt, data, mimeType)
}

func (a *Assistant) describe(ctx context.Context, op, prompt string, data []byte, mimeType string) (string, error) {
	part, err := media.BytesToInlinePart(data, mimeType)
	if err != nil {
		return "", err
	}
	resp, err := a.model.Complete(ctx, llm.CompletionRequest{
		Parts: []types.Part{types.TextPart(prompt), part},
	})
	if err != nil {
		return "", types.Wrap(types.ErrTransport, op, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Summarize derives a title, summary and emoji from text.
func (a *Assistant) Summarize(ctx context.Context, text string) (*Summary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.ErrEmptyOutput, "assist: summarize", "no text to summarize")
	}
	resp, err := a.summarizer.Complete(ctx, llm.CompletionRequest{
		Parts:            []types.Part{types.TextPart(SummaryPrompt + "\n\n" + text)},
		Temperature:      a.temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   SummarySchema(),
	})
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "assist: summarize", err)
	}
	return parseSummary(resp.Content)
}

func parseSummary(content string) (*Summary, error) {
	cleaned := StripCodeFence(content)
	if cleaned == "" {
		return nil, types.Errorf(types.ErrEmptyOutput, "assist: summarize", "model returned no text")
	}
	var s Summary
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, types.Wrap(types.ErrMalformedOutput, "assist: summarize", err)
	}
	s.Title = strings.TrimSpace(s.Title)
	s.Summary = strings.TrimSpace(s.Summary)
	s.Emoji = strings.TrimSpace(s.Emoji)
	if s.Title == "" || s.Summary == "" {
		return nil, types.Errorf(types.ErrMalformedOutput, "assist: summarize", "missing title or summary in %q", cleaned)
	}
	return &s, nil
}

var fenceRe = regexp.MustCompile("```json\\n?|\\n?```")

// StripCodeFence removes markdown code fences (with an optional json tag)
// from model output and trims surrounding whitespace.
func StripCodeFence(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}
