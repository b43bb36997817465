// Package openai provides an LLM provider backed by the OpenAI Chat
// Completions API.
//
// Images are sent as data URLs, PDFs as file parts and audio as input_audio
// parts. The API only accepts wav and mp3 audio, so browser recordings
// (webm/ogg) must be transcribed by another backend first.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// schemaName is the name attached to structured-output requests.
const schemaName = "response"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if out.Text == "" && out.FinishReason == "" {
				continue
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelCapabilities returns ModelCapabilities for known OpenAI model names.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsStreaming:        true,
		SupportsStructuredOutput: true,
		ContextWindow:            128_000,
		MaxOutputTokens:          4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "audio"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsAudio = true
	case strings.HasPrefix(lower, "gpt-4.1"), strings.HasPrefix(lower, "gpt-5"):
		caps.ContextWindow = 1_000_000
		caps.MaxOutputTokens = 32_768
		caps.SupportsVision = true
		caps.SupportsDocuments = true
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
		caps.SupportsDocuments = true
	case strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
		caps.SupportsDocuments = true
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
		caps.SupportsStructuredOutput = false
	}
	return caps
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, c := range req.Contents() {
		msg, err := convertContent(c)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("no messages")
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	switch {
	case req.ResponseSchema != nil:
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: req.ResponseSchema,
				},
			},
		}
	case req.ResponseMIMEType == "application/json":
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

// convertContent converts a conversation turn into an OpenAI message. Model
// turns must be text-only.
func convertContent(c types.Content) (oai.ChatCompletionMessageParamUnion, error) {
	if c.Role == types.RoleModel {
		for _, p := range c.Parts {
			if !p.IsText() {
				return oai.ChatCompletionMessageParamUnion{}, errors.New("openai: assistant turns cannot carry media")
			}
		}
		return oai.AssistantMessage(c.JoinText()), nil
	}

	parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(c.Parts))
	for _, p := range c.Parts {
		part, err := convertPart(p)
		if err != nil {
			return oai.ChatCompletionMessageParamUnion{}, err
		}
		parts = append(parts, part)
	}
	return oai.UserMessage(parts), nil
}

func convertPart(p types.Part) (oai.ChatCompletionContentPartUnionParam, error) {
	if p.IsText() {
		return oai.TextContentPart(p.Text), nil
	}
	mt := p.Inline.MIMEType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	dataURL := "data:" + mt + ";base64," + p.Inline.Data

	switch {
	case strings.HasPrefix(mt, "image/"):
		return oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}), nil
	case mt == "audio/wav", mt == "audio/x-wav", mt == "audio/wave":
		return oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data: p.Inline.Data, Format: "wav",
		}), nil
	case mt == "audio/mpeg", mt == "audio/mp3":
		return oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data: p.Inline.Data, Format: "mp3",
		}), nil
	case strings.HasPrefix(mt, "audio/"), mt == "video/webm":
		return oai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("openai: unsupported audio format %q", mt)
	default:
		return oai.FileContentPart(oai.ChatCompletionContentPartFileFileParam{
			FileData: param.NewOpt(dataURL),
			Filename: param.NewOpt("upload" + extensionFor(mt)),
		}), nil
	}
}

func extensionFor(mt string) string {
	switch mt {
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	return ""
}
