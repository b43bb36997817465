// Package gemini provides an LLM provider backed by Google's Gemini models via
// google.golang.org/genai. It works against both the Gemini Developer API
// (API key) and Vertex AI (project and location).
//
// Gemini accepts inline audio, images and PDFs, streams reasoning summaries
// when thoughts are requested, and enforces response schemas natively, so it
// is the default backend for every model role.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the genai SDK.
type Provider struct {
	client *genai.Client
	model  string
}

type config struct {
	apiKey     string
	baseURL    string
	project    string
	location   string
	vertex     bool
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey authenticates against the Gemini Developer API.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithVertex selects the Vertex AI backend for project in location. Credentials
// come from Application Default Credentials.
func WithVertex(project, location string) Option {
	return func(c *config) {
		c.vertex = true
		c.project = project
		c.location = location
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used by the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider for model.
func New(ctx context.Context, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		HTTPClient:  cfg.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.baseURL},
	}
	if cfg.vertex {
		if cfg.project == "" || cfg.location == "" {
			return nil, errors.New("gemini: vertex backend needs project and location")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.project
		cc.Location = cfg.location
	} else {
		if cfg.apiKey == "" {
			return nil, errors.New("gemini: apiKey must not be empty")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.apiKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// StreamCompletion implements llm.Provider. The first response is pulled
// before returning so that request and authentication failures surface as an
// error rather than as an error chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	contents, cfg, err := buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}

	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg))
	first, err, ok := next()
	if ok && err != nil {
		stop()
		return nil, fmt.Errorf("gemini: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stop()

		var agg aggregate
		resp, more := first, ok
		for more {
			text, thought := agg.add(resp)
			if text != "" || thought != "" {
				select {
				case ch <- llm.Chunk{Text: text, Thought: thought}:
				case <-ctx.Done():
					return
				}
			}
			resp, err, more = next()
			if more && err != nil {
				select {
				case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()}:
				case <-ctx.Done():
				}
				return
			}
		}

		final := agg.response()
		select {
		case ch <- llm.Chunk{FinishReason: final.FinishReason, Final: final}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, cfg, err := buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	var agg aggregate
	agg.add(resp)
	return agg.response(), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:            1_048_576,
		MaxOutputTokens:          65_536,
		SupportsVision:           true,
		SupportsAudio:            true,
		SupportsDocuments:        true,
		SupportsThoughts:         true,
		SupportsStructuredOutput: true,
		SupportsStreaming:        true,
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gemini-1.5"):
		caps.MaxOutputTokens = 8_192
		caps.SupportsThoughts = false
	case strings.HasPrefix(lower, "gemini-2.0"):
		caps.MaxOutputTokens = 8_192
		caps.SupportsThoughts = false
	}
	return caps
}

// ── Request conversion ───────────────────────────────────────────────────────

func buildRequest(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var contents []*genai.Content
	for _, c := range req.Contents() {
		gc, err := toContent(c)
		if err != nil {
			return nil, nil, err
		}
		contents = append(contents, gc)
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("no content")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseMIMEType != "" {
		cfg.ResponseMIMEType = req.ResponseMIMEType
	}
	if req.ResponseSchema != nil {
		cfg.ResponseSchema = toSchema(req.ResponseSchema)
	}
	if req.IncludeThoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return contents, cfg, nil
}

func toContent(c types.Content) (*genai.Content, error) {
	role := genai.RoleUser
	if c.Role == types.RoleModel {
		role = genai.RoleModel
	}
	gc := &genai.Content{Role: string(role)}
	for _, part := range c.Parts {
		if part.IsText() {
			gc.Parts = append(gc.Parts, genai.NewPartFromText(part.Text))
			continue
		}
		data, err := media.Decode(part)
		if err != nil {
			return nil, err
		}
		gc.Parts = append(gc.Parts, genai.NewPartFromBytes(data, part.Inline.MIMEType))
	}
	return gc, nil
}

// toSchema converts a decoded JSON Schema into the genai schema subset.
// Unknown keywords are ignored.
func toSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[name] = toSchema(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	s.Required = stringList(m["required"])
	s.Enum = stringList(m["enum"])
	if n, ok := intValue(m["minItems"]); ok {
		s.MinItems = genai.Ptr(n)
	}
	if n, ok := intValue(m["maxItems"]); ok {
		s.MaxItems = genai.Ptr(n)
	}
	return s
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// ── Response aggregation ─────────────────────────────────────────────────────

type aggregate struct {
	text, thought strings.Builder
	finishReason  string
	usage         llm.Usage
}

// add folds resp into the aggregate and returns the new text and thought.
func (a *aggregate) add(resp *genai.GenerateContentResponse) (text, thought string) {
	if resp == nil {
		return "", ""
	}
	if u := resp.UsageMetadata; u != nil {
		a.usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		a.finishReason = finishReason(cand.FinishReason)
	}
	if cand.Content == nil {
		return "", ""
	}
	var tb, thb strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			thb.WriteString(part.Text)
		} else {
			tb.WriteString(part.Text)
		}
	}
	text, thought = tb.String(), thb.String()
	a.text.WriteString(text)
	a.thought.WriteString(thought)
	return text, thought
}

func (a *aggregate) response() *llm.CompletionResponse {
	reason := a.finishReason
	if reason == "" {
		reason = "stop"
	}
	return &llm.CompletionResponse{
		Content:      a.text.String(),
		Thought:      a.thought.String(),
		FinishReason: reason,
		Usage:        a.usage,
	}
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(r))
	}
}
