package anyllm

import (
	"errors"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

// ── convertContent ───────────────────────────────────────────────────────────

func TestConvertContent(t *testing.T) {
	t.Parallel()

	got, err := convertContent(types.Content{
		Role:  types.RoleModel,
		Parts: []types.Part{types.TextPart("a"), types.TextPart("b")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Role != anyllmlib.RoleAssistant {
		t.Errorf("expected role assistant, got %q", got.Role)
	}
	if got.ContentString() != "a\n\nb" {
		t.Errorf("content = %q", got.ContentString())
	}

	got, err = convertContent(types.Content{Role: types.RoleUser, Parts: []types.Part{types.TextPart("hallo")}})
	if err != nil || got.Role != anyllmlib.RoleUser {
		t.Errorf("user turn = %+v, %v", got, err)
	}
}

func TestConvertContent_RejectsMedia(t *testing.T) {
	t.Parallel()

	_, err := convertContent(types.Content{
		Role:  types.RoleUser,
		Parts: []types.Part{{Inline: &types.InlineData{Data: "AA==", MIMEType: "audio/webm"}}},
	})
	if !errors.Is(err, ErrMediaUnsupported) {
		t.Errorf("err = %v, want ErrMediaUnsupported", err)
	}
}

// ── buildParams ──────────────────────────────────────────────────────────────

func TestBuildParams_SchemaInSystemPrompt(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt:     "Vat samen.",
		Parts:            []types.Part{types.TextPart("tekst")},
		ResponseMIMEType: "application/json",
		ResponseSchema:   map[string]any{"type": "object"},
		Temperature:      0.2,
		MaxTokens:        64,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	sys := params.Messages[0]
	if sys.Role != anyllmlib.RoleSystem || !strings.Contains(sys.ContentString(), `{"type":"object"}`) {
		t.Errorf("system message = %q", sys.ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

// ── constructors ─────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY not being set.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := New("ollama", "llama3.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caps := p.Capabilities()
	if caps.SupportsAudio || caps.SupportsVision || caps.SupportsThoughts {
		t.Errorf("text-only provider reported media support: %+v", caps)
	}
}
