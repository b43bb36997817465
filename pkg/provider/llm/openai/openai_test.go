package openai

import (
	"testing"

	"github.com/MrWong99/convene/pkg/provider/llm"
	"github.com/MrWong99/convene/pkg/types"
)

func inline(data, mime string) types.Part {
	return types.Part{Inline: &types.InlineData{Data: data, MIMEType: mime}}
}

// TestConvertContent_User checks that a user turn becomes a multi-part user message.
func TestConvertContent_User(t *testing.T) {
	t.Parallel()

	msg, err := convertContent(types.Content{
		Role:  types.RoleUser,
		Parts: []types.Part{types.TextPart("kijk"), inline("aGVsbG8=", "image/png")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
	if n := len(msg.OfUser.Content.OfArrayOfContentParts); n != 2 {
		t.Fatalf("expected 2 content parts, got %d", n)
	}
}

// TestConvertContent_Model checks that model turns become assistant messages.
func TestConvertContent_Model(t *testing.T) {
	t.Parallel()

	msg, err := convertContent(types.Content{
		Role:  types.RoleModel,
		Parts: []types.Part{types.TextPart(`{"sections":[]}`)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}

	if _, err := convertContent(types.Content{
		Role:  types.RoleModel,
		Parts: []types.Part{inline("aGVsbG8=", "image/png")},
	}); err == nil {
		t.Error("expected error for media in assistant turn")
	}
}

func TestConvertPart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mime    string
		wantErr bool
	}{
		{name: "image", mime: "image/jpeg"},
		{name: "wav", mime: "audio/wav"},
		{name: "mp3", mime: "audio/mpeg"},
		{name: "pdf", mime: "application/pdf"},
		{name: "webm rejected", mime: "audio/webm; codecs=opus", wantErr: true},
		{name: "video webm rejected", mime: "video/webm", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			part, err := convertPart(inline("aGVsbG8=", tt.mime))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch tt.name {
			case "image":
				if part.OfImageURL == nil || part.OfImageURL.ImageURL.URL != "data:image/jpeg;base64,aGVsbG8=" {
					t.Errorf("image part = %+v", part.OfImageURL)
				}
			case "wav", "mp3":
				if part.OfInputAudio == nil || string(part.OfInputAudio.InputAudio.Format) != tt.name {
					t.Errorf("audio part = %+v", part.OfInputAudio)
				}
			case "pdf":
				if part.OfFile == nil {
					t.Error("expected file part")
				}
			}
		})
	}
}

func TestBuildParams_ResponseFormat(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt:     "sys",
		Parts:            []types.Part{types.TextPart("hallo")},
		ResponseMIMEType: "application/json",
		ResponseSchema:   map[string]any{"type": "object"},
		MaxTokens:        100,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(params.Messages))
	}
	if params.ResponseFormat.OfJSONSchema == nil {
		t.Fatal("expected JSON schema response format")
	}
	if params.ResponseFormat.OfJSONSchema.JSONSchema.Name != schemaName {
		t.Errorf("schema name = %q", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	}

	params, err = p.buildParams(llm.CompletionRequest{
		Parts:            []types.Part{types.TextPart("hallo")},
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON object response format")
	}

	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	if caps := modelCapabilities("gpt-4o-mini"); !caps.SupportsVision || caps.SupportsAudio {
		t.Errorf("gpt-4o-mini: %+v", caps)
	}
	if caps := modelCapabilities("gpt-4o-audio-preview"); !caps.SupportsAudio {
		t.Errorf("gpt-4o-audio-preview: %+v", caps)
	}
	if caps := modelCapabilities("unknown"); caps.SupportsThoughts || !caps.SupportsStreaming {
		t.Errorf("unknown: %+v", caps)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o", WithBaseURL("http://localhost:1"), WithTimeout(1)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
