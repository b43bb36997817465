// Package types defines the shared types used across all convene packages.
//
// These types form the lingua franca between model providers, the history
// builder, the generation orchestrator and the reconcilers. Each package
// defines its own domain types; cross-cutting structures live here to avoid
// circular imports.
package types

import "strings"

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks participant input (voice memos, documents, typed text).
	RoleUser Role = "user"

	// RoleModel marks turns produced by the generative model.
	RoleModel Role = "model"
)

// InlineData is binary media carried inside a request as base64 text.
type InlineData struct {
	// Data is the standard base64 encoding of the payload.
	Data string

	// MIMEType describes the payload (e.g., "audio/webm", "application/pdf").
	MIMEType string
}

// Part is a single content fragment sent to a model. Exactly one of Text or
// Inline is populated.
type Part struct {
	Text   string
	Inline *InlineData
}

// TextPart returns a Part carrying text.
func TextPart(text string) Part {
	return Part{Text: text}
}

// IsText reports whether p carries text rather than inline media.
func (p Part) IsText() bool {
	return p.Inline == nil
}

// Content is one role's contiguous contribution to a conversation.
type Content struct {
	Role  Role
	Parts []Part
}

// JoinText concatenates the text parts of c, separated by blank lines.
// Inline parts are ignored.
func (c Content) JoinText() string {
	var texts []string
	for _, p := range c.Parts {
		if p.IsText() && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// AppendTurn appends parts under role to history. When the last turn already
// belongs to role the parts are folded into it, so the result never holds two
// consecutive turns of the same role.
func AppendTurn(history []Content, role Role, parts ...Part) []Content {
	if len(parts) == 0 {
		return history
	}
	if n := len(history); n > 0 && history[n-1].Role == role {
		history[n-1].Parts = append(history[n-1].Parts, parts...)
		return history
	}
	return append(history, Content{Role: role, Parts: append([]Part(nil), parts...)})
}
