package generate

import (
	"encoding/json"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/pkg/store"
)

// ExtractSections parses complete model output of the form
// {"sections":[...]}, optionally wrapped in a ```json fence. It reports false
// when the text is not valid JSON or has no sections array.
func ExtractSections(raw string) ([]store.Section, bool) {
	return decodeSections(assist.StripCodeFence(raw))
}

// ExtractPartial is [ExtractSections] for output that is still streaming. When
// the text does not parse yet, the sections array is cut after its last
// complete element and closed, so finished sections become visible while the
// next one is still being written.
func ExtractPartial(raw string) ([]store.Section, bool) {
	text := assist.StripCodeFence(raw)
	if s, ok := decodeSections(text); ok {
		return s, true
	}
	cut := lastCompleteSection(text)
	if cut < 0 {
		return nil, false
	}
	return decodeSections(text[:cut] + "]}")
}

func decodeSections(text string) ([]store.Section, bool) {
	if text == "" {
		return nil, false
	}
	var out struct {
		Sections *[]store.Section `json:"sections"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil || out.Sections == nil {
		return nil, false
	}
	return *out.Sections, true
}

// lastCompleteSection returns the offset just past the last object closed
// directly inside an array of the root object, or -1. String contents and
// escapes are skipped.
func lastCompleteSection(text string) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
		cut      = -1
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return cut
			}
			stack = stack[:len(stack)-1]
			if c == '}' && len(stack) == 2 && stack[0] == '{' && stack[1] == '[' {
				cut = i + 1
			}
		}
	}
	return cut
}
