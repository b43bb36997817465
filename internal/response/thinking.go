package response

import (
	"regexp"
	"strings"

	"github.com/MrWong99/convene/pkg/store"
)

// headingRe matches a bold heading at the start of a line, e.g. "**Plan**".
var headingRe = regexp.MustCompile(`(?m)^[ \t]*\*\*([^*\n]+?)\*\*`)

// ParseThinking splits free-form model thinking text into titled sections.
// Each bold heading starting a line opens a section whose summary runs until
// the next heading or the end of the input. Text before the first heading is
// dropped. Input without headings yields an empty, non-nil slice.
func ParseThinking(raw string) []store.ThinkingSection {
	out := []store.ThinkingSection{}
	matches := headingRe.FindAllStringSubmatchIndex(raw, -1)
	for i, m := range matches {
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		title := strings.TrimSpace(raw[m[2]:m[3]])
		if title == "" {
			continue
		}
		out = append(out, store.ThinkingSection{
			Title:   title,
			Summary: strings.TrimSpace(raw[m[1]:end]),
		})
	}
	return out
}
