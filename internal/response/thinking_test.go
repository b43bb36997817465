package response

import (
	"reflect"
	"testing"

	"github.com/MrWong99/convene/pkg/store"
)

func TestParseThinking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []store.ThinkingSection
	}{
		{
			name: "two steps",
			in:   "**Step 1**\nDo X\n**Step 2**\nDo Y",
			want: []store.ThinkingSection{{Title: "Step 1", Summary: "Do X"}, {Title: "Step 2", Summary: "Do Y"}},
		},
		{
			name: "no headings",
			in:   "just some thoughts without structure",
			want: []store.ThinkingSection{},
		},
		{
			name: "empty",
			in:   "",
			want: []store.ThinkingSection{},
		},
		{
			name: "leading text dropped",
			in:   "preamble\n\n**Analyse**\n\nDe groep twijfelt.\n\n",
			want: []store.ThinkingSection{{Title: "Analyse", Summary: "De groep twijfelt."}},
		},
		{
			name: "multi-line summary",
			in:   "**Plan**\nregel een\nregel twee",
			want: []store.ThinkingSection{{Title: "Plan", Summary: "regel een\nregel twee"}},
		},
		{
			name: "heading without body",
			in:   "**Alleen titel**",
			want: []store.ThinkingSection{{Title: "Alleen titel", Summary: ""}},
		},
		{
			name: "unclosed bold is ignored",
			in:   "**half open\ntext",
			want: []store.ThinkingSection{},
		},
		{
			name: "bold mid-line is not a heading",
			in:   "dit is **belangrijk** maar geen kop",
			want: []store.ThinkingSection{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseThinking(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseThinking(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
