package stream

import (
	"strings"
	"unicode/utf8"
)

// MarkerPrefixes mark model text that narrates tool use rather than
// answering the user.
var MarkerPrefixes = []string{
	"[called ",
	"[tool output:",
	"[tool:",
	"[function:",
	"executing tool",
	"calling tool",
	"tool_result",
	"tool_use",
}

// MarkerKeywords suppress fragments shorter than MinFragmentRunes.
var MarkerKeywords = []string{"tool", "function", "mcp"}

// MinFragmentRunes is the length below which a fragment mentioning a marker
// keyword is treated as tool metadata.
const MinFragmentRunes = 10

// Filter decides which text fragments reach the user.
type Filter struct {
	Prefixes []string
	Keywords []string
	MinRunes int
}

// DefaultFilter returns the filter used for chat output.
func DefaultFilter() Filter {
	return Filter{
		Prefixes: MarkerPrefixes,
		Keywords: MarkerKeywords,
		MinRunes: MinFragmentRunes,
	}
}

// Visible reports whether fragment should be shown. Empty fragments are not
// shown; whitespace is, since it separates streamed words.
func (f Filter) Visible(fragment string) bool {
	if fragment == "" {
		return false
	}
	trimmed := strings.TrimSpace(fragment)
	lower := strings.ToLower(trimmed)

	for _, p := range f.Prefixes {
		if strings.HasPrefix(lower, p) || strings.Contains(lower, "["+p) {
			return false
		}
	}

	if utf8.RuneCountInString(trimmed) < f.MinRunes {
		for _, k := range f.Keywords {
			if strings.Contains(lower, k) {
				return false
			}
		}
	}
	return true
}
