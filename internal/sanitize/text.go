package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML tags and returns plain text.
func Text(input string) string {
	return StrictPolicy.Sanitize(input)
}

// Name cleans a model- or user-supplied proper name: markup is removed,
// entities are decoded, control characters dropped and whitespace collapsed.
func Name(input string) string {
	cleaned := html.UnescapeString(Text(input))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// Names applies Name to each entry and drops entries that end up empty.
func Names(inputs []string) []string {
	if inputs == nil {
		return nil
	}
	out := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if cleaned := Name(input); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
