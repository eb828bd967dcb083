// Package sanitize strips markup from free text that operators store or
// that is echoed back in API responses.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML tags. Use for source descriptions.
func Text(input string) string {
	return StrictPolicy.Sanitize(input)
}

// TextSlice sanitizes each string in a slice, removing all HTML.
func TextSlice(inputs []string) []string {
	if inputs == nil {
		return nil
	}
	sanitized := make([]string, len(inputs))
	for i, input := range inputs {
		sanitized[i] = Text(input)
	}
	return sanitized
}

// Label makes caller-supplied names safe to echo in error details: markup
// and control characters are removed and the result is cut to maxRunes.
func Label(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, Text(input))
	cleaned = strings.TrimSpace(cleaned)
	if maxRunes > 0 {
		if runes := []rune(cleaned); len(runes) > maxRunes {
			cleaned = string(runes[:maxRunes]) + "..."
		}
	}
	return cleaned
}
