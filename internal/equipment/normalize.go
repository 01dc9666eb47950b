package equipment

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a manufacturer or model string for matching:
// lowercase, trimmed, inner whitespace collapsed to single spaces, and
// punctuation stripped except the dashes and dots that appear inside real
// model numbers.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '/':
			b.WriteRune(r)
			lastSpace = false
		default:
			// Drop stray punctuation from OCR noise.
		}
	}
	return strings.TrimRight(b.String(), " ")
}
