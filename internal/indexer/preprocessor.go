package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: CRLF becomes LF, runs of
// horizontal whitespace collapse to one space, and more than one blank line
// collapses to a single paragraph break.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(text))
	space, newlines := false, 0
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r == '\n' || r == '\r':
			newlines++
			space = false
		case unicode.IsSpace(r):
			space = true
		default:
			if newlines > 0 {
				if newlines > 2 {
					newlines = 2
				}
				b.WriteString(strings.Repeat("\n", newlines))
			} else if space {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space, newlines = false, 0
		}
	}
	return b.String()
}
