// Package strings holds text helpers shared by the CRM and OAuth clients.
package strings

import (
	"strings"
)

// MinExcerptLen is the smallest maxLen Excerpt honours. Smaller values leave
// no room for content plus "...".
const MinExcerptLen = 4

// Excerpt returns a single-line excerpt of s at most maxLen runes long,
// including the "..." marker when truncated. Runs of whitespace, newlines
// included, collapse to one space. Multi-byte characters are never split.
func Excerpt(s string, maxLen int) string {
	if maxLen < MinExcerptLen {
		maxLen = MinExcerptLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// BodyExcerpt is Excerpt for raw response bodies.
func BodyExcerpt(body []byte, maxLen int) string {
	return Excerpt(string(body), maxLen)
}
