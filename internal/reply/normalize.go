// Package reply implements the intent classification and reply engine:
// text normalization, the ordered matcher cascade, the one-turn booking
// lookback, and the generative fallback with its safety substitutions.
package reply

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace runs to single spaces and trims the
// ends. It is total: any input, including empty, yields a valid result.
func Normalize(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// EnforceLength normalizes text and truncates it to max runes, marking
// truncation with a trailing ellipsis. Idempotent: applying it to its
// own output returns the same string.
func EnforceLength(text string, max int) string {
	msg := Normalize(text)
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	if max <= 0 {
		return ""
	}
	if max < 3 {
		return string(runes[:max])
	}
	return strings.TrimRight(string(runes[:max-3]), " ") + "..."
}
