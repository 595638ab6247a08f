// Package normalize prepares catalog text for comparison. All matchers and
// scorers expect their inputs to have passed through Text first so that
// case, punctuation, and spacing differences never affect a score.
package normalize

import (
	"strings"
	"unicode"
)

// Text lowercases s, replaces every rune that is not a letter, digit, or
// whitespace with a space, collapses whitespace runs, and trims the ends.
// Unicode letters and digits from any script are kept.
func Text(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true // leading spaces are dropped
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		// punctuation and whitespace both separate tokens
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Identifier strips separator characters from a reference code so that
// "ACC-2021/034" and "ACC 2021.034" compare equal. Only letters and digits
// survive, lowercased.
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
