// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most maxRunes runes, cutting on a rune boundary and appending
// "..." when anything was dropped. Trailing spaces before the cut are trimmed.
// A maxRunes of 0 or less returns s unchanged.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut, n := 0, 0
	for i := range s {
		if n == maxRunes {
			cut = i
			break
		}
		n++
	}
	return strings.TrimRight(s[:cut], " \t\n") + "..."
}
