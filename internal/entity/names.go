package entity

import "strings"

// Length bounds for displayed strings, in runes.
const (
	ShortNameLength = 50
	NameLength      = 200
	KeyLength       = 20
)

const ellipsis = "…"

// Shorten cuts s down to max runes, appending an ellipsis when anything was
// dropped. The ellipsis counts against the limit.
func Shorten(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + ellipsis
}

// ShortName bounds a short name to the 50-rune limit.
func ShortName(s string) string { return Shorten(s, ShortNameLength) }

// DisplayName bounds a display name to the 200-rune limit.
func DisplayName(s string) string { return Shorten(s, NameLength) }

// CollapseWhitespace trims s and folds any internal whitespace run into a
// single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
