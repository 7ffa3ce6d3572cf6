package geo

import (
	"regexp"
	"strings"
)

var (
	strAbbrev   = regexp.MustCompile(`str\b\.?`)
	punctuation = regexp.MustCompile(`[.,;:!?()"'/]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize maps a street or place name onto a canonical matching form:
// lowercased, "str."/"straße" unified to "strasse", whitespace collapsed
// and common German inflection endings trimmed. Extracted candidates and
// the corpus names go through the same function, so spelling variants of
// the same street land on the same key.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ß", "ss")
	s = strAbbrev.ReplaceAllString(s, "strasse")
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = stem(w)
	}
	return strings.Join(words, " ")
}

var germanSuffixes = []string{"ern", "em", "en", "er", "es", "e", "s", "n"}

// stem trims one inflection suffix. Enough to collapse "Straßen" and
// "Straße" without a full snowball stemmer.
func stem(w string) string {
	for _, suffix := range germanSuffixes {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 4 {
			return w[:len(w)-len(suffix)]
		}
	}
	return w
}
