package files

import (
	"regexp"
	"strings"

	"ratsmirror/internal/store"
)

// PersonMatcher finds mentions of known persons in document text. Each
// person matches under their full name, "given family" and the formal
// "family, given"; bare family names are too ambiguous.
type PersonMatcher struct {
	patterns []personPattern
}

type personPattern struct {
	id int64
	re *regexp.Regexp
}

func NewPersonMatcher(persons []store.PersonName) *PersonMatcher {
	m := &PersonMatcher{}
	for _, p := range persons {
		var alternatives []string
		if p.Name != "" {
			alternatives = append(alternatives, flexibleName(p.Name))
		}
		if p.GivenName != "" && p.FamilyName != "" {
			given := regexp.QuoteMeta(p.GivenName)
			family := regexp.QuoteMeta(p.FamilyName)
			alternatives = append(alternatives,
				given+`\s+`+family,
				family+`,\s*`+given,
			)
		}
		if len(alternatives) == 0 {
			continue
		}
		// Case-insensitive: protocols are often OCR'd in capitals. The
		// boundaries are spelled out because \b is ASCII-only and would
		// split names like Groß before the ß.
		re, err := regexp.Compile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(alternatives, "|") + `)(?:[^\p{L}]|$)`)
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, personPattern{id: p.ID, re: re})
	}
	return m
}

// flexibleName matches a multi-word name across line breaks.
func flexibleName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// Match returns the ids of all persons mentioned in the text, in input
// order, each at most once.
func (m *PersonMatcher) Match(text string) []int64 {
	var ids []int64
	for _, p := range m.patterns {
		if p.re.MatchString(text) {
			ids = append(ids, p.id)
		}
	}
	return ids
}
