package geo

import (
	"regexp"
	"strings"
)

// Address is a semi-structured postal address found in running text.
type Address struct {
	Street      string
	HouseNumber string
	Postcode    string
	City        string
}

// Description renders the address the way it appeared, for display and
// geocoding.
func (a Address) Description() string {
	parts := []string{a.Street + " " + a.HouseNumber}
	if a.City != "" {
		if a.Postcode != "" {
			parts = append(parts, a.Postcode+" "+a.City)
		} else {
			parts = append(parts, a.City)
		}
	}
	return strings.Join(parts, ", ")
}

// Street name, house number, optionally followed by postcode and city.
// Street names are runs of letters (hyphens and spaces included), house
// numbers must not start with zero.
var addressPattern = regexp.MustCompile(
	`(\p{L}(?:[\p{L} \t-]*\p{L})?)\s+([1-9][0-9]*[\p{L}0-9-]*)(?:[,;]?\s+(?:([0-9]{5})\s+)?([\p{L}-]+))?`,
)

// ExtractAddresses finds address-shaped substrings. Candidates whose
// street part is not a known street are dropped by the caller; the raw
// pattern alone matches far too much.
func ExtractAddresses(text string) []Address {
	var out []Address
	for _, m := range addressPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, Address{
			Street:      strings.TrimSpace(m[1]),
			HouseNumber: m[2],
			Postcode:    m[3],
			City:        m[4],
		})
	}
	return out
}

// Extractor finds known streets and points of interest in parsed document
// text. The corpus comes from the administrative area of the imported
// body.
type Extractor struct {
	// normalized name to displayed name
	streets map[string]string
	pois    map[string]string
}

func NewExtractor(streets, pois []string) *Extractor {
	e := &Extractor{
		streets: make(map[string]string, len(streets)),
		pois:    make(map[string]string, len(pois)),
	}
	for _, s := range streets {
		e.streets[Normalize(s)] = s
	}
	for _, p := range pois {
		e.pois[Normalize(p)] = p
	}
	return e
}

// Found is one extracted location reference. Exactly one of Name or
// Address is set: Name for a bare street or point of interest, Address
// for a full address match.
type Found struct {
	Name    string
	Address *Address
}

// Desc is the de-duplication key and the geocoder query seed.
func (f Found) Desc() string {
	if f.Address != nil {
		return f.Address.Description()
	}
	return f.Name
}

// Extract runs both the pattern and the name lookup over the text and
// de-duplicates the findings by description.
func (e *Extractor) Extract(text string) []Found {
	seen := make(map[string]bool)
	var out []Found

	add := func(f Found) {
		desc := f.Desc()
		if desc == "" || seen[desc] {
			return
		}
		seen[desc] = true
		out = append(out, f)
	}

	for _, addr := range ExtractAddresses(text) {
		// Only addresses on known streets count. The street group is
		// greedy and may swallow leading words, so suffix-match against
		// the corpus.
		normalized := Normalize(addr.Street)
		matched := ""
		for key, display := range e.streets {
			if normalized == key || strings.HasSuffix(normalized, " "+key) {
				if len(display) > len(matched) {
					matched = display
				}
			}
		}
		if matched == "" {
			continue
		}
		addr.Street = matched
		// Without a postcode the trailing word is usually just the
		// sentence going on, not a city name.
		if addr.Postcode == "" {
			addr.City = ""
		}
		a := addr
		add(Found{Address: &a})
	}

	normalizedText := " " + Normalize(text) + " "
	for key, display := range e.streets {
		if strings.Contains(normalizedText, " "+key+" ") {
			add(Found{Name: display})
		}
	}
	for key, display := range e.pois {
		if strings.Contains(normalizedText, " "+key+" ") {
			add(Found{Name: display})
		}
	}
	return out
}
