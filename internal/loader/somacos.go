package loader

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"ratsmirror/internal/oparl"
)

// somacos builds query strings by hand because the Session webservice
// rejects fully form-encoded URLs; only "+" and ":" in values are escaped.
// 500s are transient there and handled by the base retry loop.
type somacos struct {
	*base
}

func (s *somacos) ProfileName() string { return "somacos" }

func (s *somacos) FetchJSON(ctx context.Context, rawURL string, query url.Values) (oparl.Object, Outcome, error) {
	full := rawURL
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			v := query.Get(k)
			v = strings.ReplaceAll(v, "+", "%2B")
			v = strings.ReplaceAll(v, ":", "%3A")
			pairs = append(pairs, k+"="+v)
		}
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		full = rawURL + sep + strings.Join(pairs, "&")
	}

	body, status, err := s.get(ctx, full)
	if err != nil {
		if status == 404 && hasModifiedSince(query) {
			return oparl.EmptyPage(), OutcomeEmpty, nil
		}
		return nil, OutcomeError, err
	}
	data, _, err := decodeObject(body)
	if err != nil {
		return nil, OutcomeError, err
	}
	s.checkID(rawURL, data)
	s.archive(ctx, rawURL, body)
	return data, OutcomeOK, nil
}
