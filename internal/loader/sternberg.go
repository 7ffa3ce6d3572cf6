package loader

import (
	"context"
	"net/url"
	"strings"

	"ratsmirror/internal/oparl"
)

// sternberg corrects the quirks of the SD.NET RIM webservice: doubled path
// segments in file URLs, 7-digit municipality keys, bare objects at list
// endpoints, deleted stubs without a type and embedded locations where the
// schema requires a reference.
type sternberg struct {
	*base
}

func (s *sternberg) ProfileName() string { return "sternberg" }

func (s *sternberg) FetchJSON(ctx context.Context, rawURL string, query url.Values) (oparl.Object, Outcome, error) {
	data, outcome, err := s.base.FetchJSON(ctx, rawURL, query)
	if err != nil {
		return nil, outcome, err
	}
	if outcome == OutcomeEmpty {
		return data, outcome, nil
	}

	// An empty list sometimes arrives as a bare error object with code 802
	// and status 200, or as an empty response body.
	if hasModifiedSince(query) && s.isEmptyListError(data) {
		return oparl.EmptyPage(), OutcomeEmpty, nil
	}

	if data.Deleted() && data.Type() == "" {
		data["type"] = oparl.SchemaPrefix + typeFromURL(rawURL)
	}

	// Instead of the body list, there is only a single body.
	if strings.HasSuffix(rawURL, "/body") && data.ID() != "" {
		data = oparl.Object{
			"data":       []any{map[string]any(data)},
			"links":      map[string]any{},
			"pagination": map[string]any{},
		}
	}

	if strings.Contains(rawURL, "/body") {
		s.fixBodyResponse(rawURL, data)
	}
	if strings.Contains(rawURL, "/person") {
		// Location in Person must be a url, not an object.
		if loc, ok := data.Object("location"); ok {
			data["location"] = loc.ID()
		}
	}
	if strings.Contains(rawURL, "/meeting") {
		if loc, ok := data.Object("location"); ok {
			loc["type"] = oparl.SchemaPrefix + oparl.TypeLocation
		}
	}

	if page, ok := data["data"].([]any); ok {
		for _, e := range page {
			if m, ok := e.(map[string]any); ok {
				s.visitObject(oparl.Object(m))
			}
		}
	} else {
		s.visitObject(data)
	}
	return data, OutcomeOK, nil
}

// FetchFile retries a 404 whose path repeats the extension (foo.x.x) with a
// .pdf suffix; the service mangles filenames that contain dots.
func (s *sternberg) FetchFile(ctx context.Context, rawURL string) ([]byte, string, error) {
	content, contentType, err := s.base.FetchFile(ctx, rawURL)
	if err != nil && IsNotFound(err) {
		parts := strings.Split(rawURL, ".")
		if len(parts) > 2 && parts[len(parts)-2] == parts[len(parts)-1] {
			retry := strings.Join(parts[:len(parts)-1], ".") + ".pdf"
			s.logger.Info("retrying mangled file url", "url", rawURL, "retry", retry)
			return s.base.FetchFile(ctx, retry)
		}
	}
	return content, contentType, err
}

func (s *sternberg) visitObject(obj oparl.Object) {
	switch obj.TypeName() {
	case oparl.TypeFile:
		for _, key := range []string{"accessUrl", "downloadUrl"} {
			if v := obj.String(key); v != "" {
				obj[key] = strings.ReplaceAll(v, "files//rim", "files/rim")
			}
		}
	case oparl.TypeBody:
		// A missing leading zero in the municipality key.
		if ags := obj.String("ags"); len(ags) == 7 {
			obj["ags"] = "0" + ags
		}
	}
}

func (s *sternberg) fixBodyResponse(rawURL string, data oparl.Object) {
	if page, ok := data["data"].([]any); ok {
		kept := make([]any, 0, len(page))
		for _, e := range page {
			m, ok := e.(map[string]any)
			if !ok {
				kept = append(kept, e)
				continue
			}
			entry := oparl.Object(m)
			// Deleted entries without a type show up in unfiltered lists.
			if entry.Deleted() && entry.Type() == "" {
				continue
			}
			if loc, ok := entry.Object("location"); ok {
				loc["type"] = oparl.SchemaPrefix + oparl.TypeLocation
			}
			if strings.Contains(rawURL, "/organization") && entry.ID() != "" && entry.Type() == "" {
				entry["type"] = oparl.SchemaPrefix + oparl.TypeOrganization
			}
			kept = append(kept, e)
		}
		data["data"] = kept
		return
	}
	if loc, ok := data.Object("location"); ok {
		loc["type"] = oparl.SchemaPrefix + oparl.TypeLocation
	}
}

func (s *sternberg) isEmptyListError(data oparl.Object) bool {
	if code := data.Int("code"); code == 802 {
		return true
	}
	// An empty object decoded from an empty or "[]" body.
	return len(data) == 0
}

// typeFromURL guesses the schema type from the second to last path segment,
// e.g. ".../papers/123" -> "Papers" -> "Paper".
func typeFromURL(rawURL string) string {
	parts := strings.Split(strings.TrimSuffix(rawURL, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	segment := strings.TrimSuffix(parts[len(parts)-2], "s")
	if segment == "" {
		return ""
	}
	return strings.ToUpper(segment[:1]) + segment[1:]
}
