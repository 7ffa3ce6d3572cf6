package loader

import (
	"context"
	"net/url"

	"ratsmirror/internal/oparl"
)

// ccEgov strips placeholder values ("N/A", whitespace-only strings) the
// CC e-gov service emits, and wraps auxiliaryFile objects that should have
// been arrays. Repeated 500s are already absorbed by the base retry loop.
type ccEgov struct {
	*base
}

func (c *ccEgov) ProfileName() string { return "cc-egov" }

func (c *ccEgov) FetchJSON(ctx context.Context, rawURL string, query url.Values) (oparl.Object, Outcome, error) {
	data, outcome, err := c.base.FetchJSON(ctx, rawURL, query)
	if err != nil || outcome == OutcomeEmpty {
		return data, outcome, err
	}
	c.visit(data)
	return data, OutcomeOK, nil
}

func (c *ccEgov) visit(data oparl.Object) {
	if aux, ok := data["auxiliaryFile"].(map[string]any); ok {
		c.logger.Warn("auxiliaryFile is an object instead of an array", "id", data.ID())
		data["auxiliaryFile"] = []any{aux}
	}
	for key, value := range data {
		switch v := value.(type) {
		case map[string]any:
			c.visit(oparl.Object(v))
		case []any:
			for _, e := range v {
				if m, ok := e.(map[string]any); ok {
					c.visit(oparl.Object(m))
				}
			}
		case string:
			if v == "N/A" || isBlank(v) {
				delete(data, key)
			}
		}
	}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
