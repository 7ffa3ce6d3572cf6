package externalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/oparl"
)

func TestExternalizeEmbeddedLocation(t *testing.T) {
	organization := oparl.Object{
		"id":   "https://ratsinfo.leipzig.de/bi/oparl/1.0/organizations.asp?typ=gr&id=2286",
		"type": "https://schema.oparl.org/1.0/Organization",
		"name": "Beirat für Psychiatrie",
		"membership": []any{
			"https://ratsinfo.leipzig.de/bi/oparl/1.0/memberships.asp?typ=mg&id=1414",
		},
		"location": map[string]any{
			"id":          "https://ratsinfo.leipzig.de/bi/oparl/1.0/locations.asp?id=32286",
			"type":        "https://schema.oparl.org/1.0/Location",
			"description": "Friedrich-Ebert-Str. 19a, 04109 Leipzig",
		},
	}

	res := Externalize(organization, nil)
	require.Len(t, res.Objects, 2)

	location, parent := res.Objects[0], res.Objects[1]
	assert.Equal(t, "Location", location.Type)
	assert.Equal(t, "Organization", parent.Type)
	// The parent keeps only the reference.
	assert.Equal(t, location.URL, parent.Data["location"])
	// The child knows where it came from.
	assert.Equal(t, parent.URL, location.Data[oparl.KeyBackref])
	assert.Contains(t, res.Keys, "location")
}

func TestExternalizeArrayRecordsPosition(t *testing.T) {
	meeting := oparl.Object{
		"id":   "https://example.org/meeting/1",
		"type": "https://schema.oparl.org/1.1/Meeting",
		"agendaItem": []any{
			map[string]any{"id": "https://example.org/agendaitem/1", "type": "https://schema.oparl.org/1.1/AgendaItem"},
			map[string]any{"id": "https://example.org/agendaitem/2", "type": "https://schema.oparl.org/1.1/AgendaItem"},
		},
	}

	res := Externalize(meeting, nil)
	require.Len(t, res.Objects, 3)
	assert.Equal(t, 0, res.Objects[0].Data.Int(oparl.KeyBackrefPosition))
	assert.Equal(t, 1, res.Objects[1].Data.Int(oparl.KeyBackrefPosition))
	assert.Equal(t, []any{"https://example.org/agendaitem/1", "https://example.org/agendaitem/2"},
		res.Objects[2].Data["agendaItem"])
}

func TestExternalizeDropsEmbedWithoutID(t *testing.T) {
	// Seen in the wild: an inline location without an id.
	meeting := oparl.Object{
		"id":       "http://buergerinfo.ulm.de/oparl/bodies/0001/meetings/11445",
		"type":     "https://schema.oparl.org/1.1/Meeting",
		"name":     "Klausurtagung des Gemeinderats",
		"location": map[string]any{"description": "Ulm-Messe,"},
		"organization": []any{
			"http://buergerinfo.ulm.de/oparl/bodies/0001/organizations/gr/1",
		},
	}

	res := Externalize(meeting, nil)
	require.Len(t, res.Objects, 1)
	out := res.Objects[0].Data
	_, hasLocation := out["location"]
	assert.False(t, hasLocation)
	assert.Equal(t, meeting["organization"], out["organization"])
	assert.Equal(t, meeting["name"], out["name"])
}

func TestExternalizeKeepsGeojsonOpaque(t *testing.T) {
	location := oparl.Object{
		"id":   "https://example.org/location/1",
		"type": "https://schema.oparl.org/1.0/Location",
		"geojson": map[string]any{
			"geometry": map[string]any{"type": "Point", "coordinates": []any{9.99, 53.55}},
		},
	}

	res := Externalize(location, nil)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, location["geojson"], res.Objects[0].Data["geojson"])
}

// Round trip: substituting each reference with its externalized object must
// reassemble the input, modulo the synthetic backref keys.
func TestExternalizeRoundTrip(t *testing.T) {
	paper := oparl.Object{
		"id":        "https://example.org/paper/1",
		"type":      "https://schema.oparl.org/1.1/Paper",
		"name":      "Antrag",
		"reference": "VII-123",
		"consultation": []any{
			map[string]any{
				"id":      "https://example.org/consultation/1",
				"type":    "https://schema.oparl.org/1.1/Consultation",
				"meeting": "https://example.org/meeting/1",
			},
		},
	}

	res := Externalize(paper, nil)
	byURL := map[string]oparl.Object{}
	for _, obj := range res.Objects {
		byURL[obj.URL] = obj.Data
	}

	root := byURL["https://example.org/paper/1"]
	rebuilt := root.Clone()
	list := rebuilt["consultation"].([]any)
	resolved := make([]any, len(list))
	for i, ref := range list {
		child := byURL[ref.(string)].Clone()
		delete(child, oparl.KeyBackref)
		delete(child, oparl.KeyBackrefPosition)
		resolved[i] = map[string]any(child)
	}
	rebuilt["consultation"] = resolved
	assert.Equal(t, paper, rebuilt)
}
