package search

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/entity"
	"ratsmirror/internal/store"
)

func TestAnalysisSettingsGerman(t *testing.T) {
	settings := analysisSettings("german")
	analysis := settings["analysis"].(map[string]any)

	filters := analysis["filter"].(map[string]any)
	assert.Contains(t, filters, "autocomplete_filter")
	assert.Equal(t, "_german_", filters["stop"].(map[string]any)["stopwords"])
	assert.Equal(t, "german", filters["stemmer"].(map[string]any)["language"])
	assert.NotContains(t, filters, "english_possessive_stemmer")

	text := analysis["analyzer"].(map[string]any)["text_analyzer"].(map[string]any)
	assert.Equal(t,
		[]string{"keyword_repeat", "lowercase", "stop", "stemmer", "unique_stem"},
		text["filter"])
}

func TestAnalysisSettingsEnglishAddsPossessiveStemmer(t *testing.T) {
	settings := analysisSettings("english")
	analysis := settings["analysis"].(map[string]any)

	filters := analysis["filter"].(map[string]any)
	assert.Contains(t, filters, "english_possessive_stemmer")

	text := analysis["analyzer"].(map[string]any)["text_analyzer"].(map[string]any)
	assert.Equal(t,
		[]string{"keyword_repeat", "english_possessive_stemmer", "lowercase", "stop", "stemmer", "unique_stem"},
		text["filter"])
}

func TestIndexDefinitionsMarshal(t *testing.T) {
	for _, kind := range Kinds {
		_, err := json.Marshal(indexDefinition(kind, "german"))
		require.NoError(t, err, kind)
	}
}

func TestPointFromGeometry(t *testing.T) {
	p, ok := pointFromGeometry(entity.Point(50.94, 6.95))
	require.True(t, ok)
	assert.InDelta(t, 50.94, p.Lat, 1e-9)
	assert.InDelta(t, 6.95, p.Lon, 1e-9)

	_, ok = pointFromGeometry(json.RawMessage(`{"type":"Polygon","coordinates":[]}`))
	assert.False(t, ok)
	_, ok = pointFromGeometry(nil)
	assert.False(t, ok)
}

func TestFileDocument(t *testing.T) {
	now := time.Now()
	text := "Beschlussvorlage zur Sanierung"
	doc := fileDocument(store.FileDoc{
		ID: 3, Name: "Anlage 1", Filename: "anlage-1.pdf",
		Created: now, Modified: now, SortDate: now, ParsedText: &text,
	}, []int64{7, 9}, []json.RawMessage{entity.Point(50.94, 6.95)})

	assert.Equal(t, "Anlage 1", doc.Autocomplete)
	assert.Equal(t, []int64{7, 9}, doc.PersonIDs)
	require.Len(t, doc.Coordinates, 1)
	assert.Equal(t, &text, doc.ParsedText)
}

func TestPaperAutocompleteLeadsWithReference(t *testing.T) {
	doc := paperDocument(store.PaperDoc{
		ID: 1, Name: "Sanierung Rathausplatz", ReferenceNumber: "V/2026/041",
	}, nil, nil)
	assert.Equal(t, "V/2026/041 Sanierung Rathausplatz", doc.Autocomplete)

	doc = paperDocument(store.PaperDoc{ID: 2, Name: "Ohne Kennung"}, nil, nil)
	assert.Equal(t, "Ohne Kennung", doc.Autocomplete)
}

func TestAutocompleteValueNeverEmpty(t *testing.T) {
	assert.Equal(t, " ", autocompleteValue(""))
	doc := personDocument(store.PersonDoc{ID: 1}, nil)
	assert.Equal(t, " ", doc.Autocomplete)
}

func TestMeetingDocumentNestsAgendaItems(t *testing.T) {
	start := time.Date(2026, 5, 12, 17, 0, 0, 0, time.UTC)
	doc := meetingDocument(store.MeetingDoc{
		ID: 4, Name: "Rat", Start: &start,
		Geometry: entity.Point(50.94, 6.95),
	}, []store.AgendaItemRef{
		{MeetingID: 4, Key: "1", Name: "Haushalt", Position: 0, Public: true},
		{MeetingID: 4, Key: "2", Name: "Verschiedenes", Position: 1, Public: true},
	})

	require.NotNil(t, doc.Location)
	require.Len(t, doc.AgendaItems, 2)
	assert.Equal(t, "Haushalt", doc.AgendaItems[0].Title)
	require.NotNil(t, doc.SortDate)
	assert.Equal(t, start, *doc.SortDate)
}
