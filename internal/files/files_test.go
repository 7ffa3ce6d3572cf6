package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/store"
)

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML("text/html; charset=utf-8", nil))
	assert.True(t, LooksLikeHTML("application/pdf",
		[]byte("<!DOCTYPE html><html><head><title>Anmeldung</title></head></html>")))
	assert.True(t, LooksLikeHTML("",
		[]byte("<html><body><script>window.location='/login'</script></body></html>")))
	assert.False(t, LooksLikeHTML("application/pdf", []byte("%PDF-1.5\n\xe2\xe3\xcf\xd3")))
	assert.False(t, LooksLikeHTML("text/plain", []byte("Niederschrift der Sitzung")))
}

func TestExtractTextPlain(t *testing.T) {
	text, pages, err := ExtractText([]byte("Beschluss: einstimmig"), "text/plain")
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, "Beschluss: einstimmig", *text)
	assert.Nil(t, pages)
}

func TestExtractTextUnknownType(t *testing.T) {
	text, pages, err := ExtractText([]byte{0x50, 0x4b, 0x03, 0x04}, "application/zip")
	require.NoError(t, err)
	assert.Nil(t, text)
	assert.Nil(t, pages)
}

func TestExtractTextBrokenPDF(t *testing.T) {
	_, _, err := ExtractText([]byte("%PDF-1.5 definitely not a pdf"), "application/pdf")
	assert.Error(t, err)
}

func testPersons() []store.PersonName {
	return []store.PersonName{
		{ID: 1, Name: "Frank Underwood", GivenName: "Frank", FamilyName: "Underwood"},
		{ID: 4, Name: "Doug Stamper", GivenName: "Doug", FamilyName: "Stamper"},
		{ID: 7, Name: "Will Conway", GivenName: "Will", FamilyName: "Conway"},
	}
}

func TestPersonMatcher(t *testing.T) {
	m := NewPersonMatcher(testPersons())

	text := "A text \nabout Frank Underwood, Stamper, Doug, and a \nmisspelled WillConway."
	ids := m.Match(text)
	assert.Contains(t, ids, int64(1))
	assert.Contains(t, ids, int64(4))
	assert.NotContains(t, ids, int64(7))
}

func TestPersonMatcherFormalName(t *testing.T) {
	m := NewPersonMatcher(testPersons())

	ids := m.Match(`Also the more formal name, "Underwood, Frank" should be found.`)
	assert.Equal(t, []int64{1}, ids)
}

func TestPersonMatcherWordBoundaries(t *testing.T) {
	m := NewPersonMatcher(testPersons())

	ids := m.Match("We should check word boundaries like Doug Stampering something.")
	assert.Empty(t, ids)
}

func TestPersonMatcherAcrossLineBreak(t *testing.T) {
	m := NewPersonMatcher(testPersons())

	ids := m.Match("Es berichtet Frank\nUnderwood.")
	assert.Equal(t, []int64{1}, ids)
}

func TestPersonMatcherIgnoresCase(t *testing.T) {
	m := NewPersonMatcher(testPersons())

	ids := m.Match("Anwesend: FRANK UNDERWOOD, DOUG STAMPER")
	assert.Contains(t, ids, int64(1))
	assert.Contains(t, ids, int64(4))
}

func TestPersonMatcherNonASCIIBoundary(t *testing.T) {
	m := NewPersonMatcher([]store.PersonName{
		{ID: 2, Name: "Claudia Groß", GivenName: "Claudia", FamilyName: "Groß"},
	})

	assert.Equal(t, []int64{2}, m.Match("Frau Claudia Groß eröffnet die Sitzung."))
	assert.Equal(t, []int64{2}, m.Match("TOP 3 (Groß, Claudia)"))
	assert.Empty(t, m.Match("Herr Claudia Großmann fehlt."))
}
