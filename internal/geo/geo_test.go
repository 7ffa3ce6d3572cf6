package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/entity"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, Normalize("Hauptstraße"), Normalize("Hauptstr."))
	assert.Equal(t, Normalize("Tel-Aviv-Straße"), Normalize("Tel-Aviv-Strasse"))
	assert.Equal(t, Normalize("Straßen"), Normalize("Straße"))
	assert.NotEqual(t, Normalize("Ankerstraße"), Normalize("Severinstraße"))
}

func TestExtractAddresses(t *testing.T) {
	addrs := ExtractAddresses("Die Sitzung findet in der Karlstraße 7, 76133 Karlsruhe statt.")
	require.NotEmpty(t, addrs)

	var match *Address
	for i := range addrs {
		if addrs[i].HouseNumber == "7" {
			match = &addrs[i]
		}
	}
	require.NotNil(t, match)
	assert.Contains(t, match.Street, "Karlstraße")
	assert.Equal(t, "76133", match.Postcode)
	assert.Equal(t, "Karlsruhe", match.City)
}

func TestExtractorFindsKnownStreets(t *testing.T) {
	e := NewExtractor(
		[]string{"Tel-Aviv-Straße", "Ankerstraße", "Severinstraße"},
		[]string{"Rathaus Spanischer Bau"},
	)

	text := "Anbau an der Tel-Aviv-Straße 12 sowie Umbau der Ankerstraße,\n" +
		"vorgestellt im Rathaus Spanischer Bau. Der Wolfsweg ist nicht betroffen."
	found := e.Extract(text)

	descs := make([]string, len(found))
	for i, f := range found {
		descs[i] = f.Desc()
	}
	assert.Contains(t, descs, "Tel-Aviv-Straße 12")
	assert.Contains(t, descs, "Tel-Aviv-Straße")
	assert.Contains(t, descs, "Ankerstraße")
	assert.Contains(t, descs, "Rathaus Spanischer Bau")
	assert.NotContains(t, descs, "Wolfsweg")
}

func TestExtractDeduplicates(t *testing.T) {
	e := NewExtractor([]string{"Ankerstraße"}, nil)
	found := e.Extract("Ankerstraße und nochmal Ankerstraße.")
	assert.Len(t, found, 1)
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "Marienplatz 1, 80331 München, Deutschland",
		BuildQuery("Marienplatz 1", "80331", "München", "", "Deutschland"))
	assert.Equal(t, "Marienplatz 1, München, Deutschland",
		BuildQuery("Marienplatz 1", "80331", "", "München", "Deutschland"),
		"the body's city fills in when the address names none")
}

func TestNominatimGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Tel-Aviv-Straße 12, Köln, Deutschland", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode([]map[string]string{
			{"lat": "50.9301069", "lon": "6.955077"},
		})
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "test")
	g, err := n.Geocode(context.Background(), "Tel-Aviv-Straße 12, Köln, Deutschland")
	require.NoError(t, err)
	require.NotNil(t, g)

	var point struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(g, &point))
	assert.Equal(t, "Point", point.Type)
	assert.InDelta(t, 6.955077, point.Coordinates[0], 1e-6)
	assert.InDelta(t, 50.9301069, point.Coordinates[1], 1e-6)
}

func TestNominatimGeocodeMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "test")
	g, err := n.Geocode(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Nil(t, g)
}

type countingGeocoder struct {
	calls int
	point entity.Geometry
}

func (c *countingGeocoder) Geocode(ctx context.Context, query string) (entity.Geometry, error) {
	c.calls++
	return c.point, nil
}

func TestCachedGeocoder(t *testing.T) {
	inner := &countingGeocoder{point: entity.Point(50.94, 6.95)}
	cached, err := NewCached(inner, 16)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cached.Geocode(context.Background(), "Domkloster 4, Köln, Deutschland")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	// Misses are remembered as well.
	inner.point = nil
	for i := 0; i < 3; i++ {
		g, err := cached.Geocode(context.Background(), "Atlantis")
		require.NoError(t, err)
		assert.Nil(t, g)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestAdminQueryLevels(t *testing.T) {
	assert.Contains(t, adminQuery(outlineQueryTemplate, "05315000"), `"^05315"`)
	assert.Contains(t, adminQuery(outlineQueryTemplate, "05315000"), "admin_level=6")
	assert.Contains(t, adminQuery(outlineQueryTemplate, "09184119"), "admin_level=8")
	assert.Contains(t, adminQuery(outlineQueryTemplate, "09162"), "admin_level=6")
}

func TestAmenityQuery(t *testing.T) {
	q := amenityQuery("09184119", "school")
	assert.Contains(t, q, "admin_level=8")
	assert.Contains(t, q, "[amenity=school]")
	assert.Contains(t, amenityQuery("09162", "hospital"), "admin_level=6")
}
