package resolver

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/entity"
	"ratsmirror/internal/oparl"
)

func testResolver() *Resolver {
	return &Resolver{
		logger:          slog.Default(),
		opts:            Options{CityAffixes: defaultCityAffixes, SearchSuffix: "Deutschland"},
		defaultBodyName: "Musterstadt",
	}
}

func TestNormalizeAGS(t *testing.T) {
	for in, want := range map[string]string{
		"05315000":     "05315000",
		"05 315 000":   "05315000",
		"05315000000":  "05315000",
		"0531500 0000": "05315000",
	} {
		got, err := normalizeAGS(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := normalizeAGS("05315000123")
	assert.Error(t, err)
}

func TestStripCityAffix(t *testing.T) {
	r := testResolver()
	assert.Equal(t, "Leipzig", r.stripCityAffix("Stadt Leipzig"))
	assert.Equal(t, "München", r.stripCityAffix("Landeshauptstadt  München"))
	assert.Equal(t, "Karlsruhe", r.stripCityAffix("Karlsruhe"))
	// Only a leading affix counts.
	assert.Equal(t, "Neustadt", r.stripCityAffix("Neustadt"))
}

func TestPersonNames(t *testing.T) {
	name, given, family := personNames(oparl.Object{
		"name": "Max Mustermann", "givenName": "Max", "familyName": "Mustermann",
	})
	assert.Equal(t, "Max Mustermann", name)
	assert.Equal(t, "Max", given)
	assert.Equal(t, "Mustermann", family)

	_, given, family = personNames(oparl.Object{"name": "Max Mustermann"})
	assert.Equal(t, "Max", given)
	assert.Equal(t, "Mustermann", family)

	_, given, family = personNames(oparl.Object{"name": "Frau Dr. Erika Mustermann"})
	assert.Equal(t, "Erika", given)
	assert.Equal(t, "Mustermann", family)

	_, given, family = personNames(oparl.Object{"name": "Mustermann"})
	assert.Equal(t, "Unknown", given)
	assert.Equal(t, "Mustermann", family)

	_, given, family = personNames(oparl.Object{})
	assert.Equal(t, "Unknown", given)
	assert.Equal(t, "Unknown", family)
}

func TestClassifyOrganization(t *testing.T) {
	assert.Equal(t, entity.OrgTypeParliamentaryGroup, classifyOrganization("Fraktion"))
	assert.Equal(t, entity.OrgTypeCommittee, classifyOrganization("Gremium"))
	assert.Equal(t, entity.OrgTypeDepartment, classifyOrganization("Referat"))
	assert.Equal(t, entity.OrgTypeOther, classifyOrganization("Sonstiges"))
	assert.Equal(t, entity.OrgTypeOther, classifyOrganization(""))
}

func TestStripOrganizationType(t *testing.T) {
	assert.Equal(t, "CSU", stripOrganizationType("CSU-Fraktion", "Fraktion"))
	assert.Equal(t, "CSU", stripOrganizationType("CSU Fraktion", "Fraktion"))
	assert.Equal(t, "Hauptausschuss", stripOrganizationType("Hauptausschuss", "Gremium"))
	// Stripping must not produce an empty short name.
	assert.Equal(t, "Fraktion", stripOrganizationType("Fraktion", "Fraktion"))
	assert.Equal(t, "Stadtrat", stripOrganizationType("Stadtrat", ""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "beschlussvorlage-strassenbau", slugify("Beschlussvorlage Straßenbau"))
	assert.Equal(t, "tagesordnung-2024", slugify("Tagesordnung (2024)"))
	assert.Equal(t, "aenderungsantrag", slugify("Änderungsantrag"))
}

func TestBuildFilename(t *testing.T) {
	// An explicit file name wins.
	assert.Equal(t, "vorlage.pdf", buildFilename(oparl.Object{
		"fileName": "vorlage.pdf", "name": "Vorlage",
	}))

	// Derived from the display name plus the mime extension.
	assert.Equal(t, "einladung.pdf", buildFilename(oparl.Object{
		"name": "Einladung", "mimeType": "application/pdf",
	}))

	// Long names are cut so the extension survives.
	long := buildFilename(oparl.Object{
		"name":     stringOfLen(300),
		"mimeType": "application/pdf",
	})
	assert.Len(t, long, filenameCutoff)
	assert.Equal(t, ".pdf", long[len(long)-4:])

	// Last resort is the url.
	assert.Equal(t, "dokument-12-pdf", buildFilename(oparl.Object{
		"accessUrl": "https://ris.example.org/files/Dokument-12.pdf",
	}))
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestFileSortDate(t *testing.T) {
	legal := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, legal, fileSortDate(&legal, &created))
	assert.Equal(t, created, fileSortDate(nil, &created))
	assert.Equal(t, fallbackDate, fileSortDate(nil, nil),
		"a dateless file must sort the same on every import")
}

func TestEdgeTables(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"paper_file", "paper_organization", "paper_person"},
		EdgeTables(oparl.TypePaper))
	assert.Empty(t, EdgeTables(oparl.TypeLocation))
}

func TestGeojsonGeometry(t *testing.T) {
	geom := geojsonGeometry(oparl.Object{
		"geojson": map[string]any{
			"type": "Feature",
			"geometry": map[string]any{
				"type":        "Point",
				"coordinates": []any{6.96, 50.94},
			},
		},
	})
	require.NotNil(t, geom)
	assert.Equal(t, "Point", geometryType(geom))

	// A bare geometry without the feature envelope.
	geom = geojsonGeometry(oparl.Object{
		"geojson": map[string]any{
			"type":        "Polygon",
			"coordinates": []any{},
		},
	})
	require.NotNil(t, geom)
	assert.Equal(t, "Polygon", geometryType(geom))

	assert.Nil(t, geojsonGeometry(oparl.Object{}))
	assert.Equal(t, "", geometryType(nil))
}

func TestConvertFile(t *testing.T) {
	r := testResolver()
	c, err := r.Convert(context.Background(), oparl.Object{
		"id":          "https://ris.example.org/file/1",
		"type":        oparl.SchemaPrefix + "File",
		"name":        "Niederschrift",
		"fileName":    "niederschrift.pdf",
		"mimeType":    "application/pdf",
		"date":        "2024-05-02",
		"accessUrl":   "https://ris.example.org/file/1/download",
		"fileLicense": "CC-BY-4.0",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.TableFile, c.Table)
	require.Len(t, c.Row, len(c.Fields))
	assert.Equal(t, "https://ris.example.org/file/1", c.Row[0])
	assert.Equal(t, "Niederschrift", c.Row[1])
	assert.Equal(t, "niederschrift.pdf", c.Row[2])
	assert.Equal(t, "application/pdf", c.Row[3])
	legal := c.Row[4].(*time.Time)
	require.NotNil(t, legal)
	assert.Equal(t, *legal, c.Row[5])
	assert.Equal(t, "CC-BY-4.0", c.Row[6])
}

func TestConvertUnknownType(t *testing.T) {
	r := testResolver()
	_, err := r.Convert(context.Background(), oparl.Object{
		"id":   "https://ris.example.org/x/1",
		"type": oparl.SchemaPrefix + "Wormhole",
	})
	assert.Error(t, err)
}
