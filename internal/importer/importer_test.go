package importer

import (
	"context"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/loader"
	"ratsmirror/internal/oparl"
	"ratsmirror/internal/store"
)

type fakeClient struct {
	system    oparl.Object
	responses map[string]oparl.Object
	fetched   []string
}

func (f *fakeClient) FetchJSON(_ context.Context, rawURL string, _ url.Values) (oparl.Object, loader.Outcome, error) {
	f.fetched = append(f.fetched, rawURL)
	obj, ok := f.responses[rawURL]
	if !ok {
		return nil, loader.OutcomeError, &loader.HTTPError{Status: 404, URL: rawURL}
	}
	return obj, loader.OutcomeOK, nil
}

func (f *fakeClient) FetchFile(context.Context, string) ([]byte, string, error) {
	return nil, "", nil
}

func (f *fakeClient) System() oparl.Object { return f.system }
func (f *fakeClient) ProfileName() string  { return "fake" }

func body(id string) oparl.Object {
	return oparl.Object{"id": id, "type": oparl.SchemaPrefix + "Body", "name": "Body " + id}
}

func pagedBodies() *fakeClient {
	return &fakeClient{
		system: oparl.Object{
			"id":   "https://ris.example.org/system",
			"type": oparl.SchemaPrefix + "System",
			"body": "https://ris.example.org/bodies",
		},
		responses: map[string]oparl.Object{
			"https://ris.example.org/bodies": {
				"data":  []any{map[string]any(body("https://ris.example.org/body/1"))},
				"links": map[string]any{"next": "https://ris.example.org/bodies?page=2"},
			},
			"https://ris.example.org/bodies?page=2": {
				"data": []any{map[string]any(body("https://ris.example.org/body/2"))},
			},
		},
	}
}

func testImporter() *Importer {
	return &Importer{logger: slog.Default()}
}

func TestSelectBodyDefaultsToFirst(t *testing.T) {
	im := testImporter()
	client := pagedBodies()

	got, err := im.selectBody(context.Background(), client, "")
	require.NoError(t, err)
	assert.Equal(t, "https://ris.example.org/body/1", got.ID())
	// The first page already satisfied the selection.
	assert.Len(t, client.fetched, 1)
}

func TestSelectBodyFollowsPagination(t *testing.T) {
	im := testImporter()
	client := pagedBodies()

	got, err := im.selectBody(context.Background(), client, "https://ris.example.org/body/2")
	require.NoError(t, err)
	assert.Equal(t, "https://ris.example.org/body/2", got.ID())
	assert.Len(t, client.fetched, 2)
}

func TestSelectBodyUnknownTarget(t *testing.T) {
	im := testImporter()

	_, err := im.selectBody(context.Background(), pagedBodies(), "https://ris.example.org/body/99")
	assert.ErrorContains(t, err, "not found")
}

func TestSelectBodyEmptySystem(t *testing.T) {
	im := testImporter()
	client := &fakeClient{system: oparl.Object{"id": "https://ris.example.org/system"}}

	_, err := im.selectBody(context.Background(), client, "")
	assert.ErrorContains(t, err, "no bodies")
}

func TestSelectBodyUnreachable(t *testing.T) {
	im := testImporter()
	client := pagedBodies()
	delete(client.responses, "https://ris.example.org/bodies")

	_, err := im.selectBody(context.Background(), client, "")
	assert.ErrorIs(t, err, ErrRemoteUnreachable)
}

func TestGeocodeMissingNeedsGeocoder(t *testing.T) {
	im := testImporter()
	im.geocodeMissing(context.Background(), store.BodyInfo{ShortName: "Musterstadt"})
}
