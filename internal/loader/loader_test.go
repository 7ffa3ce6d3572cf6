package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/oparl"
)

func testOptions() Options {
	return Options{Retries: 2, Backoff: time.Millisecond}
}

func TestFetchJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id": "` + "http://" + r.Host + `/system", "type": "https://schema.oparl.org/1.0/System"}`))
	}))
	defer srv.Close()

	c := newBase(nil, testOptions())
	data, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/system", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "System", data.TypeName())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchJSONPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newBase(nil, testOptions())
	_, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/paper", nil)
	assert.Equal(t, OutcomeError, outcome)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsNotFound(err))
}

func TestFetchJSONModifiedSince404YieldsEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "Die angeforderte Ressource wurde nicht gefunden.", "code": 802}`))
	}))
	defer srv.Close()

	c := newBase(nil, testOptions())
	query := url.Values{"modified_since": {"2023-01-01T00:00:00Z"}}
	data, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/papers", query)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmpty, outcome)
	page := oparl.ParsePage(data)
	assert.Empty(t, page.Data)
}

type mapCache map[string][]byte

func (c mapCache) GetJSON(_ context.Context, key string) ([]byte, bool) {
	data, ok := c[key]
	return data, ok
}

func (c mapCache) PutJSON(_ context.Context, key string, data []byte) error {
	c[key] = data
	return nil
}

func TestFetchJSONArchivesResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "http://` + r.Host + `/paper/1", "type": "https://schema.oparl.org/1.0/Paper"}`))
	}))
	defer srv.Close()

	cache := mapCache{}
	opts := testOptions()
	opts.Cache = cache
	c := newBase(nil, opts)
	_, _, err := c.FetchJSON(context.Background(), srv.URL+"/paper/1", nil)
	require.NoError(t, err)
	assert.Contains(t, cache, srv.URL+"/paper/1")
}

func TestFetchJSONFallsBackToArchiveOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := mapCache{
		srv.URL + "/paper/1": []byte(`{"id": "` + srv.URL + `/paper/1", "type": "https://schema.oparl.org/1.0/Paper"}`),
	}
	opts := testOptions()
	opts.Cache = cache
	c := newBase(nil, opts)

	data, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/paper/1", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "Paper", data.TypeName())

	// An url without an archived copy still surfaces the failure.
	_, outcome, err = c.FetchJSON(context.Background(), srv.URL+"/paper/2", nil)
	assert.Equal(t, OutcomeError, outcome)
	require.Error(t, err)
}

func TestSternbergWrapsBareBodyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "http://` + r.Host + `/body", "type": "https://schema.oparl.org/1.0/Body", "ags": "5316000"}`))
	}))
	defer srv.Close()

	c := &sternberg{base: newBase(nil, testOptions())}
	data, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/body", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	page := oparl.ParsePage(data)
	require.Len(t, page.Data, 1)
	// The 7-digit municipality key gains its leading zero.
	assert.Equal(t, "05316000", page.Data[0].String("ags"))
}

func TestSternbergFixesFileURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "http://` + r.Host + `/file/1",
			"type": "https://schema.oparl.org/1.0/File",
			"accessUrl": "https://example.org/files//rim/doc.pdf"
		}`))
	}))
	defer srv.Close()

	c := &sternberg{base: newBase(nil, testOptions())}
	data, _, err := c.FetchJSON(context.Background(), srv.URL+"/file/1", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/files/rim/doc.pdf", data.String("accessUrl"))
}

func TestSternbergFileRetryWithPdfSuffix(t *testing.T) {
	var pdfHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/files/doc.x.x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/files/doc.x.pdf", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pdfHits, 1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &sternberg{base: newBase(nil, testOptions())}
	content, mime, err := c.FetchFile(context.Background(), srv.URL+"/files/doc.x.x")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, []byte("%PDF-1.4"), content)
	assert.EqualValues(t, 1, atomic.LoadInt32(&pdfHits))
}

func TestCCEgovStripsPlaceholders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "http://` + r.Host + `/meeting/1",
			"type": "https://schema.oparl.org/1.1/Meeting",
			"name": "Sitzung",
			"room": "N/A",
			"streetAddress": "  ",
			"auxiliaryFile": {"id": "http://example.org/file/1", "type": "https://schema.oparl.org/1.1/File"}
		}`))
	}))
	defer srv.Close()

	c := &ccEgov{base: newBase(nil, testOptions())}
	data, _, err := c.FetchJSON(context.Background(), srv.URL+"/meeting/1", nil)
	require.NoError(t, err)
	_, hasRoom := data["room"]
	_, hasStreet := data["streetAddress"]
	assert.False(t, hasRoom)
	assert.False(t, hasStreet)
	aux, ok := data["auxiliaryFile"].([]any)
	require.True(t, ok)
	assert.Len(t, aux, 1)
}

func TestSomacosQueryEncoding(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"data": [], "links": {}}`))
	}))
	defer srv.Close()

	c := &somacos{base: newBase(nil, testOptions())}
	query := url.Values{"modified_since": {"2023-01-01T00:00:00+01:00"}}
	_, outcome, err := c.FetchJSON(context.Background(), srv.URL+"/papers", query)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, "modified_since=2023-01-01T00%3A00%3A00%2B01%3A00", gotQuery)
}

func TestForSystemSelectsProfile(t *testing.T) {
	cases := []struct {
		name    string
		system  oparl.Object
		profile string
	}{
		{"sternberg", oparl.Object{"contactName": sternbergContact}, "sternberg"},
		{"ccegov", oparl.Object{"vendor": "https://www.cc-egov.de"}, "cc-egov"},
		{"somacos", oparl.Object{"vendor": "http://www.somacos.de"}, "somacos"},
		{"default", oparl.Object{"vendor": "https://example.org"}, "default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := ForSystem(tc.system, testOptions())
			assert.Equal(t, tc.profile, c.ProfileName())
		})
	}
}
