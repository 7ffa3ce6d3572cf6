// Package loader fetches OParl JSON and binary files over HTTPS, applies
// per-vendor corrective transforms and archives raw responses in the object
// store cache bucket.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ratsmirror/internal/oparl"
)

// Outcome classifies a list fetch. Empty means the remote signalled "nothing
// here" through a vendor quirk (404 on a modified_since query) and the page
// was synthesized.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeEmpty
	OutcomeError
)

// HTTPError is a non-retryable remote failure.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote returned %d for %s", e.Status, e.URL)
}

// Client fetches JSON documents and file bodies from one upstream service.
type Client interface {
	// FetchJSON performs a GET with the query form-encoded. 5xx and network
	// errors are retried with exponential backoff.
	FetchJSON(ctx context.Context, rawURL string, query url.Values) (oparl.Object, Outcome, error)
	// FetchFile returns the body and the reported content type. Responses
	// are never cached; file bytes belong in the object store.
	FetchFile(ctx context.Context, rawURL string) ([]byte, string, error)
	// System returns the system root document the client was built from.
	System() oparl.Object
	// ProfileName names the active vendor profile.
	ProfileName() string
}

// Cache archives raw JSON responses. Reads miss silently, writes are
// best-effort; failures never fail a fetch.
type Cache interface {
	GetJSON(ctx context.Context, key string) ([]byte, bool)
	PutJSON(ctx context.Context, key string, data []byte) error
}

// Options tune the HTTP behavior of a client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Retries        int
	Backoff        time.Duration
	Cache          Cache
	Logger         *slog.Logger
	// HTTPClient overrides the constructed client, mainly for tests.
	HTTPClient *http.Client
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 300 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout: o.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: o.ConnectTimeout}).DialContext,
			},
		}
	}
}

// base is the profile-free client. Vendor profiles wrap it.
type base struct {
	http    *http.Client
	cache   Cache
	logger  *slog.Logger
	retries int
	backoff time.Duration
	system  oparl.Object
}

func newBase(system oparl.Object, opts Options) *base {
	opts.fill()
	return &base{
		http:    opts.HTTPClient,
		cache:   opts.Cache,
		logger:  opts.Logger,
		retries: opts.Retries,
		backoff: opts.Backoff,
		system:  system,
	}
}

func (b *base) System() oparl.Object { return b.system }
func (b *base) ProfileName() string  { return "default" }

func (b *base) FetchJSON(ctx context.Context, rawURL string, query url.Values) (oparl.Object, Outcome, error) {
	body, status, err := b.get(ctx, withQuery(rawURL, query))
	if err != nil {
		if status == http.StatusNotFound && query.Has("modified_since") {
			// Remotes are permitted to 404 instead of returning an empty
			// list page.
			return oparl.EmptyPage(), OutcomeEmpty, nil
		}
		archived, ok := b.archived(ctx, rawURL, query, status)
		if !ok {
			return nil, OutcomeError, err
		}
		body = archived
	}
	data, wasList, err := decodeObject(body)
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	if wasList {
		// A bare array where an object was expected. With modified_since it
		// stands in for an empty page, otherwise the first element wins.
		if query.Has("modified_since") && len(data) == 0 {
			return oparl.EmptyPage(), OutcomeEmpty, nil
		}
		b.logger.Warn("array response where an object was expected", "url", rawURL)
	}
	b.checkID(rawURL, data)
	b.archive(ctx, rawURL, body)
	return data, OutcomeOK, nil
}

func (b *base) FetchFile(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, b.backoff<<(attempt-1)); err != nil {
				return nil, "", err
			}
		}
		resp, err := b.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		content, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = &HTTPError{Status: resp.StatusCode, URL: rawURL}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, "", &HTTPError{Status: resp.StatusCode, URL: rawURL}
		}
		return content, scrubContentType(resp.Header.Get("Content-Type")), nil
	}
	return nil, "", fmt.Errorf("giving up on %s after %d attempts: %w", rawURL, b.retries+1, lastErr)
}

// get runs the retry loop and returns the body. For 4xx the status is
// returned alongside the error so profiles can react to specific codes.
func (b *base) get(ctx context.Context, fullURL string) ([]byte, int, error) {
	var lastErr error
	lastStatus := 0
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, b.backoff<<(attempt-1)); err != nil {
				return nil, lastStatus, err
			}
			b.logger.Debug("retrying request", "url", fullURL, "attempt", attempt)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, 0, err
		}
		resp, err := b.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = &HTTPError{Status: resp.StatusCode, URL: fullURL}
			lastStatus = resp.StatusCode
			continue
		}
		if resp.StatusCode >= 400 {
			return body, resp.StatusCode, &HTTPError{Status: resp.StatusCode, URL: fullURL}
		}
		return body, resp.StatusCode, nil
	}
	return nil, lastStatus, fmt.Errorf("giving up on %s after %d attempts: %w", fullURL, b.retries+1, lastErr)
}

func (b *base) checkID(rawURL string, data oparl.Object) {
	if id := data.ID(); id != "" && id != rawURL {
		b.logger.Warn("mismatch between url and id", "url", rawURL, "id", id)
	}
}

// archived falls back to the stored copy of an earlier response when the
// remote is down. Permanent 4xx answers never fall back; the remote said
// the object is gone. Parameterized requests are cached under the bare
// url, so they never fall back either.
func (b *base) archived(ctx context.Context, rawURL string, query url.Values, status int) ([]byte, bool) {
	if b.cache == nil || len(query) > 0 {
		return nil, false
	}
	if status >= 400 && status < 500 {
		return nil, false
	}
	data, ok := b.cache.GetJSON(ctx, rawURL)
	if ok {
		b.logger.Warn("remote unavailable, serving archived response", "url", rawURL)
	}
	return data, ok
}

func (b *base) archive(ctx context.Context, rawURL string, body []byte) {
	if b.cache == nil {
		return
	}
	if err := b.cache.PutJSON(ctx, rawURL, body); err != nil {
		b.logger.Debug("response cache write failed", "url", rawURL, "error", err)
	}
}

func decodeObject(body []byte) (oparl.Object, bool, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, err
	}
	switch v := raw.(type) {
	case map[string]any:
		return oparl.Object(v), false, nil
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				return oparl.Object(m), true, nil
			}
		}
		return oparl.Object{}, true, nil
	case nil:
		// json() can actually return null.
		return oparl.Object{}, false, nil
	}
	return nil, false, fmt.Errorf("unexpected JSON kind %T", raw)
}

func withQuery(rawURL string, query url.Values) string {
	if len(query) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query.Encode()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// IsPermanent reports whether err is a non-retryable 4xx.
func IsPermanent(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status >= 400 && he.Status < 500
}

func scrubContentType(contentType string) string {
	// A known broken value some mirrors emit.
	if contentType == "application/octetstream; charset=UTF-8" {
		return ""
	}
	return contentType
}
