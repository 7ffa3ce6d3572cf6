package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ratsmirror/internal/entity"
)

// Geocoder resolves a free-form address to a point geometry. A nil
// geometry with a nil error means the address was not found; callers
// should treat that as a soft failure.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (entity.Geometry, error)
}

const geocodeTimeout = 30 * time.Second

// BuildQuery assembles the geocoder query the same way for embedded
// locations and extracted ones: street, then postcode and locality, with
// the body name standing in when the document names no city.
func BuildQuery(streetAddress, postalCode, locality, fallbackCity, country string) string {
	q := streetAddress + ", "
	if locality != "" {
		if postalCode != "" {
			q += postalCode + " " + locality
		} else {
			q += locality
		}
	} else {
		q += fallbackCity
	}
	return q + ", " + country
}

// Nominatim geocodes against a Nominatim instance, by default the public
// OpenStreetMap one. That instance allows at most one request per second,
// so imports throttle themselves.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

func NewNominatim(baseURL, userAgent string) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &Nominatim{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: geocodeTimeout},
	}
}

func (n *Nominatim) Geocode(ctx context.Context, query string) (entity.Geometry, error) {
	endpoint := n.baseURL + "/search?" + url.Values{
		"q":               {query},
		"format":          {"jsonv2"},
		"limit":           {"1"},
		"accept-language": {"de"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode %q: status %d", query, resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(results[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(results[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("geocode %q: malformed coordinates", query)
	}
	return entity.Point(lat, lon), nil
}

// OpenCage geocodes through the OpenCage Data API.
type OpenCage struct {
	key    string
	client *http.Client
}

func NewOpenCage(key string) (*OpenCage, error) {
	if key == "" {
		return nil, errors.New("geo: opencage key is required")
	}
	return &OpenCage{key: key, client: &http.Client{Timeout: geocodeTimeout}}, nil
}

func (o *OpenCage) Geocode(ctx context.Context, query string) (entity.Geometry, error) {
	endpoint := "https://api.opencagedata.com/geocode/v1/json?" + url.Values{
		"q":        {query},
		"key":      {o.key},
		"language": {"de"},
		"limit":    {"1"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode %q: status %d", query, resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Geometry struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if len(parsed.Results) == 0 {
		return nil, nil
	}
	g := parsed.Results[0].Geometry
	return entity.Point(g.Lat, g.Lng), nil
}

// Cached wraps a geocoder with an in-memory LRU. Misses are cached too;
// the same unknown address shows up in many documents of one batch.
type Cached struct {
	inner Geocoder
	cache *lru.Cache[string, entity.Geometry]
}

func NewCached(inner Geocoder, size int) (*Cached, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, entity.Geometry](size)
	if err != nil {
		return nil, fmt.Errorf("geo: create cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Geocode(ctx context.Context, query string) (entity.Geometry, error) {
	if g, ok := c.cache.Get(query); ok {
		return g, nil
	}
	g, err := c.inner.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, g)
	return g, nil
}
