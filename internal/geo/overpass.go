package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"ratsmirror/internal/entity"
)

const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// Overpass pulls the street corpus and the administrative outline of a
// municipality from OpenStreetMap, keyed by the official municipality
// code (AGS).
type Overpass struct {
	baseURL string
	client  *http.Client
}

func NewOverpass(baseURL string) *Overpass {
	if baseURL == "" {
		baseURL = DefaultOverpassURL
	}
	return &Overpass{baseURL: baseURL, client: &http.Client{Timeout: 5 * time.Minute}}
}

const streetQueryTemplate = `
[out:json];area["de:amtlicher_gemeindeschluessel"~"^%s"]
   [admin_level=%d]
   [type=boundary]
   [boundary=administrative];
foreach(
    rel(pivot)->.a;
    .a out meta;
    (way(area)[highway~"^residential$|^service$|^unclassified$|^track$|^footway$|^tertiary$|^path$|^secondary$|^primary$|^cycleway$|^trunk$|^living_street$|^road$|^pedestrian$|^construction$"][name];>;);
    out qt meta;
);
`

const amenityQueryTemplate = `
[out:json];area["de:amtlicher_gemeindeschluessel"~"^%s"]
   [admin_level=%d]
   [type=boundary]
   [boundary=administrative];
node(area)[amenity=%s][name];
out qt;
`

const outlineQueryTemplate = `
[out:json];rel["de:amtlicher_gemeindeschluessel"~"^%s"]
   [admin_level=%d]
   [type=boundary]
   [boundary=administrative];
out geom;
`

// adminQuery picks the administrative level matching the code. Counties
// and county-level cities use a 5-digit code at level 6, municipalities
// the full 8 digits at level 8. An 8-digit code ending in 000 is a county
// padded for display, so it is queried by its 5-digit prefix.
func adminQuery(template, ags string) string {
	if len(ags) == 8 && strings.HasSuffix(ags, "000") {
		ags = ags[:5]
	}
	level := 8
	if len(ags) == 5 {
		level = 6
	}
	return fmt.Sprintf(template, ags, level)
}

func amenityQuery(ags, amenity string) string {
	if len(ags) == 8 && strings.HasSuffix(ags, "000") {
		ags = ags[:5]
	}
	level := 8
	if len(ags) == 5 {
		level = 6
	}
	return fmt.Sprintf(amenityQueryTemplate, ags, level, amenity)
}

type overpassResponse struct {
	Elements []struct {
		Type     string            `json:"type"`
		ID       int64             `json:"id"`
		Lat      float64           `json:"lat"`
		Lon      float64           `json:"lon"`
		Tags     map[string]string `json:"tags"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
		Members []struct {
			Type     string `json:"type"`
			Role     string `json:"role"`
			Geometry []struct {
				Lat float64 `json:"lat"`
				Lon float64 `json:"lon"`
			} `json:"geometry"`
		} `json:"members"`
	} `json:"elements"`
}

func (o *Overpass) run(ctx context.Context, query string) (*overpassResponse, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overpass: status %d", resp.StatusCode)
	}
	var parsed overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("overpass: %w", err)
	}
	return &parsed, nil
}

// StreetNames fetches the named streets of the municipality, sorted and
// de-duplicated.
func (o *Overpass) StreetNames(ctx context.Context, ags string) ([]string, error) {
	parsed, err := o.run(ctx, adminQuery(streetQueryTemplate, ags))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, el := range parsed.Elements {
		if el.Type != "way" {
			continue
		}
		name := el.Tags["name"]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Amenities fetches named points of interest of one kind, for example
// "school", keyed by name with a GeoJSON point each.
func (o *Overpass) Amenities(ctx context.Context, ags, amenity string) (map[string][]byte, error) {
	parsed, err := o.run(ctx, amenityQuery(ags, amenity))
	if err != nil {
		return nil, err
	}
	pois := make(map[string][]byte)
	for _, el := range parsed.Elements {
		if el.Type != "node" {
			continue
		}
		name := el.Tags["name"]
		if name == "" {
			continue
		}
		pois[name] = entity.Point(el.Lat, el.Lon)
	}
	return pois, nil
}

// Outline fetches the administrative boundary as a GeoJSON geometry, with
// the centroid of all boundary points as a separate center point. The
// outer ways are kept as a MultiLineString rather than stitched into
// polygons; the map layer only draws the boundary.
func (o *Overpass) Outline(ctx context.Context, ags string) (outline, center entity.Geometry, err error) {
	parsed, err := o.run(ctx, adminQuery(outlineQueryTemplate, ags))
	if err != nil {
		return nil, nil, err
	}

	var lines [][][]float64
	var sumLat, sumLon float64
	points := 0
	for _, el := range parsed.Elements {
		if el.Type != "relation" {
			continue
		}
		for _, member := range el.Members {
			if member.Type != "way" || member.Role != "outer" || len(member.Geometry) == 0 {
				continue
			}
			line := make([][]float64, len(member.Geometry))
			for i, p := range member.Geometry {
				line[i] = []float64{p.Lon, p.Lat}
				sumLat += p.Lat
				sumLon += p.Lon
				points++
			}
			lines = append(lines, line)
		}
	}
	if points == 0 {
		return nil, nil, fmt.Errorf("overpass: no outline for ags %s", ags)
	}

	outline, err = json.Marshal(map[string]any{
		"type":        "MultiLineString",
		"coordinates": lines,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("overpass: %w", err)
	}
	center = entity.Point(sumLat/float64(points), sumLon/float64(points))
	return outline, center, nil
}
