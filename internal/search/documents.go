package search

import (
	"encoding/json"
	"time"

	"ratsmirror/internal/store"
)

// geoPoint is the lat/lon form Elasticsearch expects for geo_point fields.
type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// pointFromGeometry extracts a geo point from a GeoJSON geometry. Only
// plain points map onto geo_point; other shapes are skipped.
func pointFromGeometry(raw json.RawMessage) (geoPoint, bool) {
	if len(raw) == 0 {
		return geoPoint{}, false
	}
	var g struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return geoPoint{}, false
	}
	if g.Type != "Point" || len(g.Coordinates) < 2 {
		return geoPoint{}, false
	}
	return geoPoint{Lat: g.Coordinates[1], Lon: g.Coordinates[0]}, true
}

// autocompleteValue guards against empty strings, which the edge n-gram
// analyzer rejects.
func autocompleteValue(name string) string {
	if name == "" {
		return " "
	}
	return name
}

type fileDoc struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Filename     string     `json:"filename"`
	Autocomplete string     `json:"autocomplete"`
	PageCount    *int       `json:"page_count,omitempty"`
	ParsedText   *string    `json:"parsed_text,omitempty"`
	PersonIDs    []int64    `json:"person_ids,omitempty"`
	Coordinates  []geoPoint `json:"coordinates,omitempty"`
	Created      time.Time  `json:"created"`
	Modified     time.Time  `json:"modified"`
	SortDate     time.Time  `json:"sort_date"`
}

func fileDocument(f store.FileDoc, personIDs []int64, geometries []json.RawMessage) fileDoc {
	var coords []geoPoint
	for _, g := range geometries {
		if p, ok := pointFromGeometry(g); ok {
			coords = append(coords, p)
		}
	}
	return fileDoc{
		ID:           f.ID,
		Name:         f.Name,
		Filename:     f.Filename,
		Autocomplete: autocompleteValue(f.Name),
		PageCount:    f.PageCount,
		ParsedText:   f.ParsedText,
		PersonIDs:    personIDs,
		Coordinates:  coords,
		Created:      f.Created,
		Modified:     f.Modified,
		SortDate:     f.SortDate,
	}
}

type paperDoc struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	ShortName       string     `json:"short_name"`
	ReferenceNumber string     `json:"reference_number"`
	Autocomplete    string     `json:"autocomplete"`
	LegalDate       *time.Time `json:"legal_date,omitempty"`
	MainFile        *int64     `json:"main_file,omitempty"`
	PersonIDs       []int64    `json:"person_ids,omitempty"`
	OrganizationIDs []int64    `json:"organization_ids,omitempty"`
	Created         time.Time  `json:"created"`
	Modified        time.Time  `json:"modified"`
	SortDate        time.Time  `json:"sort_date"`
}

func paperDocument(p store.PaperDoc, personIDs, organizationIDs []int64) paperDoc {
	// Searches for a paper usually start from its reference number.
	auto := p.Name
	if p.ReferenceNumber != "" {
		auto = p.ReferenceNumber + " " + p.Name
	}
	return paperDoc{
		ID:              p.ID,
		Name:            p.Name,
		ShortName:       p.ShortName,
		ReferenceNumber: p.ReferenceNumber,
		Autocomplete:    autocompleteValue(auto),
		LegalDate:       p.LegalDate,
		MainFile:        p.MainFileID,
		PersonIDs:       personIDs,
		OrganizationIDs: organizationIDs,
		Created:         p.Created,
		Modified:        p.Modified,
		SortDate:        p.SortDate,
	}
}

type personDoc struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	GivenName       string     `json:"given_name"`
	FamilyName      string     `json:"family_name"`
	Autocomplete    string     `json:"autocomplete"`
	OrganizationIDs []int64    `json:"organization_ids,omitempty"`
	SortDate        *time.Time `json:"sort_date,omitempty"`
}

func personDocument(p store.PersonDoc, organizationIDs []int64) personDoc {
	return personDoc{
		ID:              p.ID,
		Name:            p.Name,
		GivenName:       p.GivenName,
		FamilyName:      p.FamilyName,
		Autocomplete:    autocompleteValue(p.Name),
		OrganizationIDs: organizationIDs,
		SortDate:        p.SortDate,
	}
}

type agendaItemDoc struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Public   bool   `json:"public"`
}

type meetingDoc struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	ShortName    string          `json:"short_name"`
	Autocomplete string          `json:"autocomplete"`
	Start        *time.Time      `json:"start,omitempty"`
	End          *time.Time      `json:"end,omitempty"`
	Location     *geoPoint       `json:"location,omitempty"`
	AgendaItems  []agendaItemDoc `json:"agenda_items,omitempty"`
	Created      time.Time       `json:"created"`
	Modified     time.Time       `json:"modified"`
	SortDate     *time.Time      `json:"sort_date,omitempty"`
}

func meetingDocument(m store.MeetingDoc, items []store.AgendaItemRef) meetingDoc {
	doc := meetingDoc{
		ID:           m.ID,
		Name:         m.Name,
		ShortName:    m.ShortName,
		Autocomplete: autocompleteValue(m.Name),
		Start:        m.Start,
		End:          m.End,
		Created:      m.Created,
		Modified:     m.Modified,
		SortDate:     m.Start,
	}
	if p, ok := pointFromGeometry(m.Geometry); ok {
		doc.Location = &p
	}
	for _, item := range items {
		doc.AgendaItems = append(doc.AgendaItems, agendaItemDoc{
			Key:      item.Key,
			Title:    item.Name,
			Position: item.Position,
			Public:   item.Public,
		})
	}
	return doc
}

type bodyRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type organizationDoc struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	ShortName    string     `json:"short_name"`
	Autocomplete string     `json:"autocomplete"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Body         *bodyRef   `json:"body,omitempty"`
	Created      time.Time  `json:"created"`
	Modified     time.Time  `json:"modified"`
	SortDate     *time.Time `json:"sort_date,omitempty"`
}

func organizationDocument(o store.OrganizationDoc) organizationDoc {
	doc := organizationDoc{
		ID:           o.ID,
		Name:         o.Name,
		ShortName:    o.ShortName,
		Autocomplete: autocompleteValue(o.Name),
		Start:        o.Start,
		End:          o.End,
		Created:      o.Created,
		Modified:     o.Modified,
		SortDate:     o.Start,
	}
	if o.BodyID != nil && o.BodyName != nil {
		doc.Body = &bodyRef{ID: *o.BodyID, Name: *o.BodyName}
	}
	return doc
}
