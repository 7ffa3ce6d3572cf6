// Package oparl models the OParl 1.0/1.1 JSON wire format: generic objects
// addressed by URL, typed through a schema-URL suffix, and paginated lists.
package oparl

import (
	"strings"
	"time"
)

// Schema type names, i.e. the last path segment of the "type" URL.
const (
	TypeSystem          = "System"
	TypeBody            = "Body"
	TypeLegislativeTerm = "LegislativeTerm"
	TypeLocation        = "Location"
	TypeFile            = "File"
	TypePerson          = "Person"
	TypeOrganization    = "Organization"
	TypeMembership      = "Membership"
	TypeMeeting         = "Meeting"
	TypePaper           = "Paper"
	TypeConsultation    = "Consultation"
	TypeAgendaItem      = "AgendaItem"
)

// Reserved keys recorded during externalization. They are not part of the
// wire format; children carry them so a missing parent pointer can still be
// reconstructed.
const (
	KeyBackref         = "rm:backref"
	KeyBackrefPosition = "rm:backrefPosition"
)

// SchemaPrefix is used to synthesize type URLs for objects that lack one.
const SchemaPrefix = "https://schema.oparl.org/1.0/"

// ImportOrder lists entity types leaves-first. A type may only reference
// types that come earlier, except for the cycles broken by the resolver's
// related pass.
var ImportOrder = []string{
	TypeLegislativeTerm,
	TypeLocation,
	TypeBody,
	TypeFile,
	TypePerson,
	TypeOrganization,
	TypeMembership,
	TypeMeeting,
	TypePaper,
	TypeConsultation,
	TypeAgendaItem,
}

// OrderIndex returns the position of an entity type in ImportOrder, or a
// value past the end for unknown types so they sort last.
func OrderIndex(typeName string) int {
	for i, name := range ImportOrder {
		if name == typeName {
			return i
		}
	}
	return len(ImportOrder)
}

// Object is a decoded OParl JSON object.
type Object map[string]any

// ID returns the canonical URL of the object, or "".
func (o Object) ID() string {
	return o.String("id")
}

// Type returns the full schema URL of the object, or "".
func (o Object) Type() string {
	return o.String("type")
}

// TypeName returns the last segment of the type URL, e.g. "Paper".
func (o Object) TypeName() string {
	t := o.Type()
	if t == "" {
		return ""
	}
	return t[strings.LastIndex(t, "/")+1:]
}

// Deleted reports whether the remote marked the object as deleted.
func (o Object) Deleted() bool {
	v, _ := o["deleted"].(bool)
	return v
}

// String returns the value under key if it is a non-empty string.
func (o Object) String(key string) string {
	v, _ := o[key].(string)
	return v
}

// StringPtr returns the value under key as *string, nil when absent or empty.
func (o Object) StringPtr(key string) *string {
	v, ok := o[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

// Bool returns the value under key and whether it was present as a bool.
func (o Object) Bool(key string) (bool, bool) {
	v, ok := o[key].(bool)
	return v, ok
}

// Int returns the value under key coerced from JSON's float64, 0 if absent.
func (o Object) Int(key string) int {
	switch v := o[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// StringList returns the value under key as a list of strings. A bare string
// is wrapped; non-string elements are skipped.
func (o Object) StringList(key string) []string {
	switch v := o[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ObjectList returns the value under key as a list of embedded objects.
func (o Object) ObjectList(key string) []Object {
	v, ok := o[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(v))
	for _, e := range v {
		if m, ok := e.(map[string]any); ok {
			out = append(out, Object(m))
		}
	}
	return out
}

// Object returns the value under key as an embedded object.
func (o Object) Object(key string) (Object, bool) {
	m, ok := o[key].(map[string]any)
	return Object(m), ok
}

// Time parses the value under key as an ISO-8601 timestamp.
func (o Object) Time(key string) *time.Time {
	return ParseTime(o.String(key))
}

// Date parses the value under key as an ISO-8601 date.
func (o Object) Date(key string) *time.Time {
	return ParseDate(o.String(key))
}

// Created returns the "created" timestamp, if present.
func (o Object) Created() *time.Time { return o.Time("created") }

// Modified returns the "modified" timestamp, if present.
func (o Object) Modified() *time.Time { return o.Time("modified") }

// Clone returns a shallow copy of the object.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// ParseTime accepts RFC 3339 timestamps with or without sub-second precision.
func ParseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseDate accepts a plain date. The time component is midnight UTC.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	// Some vendors put full timestamps into date fields.
	return ParseTime(s)
}

// Page is one page of an OParl external list.
type Page struct {
	Data []Object
	Next string
}

// ParsePage decodes a list page envelope. A missing data key yields an empty
// page rather than an error; several vendors omit it on the last page.
func ParsePage(o Object) Page {
	page := Page{}
	if raw, ok := o["data"].([]any); ok {
		for _, e := range raw {
			if m, ok := e.(map[string]any); ok {
				page.Data = append(page.Data, Object(m))
			}
		}
	}
	if links, ok := o["links"].(map[string]any); ok {
		if next, ok := links["next"].(string); ok {
			page.Next = next
		}
	}
	return page
}

// EmptyPage is what list endpoints should have returned instead of a 404.
func EmptyPage() Object {
	return Object{
		"data":       []any{},
		"links":      map[string]any{},
		"pagination": map[string]any{},
	}
}
