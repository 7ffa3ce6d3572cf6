package oparl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeName(t *testing.T) {
	o := Object{"type": "https://schema.oparl.org/1.1/AgendaItem"}
	assert.Equal(t, "AgendaItem", o.TypeName())
	assert.Equal(t, "", Object{}.TypeName())
}

func TestStringList(t *testing.T) {
	o := Object{
		"organization": []any{"https://example.org/organization/1", 5, "https://example.org/organization/2"},
		"meeting":      "https://example.org/meeting/1",
	}
	assert.Equal(t, []string{"https://example.org/organization/1", "https://example.org/organization/2"}, o.StringList("organization"))
	assert.Equal(t, []string{"https://example.org/meeting/1"}, o.StringList("meeting"))
	assert.Nil(t, o.StringList("missing"))
}

func TestParseTimeAndDate(t *testing.T) {
	ts := ParseTime("2018-04-10T12:14:31+02:00")
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2018, 4, 10, 10, 14, 31, 0, time.UTC), *ts)

	d := ParseDate("2000-01-01")
	require.NotNil(t, d)
	assert.Equal(t, 2000, d.Year())

	// Vendors sometimes put timestamps into date fields.
	d = ParseDate("2018-04-10T12:14:31+02:00")
	require.NotNil(t, d)

	assert.Nil(t, ParseTime(""))
	assert.Nil(t, ParseDate("not a date"))
}

func TestParsePage(t *testing.T) {
	o := Object{
		"data": []any{
			map[string]any{"id": "https://example.org/paper/1"},
		},
		"links": map[string]any{"next": "https://example.org/paper?page=2"},
	}
	page := ParsePage(o)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "https://example.org/paper/1", page.Data[0].ID())
	assert.Equal(t, "https://example.org/paper?page=2", page.Next)

	empty := ParsePage(EmptyPage())
	assert.Empty(t, empty.Data)
	assert.Empty(t, empty.Next)
}

func TestOrderIndex(t *testing.T) {
	assert.Less(t, OrderIndex(TypeLocation), OrderIndex(TypeBody))
	assert.Less(t, OrderIndex(TypeMeeting), OrderIndex(TypeConsultation))
	assert.Equal(t, len(ImportOrder), OrderIndex("Unknown"))
}
