package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratsmirror/internal/entity"
)

var personSpec = Specs[entity.TablePerson]

func personRow(url, name string) []any {
	return []any{url, name, "", name, nil}
}

func TestRunCreatesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	incoming := [][]any{
		personRow("https://oparl.example/person/1", "Anna Schmidt"),
		personRow("https://oparl.example/person/2", "Jonas Weber"),
	}
	stats, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 2}, stats)

	stats, err = Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats, "replaying the same import must change nothing")

	rows, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, true)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunUpdatesChangedValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	_, err := Run(ctx, b, personSpec, [][]any{
		personRow("https://oparl.example/person/1", "Anna Schmidt"),
	}, Options{})
	require.NoError(t, err)

	stats, err := Run(ctx, b, personSpec, [][]any{
		personRow("https://oparl.example/person/1", "Anna Schmidt-Berg"),
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1}, stats)

	rows, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Anna Schmidt-Berg", rows[0].Values[1])
}

func TestRunSoftDeletesAndRevives(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	first := [][]any{
		personRow("https://oparl.example/person/1", "Anna Schmidt"),
		personRow("https://oparl.example/person/2", "Jonas Weber"),
	}
	_, err := Run(ctx, b, personSpec, first, Options{})
	require.NoError(t, err)

	stats, err := Run(ctx, b, personSpec, first[:1], Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 1}, stats)

	live, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	assert.Len(t, live, 1)
	all, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, true)
	require.NoError(t, err)
	assert.Len(t, all, 2, "soft deletion keeps the record around")

	stats, err = Run(ctx, b, personSpec, first, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1, Undeleted: 1}, stats)
	live, err = b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestRunKeepsManuallyDeletedRecords(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	incoming := [][]any{personRow("https://oparl.example/person/1", "Anna Schmidt")}
	_, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)
	rows, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, true)
	require.NoError(t, err)
	require.NoError(t, b.SetDeleted(ctx, personSpec.Table, []int64{rows[0].ID}, true))

	stats, err := Run(ctx, b, personSpec, incoming, Options{
		KeepDeleted: map[int64]bool{rows[0].ID: true},
	})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	live, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRunShrinkageGuard(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	var incoming [][]any
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		incoming = append(incoming, personRow("https://oparl.example/person/"+name, name))
	}
	_, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)

	_, err = Run(ctx, b, personSpec, incoming[:1], Options{})
	require.ErrorIs(t, err, ErrShrinkage)

	live, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	assert.Len(t, live, 6, "a rejected run must not delete anything")

	stats, err := Run(ctx, b, personSpec, incoming[:1], Options{AllowShrinkage: true})
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 5}, stats)
}

func TestRunReimportWithOneChangedRow(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	var incoming [][]any
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		incoming = append(incoming, personRow("https://oparl.example/person/"+name, name))
	}
	_, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)

	// A re-import hands over the whole snapshot, not just what changed.
	// Only the changed row may produce a write.
	incoming[0] = personRow("https://oparl.example/person/a", "renamed")
	stats, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1}, stats)

	live, err := b.Rows(ctx, personSpec.Table, personSpec.Fields, true, false)
	require.NoError(t, err)
	assert.Len(t, live, 6)
}

func TestRunShrinkageWithinMargin(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	var incoming [][]any
	for _, name := range []string{"a", "b", "c", "d"} {
		incoming = append(incoming, personRow("https://oparl.example/person/"+name, name))
	}
	_, err := Run(ctx, b, personSpec, incoming, Options{})
	require.NoError(t, err)

	stats, err := Run(ctx, b, personSpec, incoming[:1], Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 3}, stats)
}

func TestRunEdgeTableHardDeletes(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	spec := EdgeSpecs["paper_file"]

	_, err := Run(ctx, b, spec, [][]any{{int64(1), int64(10)}, {int64(1), int64(11)}}, Options{})
	require.NoError(t, err)

	stats, err := Run(ctx, b, spec, [][]any{{int64(1), int64(11)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 1}, stats)

	all, err := b.Rows(ctx, spec.Table, spec.Fields, false, true)
	require.NoError(t, err)
	assert.Len(t, all, 1, "edges are removed for good")
}

func TestRunAgendaItemIdentityIgnoresExternalID(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	spec := Specs[entity.TableAgendaItem]

	item := func(ext any, key string, position int, name string) []any {
		return []any{ext, int64(7), key, position, name, true, "", "", nil, nil}
	}

	_, err := Run(ctx, b, spec, [][]any{item("https://oparl.example/agenda/1", "1", 0, "Haushalt 2026")}, Options{})
	require.NoError(t, err)

	// The vendor re-issues the same item under a different URL and slot.
	stats, err := Run(ctx, b, spec, [][]any{item(nil, "2", 1, "Haushalt 2026")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1}, stats)

	rows, err := b.Rows(ctx, spec.Table, spec.Fields, true, false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Values[3])
}

func TestCanonNormalizesTimeAndWidth(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	utc := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	cet := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)
	assert.Equal(t, canon(utc), canon(cet))
	assert.Equal(t, canon(int32(5)), canon(int64(5)))
	assert.NotEqual(t, canon(nil), canon(""))
}
