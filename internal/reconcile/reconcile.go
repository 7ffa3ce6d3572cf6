// Package reconcile diffs freshly imported value tuples against the
// persisted state of a table and applies the difference: missing records
// are created, vanished ones soft-deleted (or removed, for edge tables),
// changed ones updated in place, and previously deleted ones revived when
// they reappear upstream.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ratsmirror/internal/store"
)

// ErrShrinkage signals that an import would soft-delete suspiciously many
// records, which usually means a truncated upstream response rather than
// real deletions.
var ErrShrinkage = errors.New("import shrank by more than the allowed margin")

// shrinkageMargin is how many records an import may lose before the run is
// aborted.
const shrinkageMargin = 3

// Backend is the persistence surface the reconciler drives. *store.Store
// implements it; MemoryBackend stands in where no database is available.
type Backend interface {
	Rows(ctx context.Context, table string, fields []string, softDelete, withDeleted bool) ([]store.Row, error)
	BulkCreate(ctx context.Context, table string, fields []string, rows [][]any) error
	Update(ctx context.Context, table string, id int64, fields []string, values []any) error
	SetDeleted(ctx context.Context, table string, ids []int64, deleted bool) error
	Delete(ctx context.Context, table string, ids []int64) error
}

// Spec describes one reconciled table: its persisted fields and which of
// them identify a record across imports.
type Spec struct {
	Table      string
	Fields     []string
	KeyFields  []string
	SoftDelete bool
}

func (s Spec) keyIndexes() []int {
	idx := make([]int, 0, len(s.KeyFields))
	for _, k := range s.KeyFields {
		for i, f := range s.Fields {
			if f == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// Options tunes a single reconciliation run.
type Options struct {
	// AllowShrinkage disables the safety margin on soft deletions.
	AllowShrinkage bool
	// KeepDeleted lists record ids whose deleted state must survive the
	// import even when the record reappears upstream.
	KeepDeleted map[int64]bool
	Logger      *slog.Logger
}

// Stats reports what one run changed.
type Stats struct {
	Created   int
	Updated   int
	Deleted   int
	Undeleted int
}

// Run reconciles the incoming value tuples, ordered like spec.Fields,
// against the table. Deletions are applied first so reused identity keys
// (a meeting losing its external id, an agenda item changing its slot) do
// not collide with the records replacing them.
func Run(ctx context.Context, b Backend, spec Spec, incoming [][]any, opts Options) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyIdx := spec.keyIndexes()
	if len(keyIdx) != len(spec.KeyFields) {
		return Stats{}, fmt.Errorf("reconcile %s: key fields not a subset of fields", spec.Table)
	}

	existing, err := b.Rows(ctx, spec.Table, spec.Fields, spec.SoftDelete, true)
	if err != nil {
		return Stats{}, err
	}

	byKey := make(map[string]store.Row, len(existing))
	live := 0
	for _, row := range existing {
		k := rowKey(row.Values, keyIdx)
		if prev, ok := byKey[k]; ok {
			// Duplicate identity in the database. Keep the live one.
			if prev.Deleted && !row.Deleted {
				byKey[k] = row
			}
		} else {
			byKey[k] = row
		}
		if !row.Deleted {
			live++
		}
	}

	seen := make(map[string]bool, len(incoming))
	var creates [][]any
	var updates []store.Row
	var undeletes []int64
	for _, values := range incoming {
		if len(values) != len(spec.Fields) {
			return Stats{}, fmt.Errorf("reconcile %s: got %d values, want %d", spec.Table, len(values), len(spec.Fields))
		}
		k := rowKey(values, keyIdx)
		if seen[k] {
			continue
		}
		seen[k] = true

		row, ok := byKey[k]
		if !ok {
			creates = append(creates, values)
			continue
		}
		if row.Deleted {
			if opts.KeepDeleted[row.ID] {
				continue
			}
			undeletes = append(undeletes, row.ID)
			updates = append(updates, store.Row{ID: row.ID, Values: values})
			continue
		}
		if !equalValues(row.Values, values) {
			updates = append(updates, store.Row{ID: row.ID, Values: values})
		}
	}

	var stale []int64
	for k, row := range byKey {
		if !seen[k] && !row.Deleted {
			stale = append(stale, row.ID)
		}
	}

	if spec.SoftDelete && !opts.AllowShrinkage && len(seen)+shrinkageMargin < live {
		return Stats{}, fmt.Errorf("reconcile %s: %d records down to %d: %w",
			spec.Table, live, len(seen), ErrShrinkage)
	}

	if spec.SoftDelete {
		if err := b.SetDeleted(ctx, spec.Table, stale, true); err != nil {
			return Stats{}, err
		}
	} else {
		if err := b.Delete(ctx, spec.Table, stale); err != nil {
			return Stats{}, err
		}
	}
	if err := b.BulkCreate(ctx, spec.Table, spec.Fields, creates); err != nil {
		return Stats{}, err
	}
	if err := b.SetDeleted(ctx, spec.Table, undeletes, false); err != nil {
		return Stats{}, err
	}
	for _, u := range updates {
		if err := b.Update(ctx, spec.Table, u.ID, spec.Fields, u.Values); err != nil {
			return Stats{}, err
		}
	}

	stats := Stats{
		Created:   len(creates),
		Updated:   len(updates),
		Deleted:   len(stale),
		Undeleted: len(undeletes),
	}
	if stats != (Stats{}) {
		logger.Info("reconciled", "table", spec.Table,
			"created", stats.Created, "updated", stats.Updated,
			"deleted", stats.Deleted, "undeleted", stats.Undeleted)
	}
	return stats, nil
}

func rowKey(values []any, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, idx := range keyIdx {
		parts[i] = canon(values[idx])
	}
	return strings.Join(parts, "\x1f")
}

// equalValues compares persisted against incoming values through a
// canonical string form, so timezone representation and integer widths do
// not register as changes.
func equalValues(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if canon(a[i]) != canon(b[i]) {
			return false
		}
	}
	return true
}

func canon(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case *string:
		if x == nil {
			return "\x00"
		}
		return *x
	case bool:
		return strconv.FormatBool(x)
	case *bool:
		if x == nil {
			return "\x00"
		}
		return strconv.FormatBool(*x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case *int:
		if x == nil {
			return "\x00"
		}
		return strconv.FormatInt(int64(*x), 10)
	case *int64:
		if x == nil {
			return "\x00"
		}
		return strconv.FormatInt(*x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return "\x00"
		}
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
