package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratsmirror/internal/store"
)

type memoryRow struct {
	id       int64
	deleted  bool
	modified time.Time
	values   []any
}

// MemoryBackend keeps reconciled tables in process memory. It backs the
// mirror mode, where a run is diffed without a database, and the package
// tests.
type MemoryBackend struct {
	mu     sync.Mutex
	nextID int64
	tables map[string][]*memoryRow
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string][]*memoryRow)}
}

func (m *MemoryBackend) Rows(ctx context.Context, table string, fields []string, softDelete, withDeleted bool) ([]store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []store.Row
	for _, r := range m.tables[table] {
		if r.deleted && !(softDelete && withDeleted) {
			continue
		}
		values := make([]any, len(r.values))
		copy(values, r.values)
		out = append(out, store.Row{ID: r.id, Deleted: r.deleted, Values: values})
	}
	return out, nil
}

func (m *MemoryBackend) BulkCreate(ctx context.Context, table string, fields []string, rows [][]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, values := range rows {
		m.nextID++
		copied := make([]any, len(values))
		copy(copied, values)
		m.tables[table] = append(m.tables[table], &memoryRow{
			id: m.nextID, modified: time.Now(), values: copied,
		})
	}
	return nil
}

func (m *MemoryBackend) Update(ctx context.Context, table string, id int64, fields []string, values []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(table, id)
	if r == nil {
		return fmt.Errorf("memory update %s %d: not found", table, id)
	}
	copied := make([]any, len(values))
	copy(copied, values)
	r.values = copied
	r.modified = time.Now()
	return nil
}

func (m *MemoryBackend) SetDeleted(ctx context.Context, table string, ids []int64, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if r := m.find(table, id); r != nil {
			r.deleted = deleted
			r.modified = time.Now()
		}
	}
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, table string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.tables[table][:0]
	for _, r := range m.tables[table] {
		if !drop[r.id] {
			kept = append(kept, r)
		}
	}
	m.tables[table] = kept
	return nil
}

func (m *MemoryBackend) find(table string, id int64) *memoryRow {
	for _, r := range m.tables[table] {
		if r.id == id {
			return r
		}
	}
	return nil
}
