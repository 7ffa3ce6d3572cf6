package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relational backend. All identifiers passed to the generic
// methods come from compile-time constants, never from remote data.
type Store struct {
	pool *pgxpool.Pool

	schemaOnce sync.Once
	schemaErr  error
}

const bulkBatchSize = 100

func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Row is one persisted record with the projected field values in the
// same order the fields were requested.
type Row struct {
	ID      int64
	Deleted bool
	Values  []any
}

// Rows projects id, deleted state and the given fields for every record of
// the table. Tables without soft-delete columns report Deleted as false.
func (s *Store) Rows(ctx context.Context, table string, fields []string, softDelete, withDeleted bool) ([]Row, error) {
	cols := "id, " + strings.Join(fields, ", ")
	if softDelete {
		cols = "id, deleted, " + strings.Join(fields, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	if softDelete && !withDeleted {
		query += " WHERE NOT deleted"
	}
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r := Row{ID: values[0].(int64)}
		if softDelete {
			r.Deleted = values[1].(bool)
			r.Values = values[2:]
		} else {
			r.Values = values[1:]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BulkCreate inserts the given value tuples in batches, ignoring rows that
// collide on a unique constraint.
func (s *Store) BulkCreate(ctx context.Context, table string, fields []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := make([]string, len(fields))
	for i := range fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table, strings.Join(fields, ", "), strings.Join(placeholders, ", "),
	)
	for start := 0; start < len(rows); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			batch.Queue(query, row...)
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("bulk insert %s: %w", table, err)
		}
	}
	return nil
}

// Update replaces the given fields of one record and bumps modified_at.
// A record that was imported as a stub stops being one once real values
// arrive.
func (s *Store) Update(ctx context.Context, table string, id int64, fields []string, values []any) error {
	sets := make([]string, 0, len(fields)+2)
	for i, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = $%d", f, i+2))
	}
	sets = append(sets, "modified_at = NOW()", "is_stub = FALSE")
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", table, strings.Join(sets, ", "))
	args := append([]any{id}, values...)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s %d: %w", table, id, err)
	}
	return nil
}

// SetDeleted flips the soft-delete flag and bumps modified_at so the search
// indexer picks the change up.
func (s *Store) SetDeleted(ctx context.Context, table string, ids []int64, deleted bool) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET deleted = $2, modified_at = NOW() WHERE id = ANY($1)", table)
	if _, err := s.pool.Exec(ctx, query, ids, deleted); err != nil {
		return fmt.Errorf("set deleted %s: %w", table, err)
	}
	return nil
}

// Delete removes records for good. Only edge tables are ever hard-deleted.
func (s *Store) Delete(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", table)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// IDByExternal resolves an OParl URL to the primary id, including deleted
// and stub records.
func (s *Store) IDByExternal(ctx context.Context, table, externalID string) (int64, bool, error) {
	query := fmt.Sprintf("SELECT id FROM %s WHERE external_id = $1", table)
	var id int64
	err := s.pool.QueryRow(ctx, query, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return id, true, nil
}

// CreateStub inserts a placeholder record carrying nothing but the external
// id, to be completed later. Racing creations resolve to the same id.
func (s *Store) CreateStub(ctx context.Context, table, externalID string) (int64, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (external_id, is_stub) VALUES ($1, TRUE) "+
			"ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id RETURNING id",
		table,
	)
	var id int64
	if err := s.pool.QueryRow(ctx, query, externalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("create stub %s: %w", table, err)
	}
	return id, nil
}

// UpsertByExternal writes one record keyed by its external id and returns
// the primary id. Used when a single object is materialized outside a bulk
// import; concurrent imports of the same object converge on one record.
func (s *Store) UpsertByExternal(ctx context.Context, table string, fields []string, values []any) (int64, error) {
	extIdx := -1
	for i, f := range fields {
		if f == "external_id" {
			extIdx = i
			break
		}
	}
	if extIdx < 0 {
		return 0, fmt.Errorf("upsert %s: no external_id field", table)
	}

	placeholders := make([]string, len(fields))
	sets := make([]string, 0, len(fields)+2)
	for i, f := range fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if f != "external_id" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
		}
	}
	sets = append(sets, "modified_at = NOW()", "is_stub = FALSE")
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (external_id) DO UPDATE SET %s RETURNING id",
		table, strings.Join(fields, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "),
	)
	var id int64
	if err := s.pool.QueryRow(ctx, query, values...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", table, err)
	}
	return id, nil
}

// ReplaceEdges swaps one parent's rows in a join table against a new set.
func (s *Store) ReplaceEdges(ctx context.Context, table, leftCol, rightCol string, leftID int64, rightIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, leftCol), leftID,
	); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for _, rightID := range rightIDs {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			table, leftCol, rightCol,
		), leftID, rightID); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// ExternalIDMap returns external id to primary id for the whole table,
// deleted records included.
func (s *Store) ExternalIDMap(ctx context.Context, table string) (map[string]int64, error) {
	query := fmt.Sprintf("SELECT external_id, id FROM %s WHERE external_id IS NOT NULL", table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s ids: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var ext string
		var id int64
		if err := rows.Scan(&ext, &id); err != nil {
			return nil, err
		}
		out[ext] = id
	}
	return out, rows.Err()
}
