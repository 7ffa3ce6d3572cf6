package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChangedSince splits a table's records modified at or after the cutoff
// into live records, projected onto the given fields, and deleted ids.
// The search indexer drives its bulk updates with this.
func (s *Store) ChangedSince(ctx context.Context, table string, fields []string, since time.Time) (live []Row, deleted []int64, err error) {
	query := fmt.Sprintf(
		"SELECT id, deleted, %s FROM %s WHERE modified_at >= $1 AND NOT is_stub",
		strings.Join(fields, ", "), table,
	)
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, nil, fmt.Errorf("changed %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		id := values[0].(int64)
		if values[1].(bool) {
			deleted = append(deleted, id)
			continue
		}
		live = append(live, Row{ID: id, Values: values[2:]})
	}
	return live, deleted, rows.Err()
}

// UpdatePaperSortDates recomputes every paper's sort date from its earliest
// consultation, falling back to the legal date and then the import time.
// Only rows whose value actually changes are touched.
func (s *Store) UpdatePaperSortDates(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE paper p SET sort_date = x.want, modified_at = NOW()
		FROM (
			SELECT p2.id, COALESCE(MIN(m.start_time), p2.legal_date, p2.created_at) AS want
			FROM paper p2
			LEFT JOIN consultation c ON c.paper_id = p2.id AND NOT c.deleted
			LEFT JOIN meeting m ON m.id = c.meeting_id AND NOT m.deleted
			GROUP BY p2.id
		) x
		WHERE x.id = p.id AND p.sort_date IS DISTINCT FROM x.want`)
	if err != nil {
		return fmt.Errorf("update paper sort dates: %w", err)
	}
	return nil
}

// clearOrder removes records in a foreign-key safe sequence. Edge tables
// drain through joins on their endpoints before the entities go.
var clearEdges = []struct{ table, via string }{
	{"file_person", "file"},
	{"file_location", "file"},
	{"agenda_item_file", "agenda_item"},
	{"consultation_organization", "consultation"},
	{"meeting_file", "meeting"},
	{"meeting_person", "meeting"},
	{"meeting_organization", "meeting"},
	{"paper_file", "paper"},
	{"paper_person", "paper"},
	{"paper_organization", "paper"},
	{"body_legislative_term", "body"},
}

var clearEntities = []string{
	"agenda_item", "consultation", "paper", "meeting", "membership",
	"organization", "person", "file", "legislative_term", "location", "body",
}

// ClearPrefix hard-deletes everything imported from one OParl endpoint,
// identified by its URL prefix, along with the staged objects and list
// watermarks. Returns how many entity records went away.
func (s *Store) ClearPrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("clear: prefix is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", prefix, err)
	}
	defer tx.Rollback(ctx)

	pattern := prefix + "%"
	for _, e := range clearEdges {
		query := fmt.Sprintf(
			"DELETE FROM %s e USING %s t WHERE e.%s_id = t.id AND t.external_id LIKE $1",
			e.table, e.via, e.via,
		)
		if _, err := tx.Exec(ctx, query, pattern); err != nil {
			return 0, fmt.Errorf("clear %s: %w", e.table, err)
		}
	}

	// Entity rows outside the prefix may still point at rows about to go;
	// those references are detached first.
	detach := []string{
		"UPDATE person SET location_id = NULL WHERE location_id IN (SELECT id FROM location WHERE external_id LIKE $1)",
		"UPDATE organization SET location_id = NULL WHERE location_id IN (SELECT id FROM location WHERE external_id LIKE $1)",
		"UPDATE meeting SET location_id = NULL WHERE location_id IN (SELECT id FROM location WHERE external_id LIKE $1)",
		"UPDATE paper SET amends_paper_id = NULL WHERE amends_paper_id IN (SELECT id FROM paper WHERE external_id LIKE $1)",
		"UPDATE agenda_item SET consultation_id = NULL WHERE consultation_id IN (SELECT id FROM consultation WHERE external_id LIKE $1)",
	}
	for _, query := range detach {
		if _, err := tx.Exec(ctx, query, pattern); err != nil {
			return 0, fmt.Errorf("clear detach: %w", err)
		}
	}

	var total int64
	for _, table := range clearEntities {
		query := fmt.Sprintf("DELETE FROM %s WHERE external_id LIKE $1", table)
		tag, err := tx.Exec(ctx, query, pattern)
		if err != nil {
			return 0, fmt.Errorf("clear %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	if _, err := tx.Exec(ctx, "DELETE FROM cached_object WHERE url LIKE $1", pattern); err != nil {
		return 0, fmt.Errorf("clear cached objects: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM external_list WHERE url LIKE $1", pattern); err != nil {
		return 0, fmt.Errorf("clear list watermarks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("clear %s: %w", prefix, err)
	}
	return total, nil
}

// ReplaceStreets swaps the street-name corpus of one body.
func (s *Store) ReplaceStreets(ctx context.Context, bodyID int64, names []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace streets: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM search_street WHERE body_id = $1", bodyID); err != nil {
		return fmt.Errorf("clear streets: %w", err)
	}
	for _, name := range names {
		if _, err := tx.Exec(ctx,
			"INSERT INTO search_street (body_id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			bodyID, name); err != nil {
			return fmt.Errorf("insert street: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) StreetNames(ctx context.Context, bodyID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT name FROM search_street WHERE body_id = $1 ORDER BY name", bodyID)
	if err != nil {
		return nil, fmt.Errorf("street names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ReplacePOIs swaps the point-of-interest corpus of one body.
func (s *Store) ReplacePOIs(ctx context.Context, bodyID int64, pois map[string][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace pois: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM search_poi WHERE body_id = $1", bodyID); err != nil {
		return fmt.Errorf("clear pois: %w", err)
	}
	for name, geometry := range pois {
		if _, err := tx.Exec(ctx,
			"INSERT INTO search_poi (body_id, name, geometry) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			bodyID, name, geometry); err != nil {
			return fmt.Errorf("insert poi: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) POINames(ctx context.Context, bodyID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT name FROM search_poi WHERE body_id = $1 ORDER BY name", bodyID)
	if err != nil {
		return nil, fmt.Errorf("poi names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
