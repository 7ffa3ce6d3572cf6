package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Cached is one staged OParl object as it came off the wire, after the
// loader's vendor fixups.
type Cached struct {
	URL      string
	Type     string
	Data     json.RawMessage
	ToImport bool
}

// StageObjects upserts fetched objects into the staging table. An object
// whose payload did not change keeps its to_import flag, so incremental
// runs only reprocess what actually moved.
func (s *Store) StageObjects(ctx context.Context, objects []Cached) error {
	if len(objects) == 0 {
		return nil
	}
	const query = `
		INSERT INTO cached_object (url, oparl_type, data, to_import) VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (url) DO UPDATE SET oparl_type = EXCLUDED.oparl_type, data = EXCLUDED.data, to_import = TRUE
		WHERE cached_object.data IS DISTINCT FROM EXCLUDED.data`
	for start := 0; start < len(objects); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(objects) {
			end = len(objects)
		}
		batch := &pgx.Batch{}
		for _, o := range objects[start:end] {
			batch.Queue(query, o.URL, o.Type, compactJSON(o.Data))
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("stage objects: %w", err)
		}
	}
	return nil
}

func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// CachedByURL returns one staged object, if present.
func (s *Store) CachedByURL(ctx context.Context, url string) (Cached, bool, error) {
	c := Cached{URL: url}
	err := s.pool.QueryRow(ctx,
		"SELECT oparl_type, data, to_import FROM cached_object WHERE url = $1", url,
	).Scan(&c.Type, &c.Data, &c.ToImport)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cached{}, false, nil
	}
	if err != nil {
		return Cached{}, false, fmt.Errorf("cached object %s: %w", url, err)
	}
	return c, true, nil
}

// PendingObjects returns the staged objects of one type that still need
// importing.
func (s *Store) PendingObjects(ctx context.Context, oparlType string) ([]Cached, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT url, data FROM cached_object WHERE oparl_type = $1 AND to_import ORDER BY url", oparlType,
	)
	if err != nil {
		return nil, fmt.Errorf("pending %s objects: %w", oparlType, err)
	}
	defer rows.Close()

	var out []Cached
	for rows.Next() {
		c := Cached{Type: oparlType, ToImport: true}
		if err := rows.Scan(&c.URL, &c.Data); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CachedObjects returns every staged object of one type, regardless of the
// to_import flag. Full imports reconcile the complete snapshot, so they
// need the unchanged objects too.
func (s *Store) CachedObjects(ctx context.Context, oparlType string) ([]Cached, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT url, data, to_import FROM cached_object WHERE oparl_type = $1 ORDER BY url", oparlType,
	)
	if err != nil {
		return nil, fmt.Errorf("cached %s objects: %w", oparlType, err)
	}
	defer rows.Close()

	var out []Cached
	for rows.Next() {
		c := Cached{Type: oparlType}
		if err := rows.Scan(&c.URL, &c.Data, &c.ToImport); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkImported clears the to_import flag for all objects of one type.
func (s *Store) MarkImported(ctx context.Context, oparlType string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE cached_object SET to_import = FALSE WHERE oparl_type = $1 AND to_import", oparlType)
	if err != nil {
		return fmt.Errorf("mark %s imported: %w", oparlType, err)
	}
	return nil
}

// MarkToImport re-flags single objects, by URL.
func (s *Store) MarkToImport(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE cached_object SET to_import = TRUE WHERE url = ANY($1)", urls)
	if err != nil {
		return fmt.Errorf("mark to import: %w", err)
	}
	return nil
}

// SkipOtherBodies clears the import flag on every staged body except the
// selected one. Their objects stay cached for reference resolution.
func (s *Store) SkipOtherBodies(ctx context.Context, oparlType, keepURL string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE cached_object SET to_import = FALSE WHERE oparl_type = $1 AND url <> $2", oparlType, keepURL)
	if err != nil {
		return fmt.Errorf("skip other bodies: %w", err)
	}
	return nil
}

// ListWatermark returns when an external list was last walked completely.
func (s *Store) ListWatermark(ctx context.Context, url string) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, "SELECT last_update FROM external_list WHERE url = $1", url).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list watermark %s: %w", url, err)
	}
	return t, true, nil
}

// SetListWatermark records a completed list walk. The timestamp must be
// taken before the walk started, so objects modified mid-walk are fetched
// again next time.
func (s *Store) SetListWatermark(ctx context.Context, url string, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO external_list (url, last_update) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET last_update = EXCLUDED.last_update`, url, t)
	if err != nil {
		return fmt.Errorf("set list watermark %s: %w", url, err)
	}
	return nil
}
