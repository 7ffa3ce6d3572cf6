package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PendingFile is a file record whose content has not been downloaded yet.
type PendingFile struct {
	ID          int64
	Name        string
	AccessURL   *string
	DownloadURL *string
	MimeType    string
}

const pendingFileCols = "id, name, access_url, download_url, mime_type"

// PendingFiles lists files that still need downloading. Files an operator
// removed by hand stay out unless their ids are requested explicitly.
func (s *Store) PendingFiles(ctx context.Context, ids []int64) ([]PendingFile, error) {
	query := "SELECT " + pendingFileCols + " FROM file WHERE size IS NULL AND access_url IS NOT NULL" +
		" AND NOT deleted AND NOT manually_deleted ORDER BY id"
	args := []any{}
	if len(ids) > 0 {
		query = "SELECT " + pendingFileCols + " FROM file WHERE id = ANY($1) ORDER BY id"
		args = append(args, ids)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending files: %w", err)
	}
	defer rows.Close()

	var out []PendingFile
	for rows.Next() {
		var f PendingFile
		if err := rows.Scan(&f.ID, &f.Name, &f.AccessURL, &f.DownloadURL, &f.MimeType); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DownloadedFiles lists ids of files that claim to have stored content, for
// pairing against the object store at startup.
func (s *Store) DownloadedFiles(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM file WHERE size IS NOT NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("downloaded files: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ManuallyDeletedFileIDs lists files an operator removed. Their deleted
// state must survive reconciliation against a snapshot that still has them.
func (s *Store) ManuallyDeletedFileIDs(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM file WHERE manually_deleted")
	if err != nil {
		return nil, fmt.Errorf("manually deleted files: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// FileIDsWithPrefix lists files whose external id starts with prefix and
// that have stored content, so their blobs can be removed before a purge.
func (s *Store) FileIDsWithPrefix(ctx context.Context, prefix string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM file WHERE external_id LIKE $1 || '%' AND size IS NOT NULL", prefix)
	if err != nil {
		return nil, fmt.Errorf("files with prefix: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ResetFileContent clears the download markers so the file is fetched again.
func (s *Store) ResetFileContent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE file SET size = NULL, page_count = NULL, parsed_text = NULL, modified_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset file %d: %w", id, err)
	}
	return nil
}

// SaveFileContent records the result of a successful download and parse.
// A nil parsed text keeps whatever an earlier parse extracted.
func (s *Store) SaveFileContent(ctx context.Context, id, size int64, mimeType string, pageCount *int, parsedText *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE file SET size = $2, mime_type = $3, page_count = $4,
			parsed_text = COALESCE($5, parsed_text), modified_at = NOW()
		WHERE id = $1`, id, size, mimeType, pageCount, parsedText)
	if err != nil {
		return fmt.Errorf("save file content %d: %w", id, err)
	}
	return nil
}

// ReplaceFileReferences swaps the extracted location and person references
// of one file.
func (s *Store) ReplaceFileReferences(ctx context.Context, fileID int64, locationIDs, personIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace file references: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM file_location WHERE file_id = $1", fileID); err != nil {
		return fmt.Errorf("clear file locations: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM file_person WHERE file_id = $1", fileID); err != nil {
		return fmt.Errorf("clear file persons: %w", err)
	}
	for _, locID := range locationIDs {
		if _, err := tx.Exec(ctx,
			"INSERT INTO file_location (file_id, location_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			fileID, locID); err != nil {
			return fmt.Errorf("insert file location: %w", err)
		}
	}
	for _, personID := range personIDs {
		if _, err := tx.Exec(ctx,
			"INSERT INTO file_person (file_id, person_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			fileID, personID); err != nil {
			return fmt.Errorf("insert file person: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// SetManuallyDeleted marks files an operator removed on purpose. Such files
// are skipped by the download pipeline and never undeleted by imports.
func (s *Store) SetManuallyDeleted(ctx context.Context, ids []int64, deleted bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE file SET manually_deleted = $2, modified_at = NOW() WHERE id = ANY($1)", ids, deleted)
	if err != nil {
		return fmt.Errorf("set manually deleted: %w", err)
	}
	return nil
}

// PersonName is the minimal projection the mention extractor needs.
type PersonName struct {
	ID         int64
	Name       string
	GivenName  string
	FamilyName string
}

func (s *Store) PersonNames(ctx context.Context) ([]PersonName, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, given_name, family_name FROM person WHERE NOT deleted ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("person names: %w", err)
	}
	defer rows.Close()

	var out []PersonName
	for rows.Next() {
		var p PersonName
		if err := rows.Scan(&p.ID, &p.Name, &p.GivenName, &p.FamilyName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FileByID loads one file record, deleted or not.
func (s *Store) FileByID(ctx context.Context, id int64) (PendingFile, error) {
	var f PendingFile
	err := s.pool.QueryRow(ctx,
		"SELECT "+pendingFileCols+" FROM file WHERE id = $1", id,
	).Scan(&f.ID, &f.Name, &f.AccessURL, &f.DownloadURL, &f.MimeType)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingFile{}, fmt.Errorf("file %d: not found", id)
	}
	if err != nil {
		return PendingFile{}, fmt.Errorf("file %d: %w", id, err)
	}
	return f, nil
}
