package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// The search indexer pulls its documents through the queries in this file.
// Every query is bounded by modified_at, so incremental runs only touch
// what the import actually changed. Stub records never reach the index.

type FileDoc struct {
	ID         int64
	Name       string
	Filename   string
	PageCount  *int
	Created    time.Time
	Modified   time.Time
	SortDate   time.Time
	ParsedText *string
	Deleted    bool
}

func (s *Store) FilesChangedSince(ctx context.Context, since time.Time) ([]FileDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, filename, page_count, created_at, modified_at, sort_date, parsed_text, deleted OR manually_deleted
		FROM file WHERE modified_at >= $1 AND NOT is_stub ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("files changed: %w", err)
	}
	defer rows.Close()

	var out []FileDoc
	for rows.Next() {
		var d FileDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.Filename, &d.PageCount,
			&d.Created, &d.Modified, &d.SortDate, &d.ParsedText, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type PaperDoc struct {
	ID              int64
	Name            string
	ShortName       string
	ReferenceNumber string
	LegalDate       *time.Time
	Created         time.Time
	Modified        time.Time
	SortDate        time.Time
	MainFileID      *int64
	Deleted         bool
}

func (s *Store) PapersChangedSince(ctx context.Context, since time.Time) ([]PaperDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, short_name, reference_number, legal_date, created_at, modified_at, sort_date, main_file_id, deleted
		FROM paper WHERE modified_at >= $1 AND NOT is_stub ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("papers changed: %w", err)
	}
	defer rows.Close()

	var out []PaperDoc
	for rows.Next() {
		var d PaperDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.ShortName, &d.ReferenceNumber, &d.LegalDate,
			&d.Created, &d.Modified, &d.SortDate, &d.MainFileID, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type PersonDoc struct {
	ID         int64
	Name       string
	GivenName  string
	FamilyName string
	SortDate   *time.Time
	Deleted    bool
}

func (s *Store) PersonsChangedSince(ctx context.Context, since time.Time) ([]PersonDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.given_name, p.family_name, MAX(m.start_date), p.deleted
		FROM person p LEFT JOIN membership m ON m.person_id = p.id AND NOT m.deleted
		WHERE p.modified_at >= $1 AND NOT p.is_stub
		GROUP BY p.id ORDER BY p.id`, since)
	if err != nil {
		return nil, fmt.Errorf("persons changed: %w", err)
	}
	defer rows.Close()

	var out []PersonDoc
	for rows.Next() {
		var d PersonDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.GivenName, &d.FamilyName, &d.SortDate, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type MeetingDoc struct {
	ID        int64
	Name      string
	ShortName string
	Start     *time.Time
	End       *time.Time
	Created   time.Time
	Modified  time.Time
	Geometry  json.RawMessage
	Deleted   bool
}

func (s *Store) MeetingsChangedSince(ctx context.Context, since time.Time) ([]MeetingDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.name, m.short_name, m.start_time, m.end_time, m.created_at, m.modified_at, l.geometry, m.deleted
		FROM meeting m LEFT JOIN location l ON l.id = m.location_id
		WHERE m.modified_at >= $1 AND NOT m.is_stub ORDER BY m.id`, since)
	if err != nil {
		return nil, fmt.Errorf("meetings changed: %w", err)
	}
	defer rows.Close()

	var out []MeetingDoc
	for rows.Next() {
		var d MeetingDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.ShortName, &d.Start, &d.End,
			&d.Created, &d.Modified, &d.Geometry, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AgendaItemRef is an agenda item nested inside its meeting's document.
type AgendaItemRef struct {
	MeetingID int64
	Key       string
	Name      string
	Position  int
	Public    bool
}

func (s *Store) AgendaItemsForMeetings(ctx context.Context, meetingIDs []int64) (map[int64][]AgendaItemRef, error) {
	if len(meetingIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT meeting_id, key, name, position, public FROM agenda_item
		WHERE meeting_id = ANY($1) AND NOT deleted ORDER BY meeting_id, position`, meetingIDs)
	if err != nil {
		return nil, fmt.Errorf("agenda items for meetings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]AgendaItemRef)
	for rows.Next() {
		var a AgendaItemRef
		if err := rows.Scan(&a.MeetingID, &a.Key, &a.Name, &a.Position, &a.Public); err != nil {
			return nil, err
		}
		out[a.MeetingID] = append(out[a.MeetingID], a)
	}
	return out, rows.Err()
}

type OrganizationDoc struct {
	ID        int64
	Name      string
	ShortName string
	Start     *time.Time
	End       *time.Time
	Created   time.Time
	Modified  time.Time
	BodyID    *int64
	BodyName  *string
	Deleted   bool
}

func (s *Store) OrganizationsChangedSince(ctx context.Context, since time.Time) ([]OrganizationDoc, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name, o.short_name, o.start_date, o.end_date, o.created_at, o.modified_at, b.id, b.name, o.deleted
		FROM organization o LEFT JOIN body b ON b.id = o.body_id
		WHERE o.modified_at >= $1 AND NOT o.is_stub ORDER BY o.id`, since)
	if err != nil {
		return nil, fmt.Errorf("organizations changed: %w", err)
	}
	defer rows.Close()

	var out []OrganizationDoc
	for rows.Next() {
		var d OrganizationDoc
		if err := rows.Scan(&d.ID, &d.Name, &d.ShortName, &d.Start, &d.End,
			&d.Created, &d.Modified, &d.BodyID, &d.BodyName, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// EdgeMap fetches the right-hand ids attached to each of the given
// left-hand ids through an edge table. Columns come from internal
// constants.
func (s *Store) EdgeMap(ctx context.Context, table, leftCol, rightCol string, leftIDs []int64) (map[int64][]int64, error) {
	if len(leftIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ANY($1) ORDER BY %s, %s",
		leftCol, rightCol, table, leftCol, leftCol, rightCol)
	rows, err := s.pool.Query(ctx, query, leftIDs)
	if err != nil {
		return nil, fmt.Errorf("edge map %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var left, right int64
		if err := rows.Scan(&left, &right); err != nil {
			return nil, err
		}
		out[left] = append(out[left], right)
	}
	return out, rows.Err()
}

// FileGeometries collects the extracted location geometries of each file.
func (s *Store) FileGeometries(ctx context.Context, fileIDs []int64) (map[int64][]json.RawMessage, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT fl.file_id, l.geometry FROM file_location fl
		JOIN location l ON l.id = fl.location_id
		WHERE fl.file_id = ANY($1) AND l.geometry IS NOT NULL ORDER BY fl.file_id`, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("file geometries: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]json.RawMessage)
	for rows.Next() {
		var id int64
		var geometry json.RawMessage
		if err := rows.Scan(&id, &geometry); err != nil {
			return nil, err
		}
		out[id] = append(out[id], geometry)
	}
	return out, rows.Err()
}
