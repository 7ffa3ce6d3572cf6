package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UngeolocatedAddress is a location with a postal address but no geometry
// yet.
type UngeolocatedAddress struct {
	ID            int64
	StreetAddress string
	PostalCode    string
	Locality      string
}

func (s *Store) UngeolocatedAddresses(ctx context.Context) ([]UngeolocatedAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, street_address, postal_code, locality FROM location
		WHERE geometry IS NULL AND street_address <> '' AND NOT deleted ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ungeolocated addresses: %w", err)
	}
	defer rows.Close()

	var out []UngeolocatedAddress
	for rows.Next() {
		var a UngeolocatedAddress
		if err := rows.Scan(&a.ID, &a.StreetAddress, &a.PostalCode, &a.Locality); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetLocationGeometry(ctx context.Context, id int64, geometry json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE location SET geometry = $2, modified_at = NOW() WHERE id = $1", id, geometry)
	if err != nil {
		return fmt.Errorf("set location geometry %d: %w", id, err)
	}
	return nil
}

// FindOrCreateExtractedLocation stores a location that was found in a
// document text rather than delivered by the remote. Such locations carry
// no external id and are shared by every file mentioning the same place.
func (s *Store) FindOrCreateExtractedLocation(ctx context.Context, description string, geometry json.RawMessage) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM location WHERE external_id IS NULL AND description = $1", description,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("lookup extracted location: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		"INSERT INTO location (description, geometry) VALUES ($1, $2) RETURNING id",
		description, geometry,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create extracted location: %w", err)
	}
	return id, nil
}

// BodyInfo is what the geocoder and corpus loaders need to know about the
// imported body.
type BodyInfo struct {
	ID        int64
	Name      string
	ShortName string
	AGS       string
}

func (s *Store) BodyByExternal(ctx context.Context, externalID string) (BodyInfo, error) {
	var b BodyInfo
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, short_name, ags FROM body WHERE external_id = $1", externalID,
	).Scan(&b.ID, &b.Name, &b.ShortName, &b.AGS)
	if errors.Is(err, pgx.ErrNoRows) {
		return BodyInfo{}, fmt.Errorf("body %s: not found", externalID)
	}
	if err != nil {
		return BodyInfo{}, fmt.Errorf("body %s: %w", externalID, err)
	}
	return b, nil
}

// SetBodyGeo fills in the administrative outline and its center point
// where the remote delivered none, without advancing the body's modified
// timestamp, so geodata refreshes alone do not mark the record changed.
func (s *Store) SetBodyGeo(ctx context.Context, id int64, outline, center json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE body SET outline = COALESCE(outline, $2), center = COALESCE(center, $3) WHERE id = $1",
		id, outline, center)
	if err != nil {
		return fmt.Errorf("set body geo %d: %w", id, err)
	}
	return nil
}
