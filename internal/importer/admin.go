package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratsmirror/internal/entity"
)

// ImportAmenities loads named points of interest of one kind, for example
// "school", from OpenStreetMap into the body's POI corpus. The corpus
// feeds the location extractor of the file pipeline.
func (im *Importer) ImportAmenities(ctx context.Context, target, amenity string) error {
	if im.overpass == nil {
		return errors.New("no overpass endpoint configured")
	}
	client, err := im.connect(ctx)
	if err != nil {
		return err
	}
	body, err := im.selectBody(ctx, client, target)
	if err != nil {
		return err
	}
	info, err := im.store.BodyByExternal(ctx, body.ID())
	if err != nil {
		return err
	}
	if info.AGS == "" {
		return fmt.Errorf("body %s has no municipality code", info.Name)
	}
	pois, err := im.overpass.Amenities(ctx, info.AGS, amenity)
	if err != nil {
		return err
	}
	if err := im.store.ReplacePOIs(ctx, info.ID, pois); err != nil {
		return err
	}
	im.logger.Info("amenities imported", "amenity", amenity, "count", len(pois))
	return nil
}

// DeleteFiles removes the stored blobs of the given files and marks them
// manually deleted, so reconciliation keeps them retired even while the
// remote still lists them.
func (im *Importer) DeleteFiles(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := im.store.FileByID(ctx, id); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := im.objects.RemoveFile(ctx, id); err != nil {
			im.logger.Warn("removing stored file failed", "file", id, "error", err)
		}
		if err := im.store.ResetFileContent(ctx, id); err != nil {
			return err
		}
	}
	if err := im.store.SetManuallyDeleted(ctx, ids, true); err != nil {
		return err
	}
	return im.store.SetDeleted(ctx, entity.TableFile, ids, true)
}

// RestoreFiles lifts the manual deletion mark; the next file pipeline run
// downloads the content again.
func (im *Importer) RestoreFiles(ctx context.Context, ids []int64) error {
	if err := im.store.SetManuallyDeleted(ctx, ids, false); err != nil {
		return err
	}
	return im.store.SetDeleted(ctx, entity.TableFile, ids, false)
}

// FileLink returns a presigned download URL for one stored file.
func (im *Importer) FileLink(ctx context.Context, id int64, expiry time.Duration) (string, error) {
	if _, err := im.store.FileByID(ctx, id); err != nil {
		return "", err
	}
	u, err := im.objects.PresignFile(ctx, id, expiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// FileContent fetches the stored blob of one file, along with its name.
func (im *Importer) FileContent(ctx context.Context, id int64) (string, []byte, error) {
	rec, err := im.store.FileByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	content, err := im.objects.GetFile(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return rec.Name, content, nil
}
