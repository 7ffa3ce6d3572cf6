// Package importer drives complete import runs: system discovery, list
// walking, staged conversion, reconciliation, search indexing and the file
// pipeline, in that order.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ratsmirror/internal/config"
	"ratsmirror/internal/files"
	"ratsmirror/internal/geo"
	"ratsmirror/internal/loader"
	"ratsmirror/internal/objectstore"
	"ratsmirror/internal/resolver"
	"ratsmirror/internal/search"
	"ratsmirror/internal/store"
)

// ErrRemoteUnreachable wraps connection failures against the upstream
// service so the command layer can map them to an exit code.
var ErrRemoteUnreachable = errors.New("remote unreachable")

type Importer struct {
	store    *store.Store
	objects  *objectstore.Store
	search   *search.Client
	geocoder geo.Geocoder
	overpass *geo.Overpass
	cfg      *config.Config
	logger   *slog.Logger
}

func New(st *store.Store, objects *objectstore.Store, searchClient *search.Client,
	geocoder geo.Geocoder, overpass *geo.Overpass, cfg *config.Config, logger *slog.Logger) (*Importer, error) {
	if st == nil {
		return nil, errors.New("importer: store is required")
	}
	if objects == nil {
		return nil, errors.New("importer: object store is required")
	}
	if cfg == nil {
		return nil, errors.New("importer: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store: st, objects: objects, search: searchClient,
		geocoder: geocoder, overpass: overpass,
		cfg: cfg, logger: logger.With("run", uuid.NewString()),
	}, nil
}

// Setup provisions the database schema, the storage buckets and the search
// indexes.
func (im *Importer) Setup(ctx context.Context) error {
	if err := im.store.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := im.objects.EnsureBuckets(ctx); err != nil {
		return err
	}
	if im.search != nil {
		if err := im.search.EnsureIndexes(ctx, false); err != nil {
			return err
		}
	}
	im.logger.Info("storage provisioned")
	return nil
}

// connect builds the vendor-profiled loader client for this run. Raw JSON
// responses are archived in the object store cache bucket.
func (im *Importer) connect(ctx context.Context) (loader.Client, error) {
	entrypoint := im.cfg.EffectiveEntrypoint()
	if entrypoint == "" {
		return nil, errors.New("no entrypoint configured")
	}
	client, err := loader.FromSystem(ctx, entrypoint, loader.Options{
		Cache:  im.objects,
		Logger: im.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, entrypoint, err)
	}
	im.logger.Info("connected", "entrypoint", entrypoint, "profile", client.ProfileName())
	return client, nil
}

func (im *Importer) newResolver(client loader.Client) (*resolver.Resolver, error) {
	return resolver.New(im.store, client, im.geocoder, resolver.Options{
		SearchSuffix: im.cfg.SearchSuffix,
		CityAffixes:  im.cfg.CityAffixes,
		Logger:       im.logger,
	})
}

// runFilePipeline downloads pending files and mines their text. ids nil
// means every pending file.
func (im *Importer) runFilePipeline(ctx context.Context, client loader.Client, body store.BodyInfo, ids []int64) error {
	if !im.cfg.DownloadFiles && ids == nil {
		im.logger.Info("file downloads disabled")
		return nil
	}
	extractor, err := im.buildExtractor(ctx, body.ID)
	if err != nil {
		return err
	}
	pipeline, err := files.NewPipeline(im.store, im.objects, client, extractor, im.geocoder, files.Options{
		Workers:      im.cfg.Workers(),
		FallbackCity: im.fallbackCity(body),
		SearchSuffix: im.cfg.SearchSuffix,
		Logger:       im.logger,
	})
	if err != nil {
		return err
	}
	if err := pipeline.RepairStorage(ctx); err != nil {
		return err
	}
	_, err = pipeline.Run(ctx, ids)
	return err
}

func (im *Importer) fallbackCity(body store.BodyInfo) string {
	if im.cfg.FallbackCity != "" {
		return im.cfg.FallbackCity
	}
	return body.ShortName
}

// geocodeMissing retries locations that arrived as a bare postal address
// without geometry, which several remotes deliver. Failures leave the
// location ungeocoded for the next run.
func (im *Importer) geocodeMissing(ctx context.Context, body store.BodyInfo) {
	if im.geocoder == nil {
		return
	}
	addrs, err := im.store.UngeolocatedAddresses(ctx)
	if err != nil {
		im.logger.Warn("loading ungeolocated addresses failed", "error", err)
		return
	}
	resolved := 0
	for _, a := range addrs {
		query := geo.BuildQuery(a.StreetAddress, a.PostalCode, a.Locality,
			im.fallbackCity(body), im.cfg.SearchSuffix)
		geometry, err := im.geocoder.Geocode(ctx, query)
		if err != nil {
			im.logger.Warn("geocoding failed", "query", query, "error", err)
			continue
		}
		if geometry == nil {
			continue
		}
		if err := im.store.SetLocationGeometry(ctx, a.ID, geometry); err != nil {
			im.logger.Warn("storing geometry failed", "location", a.ID, "error", err)
			continue
		}
		resolved++
	}
	if len(addrs) > 0 {
		im.logger.Info("geocoded stored addresses",
			"resolved", resolved, "open", len(addrs)-resolved)
	}
}

// buildExtractor loads the street and POI corpora of the body. An empty
// corpus is fine; the pattern extractor still works.
func (im *Importer) buildExtractor(ctx context.Context, bodyID int64) (*geo.Extractor, error) {
	streets, err := im.store.StreetNames(ctx, bodyID)
	if err != nil {
		return nil, err
	}
	pois, err := im.store.POINames(ctx, bodyID)
	if err != nil {
		return nil, err
	}
	return geo.NewExtractor(streets, pois), nil
}

// indexChanged pushes everything the run touched into the search index.
func (im *Importer) indexChanged(ctx context.Context, cutoff time.Time) error {
	if im.search == nil {
		return nil
	}
	indexer, err := search.NewIndexer(im.store, im.search, im.logger)
	if err != nil {
		return err
	}
	stats, err := indexer.IndexChanged(ctx, cutoff)
	if err != nil {
		return err
	}
	im.logger.Info("search index updated", "indexed", stats.Indexed, "removed", stats.Removed)
	return nil
}

// setupBodyGeo fills in the administrative geography of a freshly imported
// body: street corpus for the text extractor and, when the remote did not
// deliver one, the municipal outline. Failures are logged, not fatal; the
// services involved are best-effort.
func (im *Importer) setupBodyGeo(ctx context.Context, body store.BodyInfo) {
	if im.overpass == nil || body.AGS == "" {
		return
	}
	streets, err := im.overpass.StreetNames(ctx, body.AGS)
	if err != nil {
		im.logger.Warn("street corpus unavailable", "ags", body.AGS, "error", err)
	} else if len(streets) > 0 {
		if err := im.store.ReplaceStreets(ctx, body.ID, streets); err != nil {
			im.logger.Warn("storing street corpus failed", "error", err)
		} else {
			im.logger.Info("street corpus imported", "streets", len(streets))
		}
	}

	outline, center, err := im.overpass.Outline(ctx, body.AGS)
	if err != nil {
		im.logger.Warn("outline unavailable", "ags", body.AGS, "error", err)
		return
	}
	if err := im.store.SetBodyGeo(ctx, body.ID, outline, center); err != nil {
		im.logger.Warn("storing outline failed", "error", err)
	}
}
