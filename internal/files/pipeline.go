// Package files downloads the documents referenced by an import, stores
// their bytes in the object store and mines the text layer for addresses
// and person mentions.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ratsmirror/internal/geo"
	"ratsmirror/internal/loader"
	"ratsmirror/internal/objectstore"
	"ratsmirror/internal/store"
)

// ErrAllFilesFailed reports a run where not a single download succeeded,
// which points at a systemic problem rather than a few dead links.
var ErrAllFilesFailed = errors.New("all file downloads failed")

const defaultMaxFileSize = 1 << 30

type Options struct {
	// Workers caps the concurrent downloads. 1 forces sequential
	// processing.
	Workers int
	// MaxFileSize skips files larger than this many bytes instead of
	// parsing them in memory.
	MaxFileSize int64
	// FallbackCity completes extracted addresses that name no city.
	FallbackCity string
	SearchSuffix string
	Logger       *slog.Logger
}

// Pipeline wires the download loop to its collaborators. Extractor and
// Geocoder are optional; without them files are stored and parsed but not
// mined for locations.
type Pipeline struct {
	store     *store.Store
	objects   *objectstore.Store
	client    loader.Client
	extractor *geo.Extractor
	geocoder  geo.Geocoder
	opts      Options
}

func NewPipeline(st *store.Store, objects *objectstore.Store, client loader.Client,
	extractor *geo.Extractor, geocoder geo.Geocoder, opts Options) (*Pipeline, error) {
	if st == nil {
		return nil, errors.New("files: store is required")
	}
	if objects == nil {
		return nil, errors.New("files: object store is required")
	}
	if client == nil {
		return nil, errors.New("files: loader client is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store: st, objects: objects, client: client,
		extractor: extractor, geocoder: geocoder, opts: opts,
	}, nil
}

type Stats struct {
	Downloaded int
	Failed     int
	Skipped    int
}

// Run downloads all pending files, or exactly the given ids when set.
// Individual failures are logged and counted; the run only errors when
// every single download failed.
func (p *Pipeline) Run(ctx context.Context, ids []int64) (Stats, error) {
	pending, err := p.store.PendingFiles(ctx, ids)
	if err != nil {
		return Stats{}, err
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	persons, err := p.store.PersonNames(ctx)
	if err != nil {
		return Stats{}, err
	}
	matcher := NewPersonMatcher(persons)

	var downloaded, failed, skipped atomic.Int64
	tasks := make(chan store.PendingFile)
	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range tasks {
				switch err := p.process(ctx, f, matcher); {
				case err == nil:
					downloaded.Add(1)
				case errors.Is(err, errFileSkipped):
					skipped.Add(1)
				default:
					failed.Add(1)
					p.opts.Logger.Warn("file download failed", "file", f.ID, "error", err)
				}
			}
		}()
	}
	for _, f := range pending {
		select {
		case tasks <- f:
		case <-ctx.Done():
			close(tasks)
			wg.Wait()
			return Stats{}, ctx.Err()
		}
	}
	close(tasks)
	wg.Wait()

	stats := Stats{
		Downloaded: int(downloaded.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
	}
	p.opts.Logger.Info("file pipeline finished",
		"downloaded", stats.Downloaded, "failed", stats.Failed, "skipped", stats.Skipped)
	if stats.Downloaded == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("%d of %d: %w", stats.Failed, len(pending), ErrAllFilesFailed)
	}
	return stats, nil
}

var errFileSkipped = errors.New("file skipped")

func (p *Pipeline) process(ctx context.Context, f store.PendingFile, matcher *PersonMatcher) error {
	url := ""
	if f.DownloadURL != nil && *f.DownloadURL != "" {
		url = *f.DownloadURL
	} else if f.AccessURL != nil && *f.AccessURL != "" {
		url = *f.AccessURL
	}
	if url == "" {
		return errFileSkipped
	}

	data, contentType, err := p.client.FetchFile(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(data)) > p.opts.MaxFileSize {
		p.opts.Logger.Warn("file exceeds size limit", "file", f.ID, "size", len(data))
		return errFileSkipped
	}
	if f.MimeType != "text/html" && LooksLikeHTML(contentType, data) {
		return fmt.Errorf("fetch %s: got an html page instead of the file", url)
	}

	mimeType := f.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = contentType
	}

	if err := p.objects.PutFile(ctx, f.ID, data, mimeType); err != nil {
		return err
	}

	text, pageCount, err := ExtractText(data, mimeType)
	if err != nil {
		// The bytes are stored; a broken text layer only costs search
		// coverage.
		p.opts.Logger.Warn("text extraction failed", "file", f.ID, "error", err)
		text, pageCount = nil, nil
	}
	if err := p.store.SaveFileContent(ctx, f.ID, int64(len(data)), mimeType, pageCount, text); err != nil {
		return err
	}

	if text != nil && *text != "" {
		if err := p.mine(ctx, f.ID, *text, matcher); err != nil {
			p.opts.Logger.Warn("reference extraction failed", "file", f.ID, "error", err)
		}
	}
	return nil
}

// mine extracts location and person references from the parsed text and
// attaches them to the file.
func (p *Pipeline) mine(ctx context.Context, fileID int64, text string, matcher *PersonMatcher) error {
	personIDs := matcher.Match(text)

	var locationIDs []int64
	if p.extractor != nil {
		for _, found := range p.extractor.Extract(text) {
			var geometry []byte
			if p.geocoder != nil {
				query := geo.BuildQuery(found.Desc(), "", "", p.opts.FallbackCity, p.opts.SearchSuffix)
				g, err := p.geocoder.Geocode(ctx, query)
				if err != nil {
					p.opts.Logger.Warn("geocoding failed", "query", query, "error", err)
				} else {
					geometry = g
				}
			}
			id, err := p.store.FindOrCreateExtractedLocation(ctx, found.Desc(), geometry)
			if err != nil {
				return err
			}
			locationIDs = append(locationIDs, id)
		}
	}

	if len(personIDs) == 0 && len(locationIDs) == 0 {
		return nil
	}
	return p.store.ReplaceFileReferences(ctx, fileID, locationIDs, personIDs)
}

// RepairStorage reconciles the database against the object store at
// startup: a record that claims stored content but has no blob is reset
// so the next run downloads it again.
func (p *Pipeline) RepairStorage(ctx context.Context) error {
	ids, err := p.store.DownloadedFiles(ctx)
	if err != nil {
		return err
	}
	repaired := 0
	for _, id := range ids {
		_, ok, err := p.objects.StatFile(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := p.store.ResetFileContent(ctx, id); err != nil {
			return err
		}
		repaired++
	}
	if repaired > 0 {
		p.opts.Logger.Info("reset files with missing blobs", "count", repaired)
	}
	return nil
}
