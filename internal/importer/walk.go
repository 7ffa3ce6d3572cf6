package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"ratsmirror/internal/externalize"
	"ratsmirror/internal/loader"
	"ratsmirror/internal/oparl"
	"ratsmirror/internal/store"
)

// listKeys are the external list endpoints walked per body.
var listKeys = []string{"paper", "meeting", "person", "organization"}

const stageBatchSize = 100

// walkList pages through one external list, externalizes every object and
// stages the flattened set. Returns the URLs of the top-level objects, in
// list order.
func (im *Importer) walkList(ctx context.Context, client loader.Client, listURL string, since *time.Time) ([]string, error) {
	var (
		tops  []string
		batch []store.Cached
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.StageObjects(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	query := url.Values{}
	if since != nil {
		query.Set("modified_since", since.UTC().Format(time.RFC3339))
	}

	pageURL := listURL
	pages := 0
	for pageURL != "" {
		obj, outcome, err := client.FetchJSON(ctx, pageURL, query)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", pageURL, err)
		}
		if outcome == loader.OutcomeEmpty {
			break
		}
		page := oparl.ParsePage(obj)
		for _, top := range page.Data {
			res := externalize.Externalize(top, im.logger)
			if err := im.compareEmbedded(ctx, client, top.ID(), res); err != nil {
				return nil, err
			}
			for _, part := range res.Objects {
				raw, err := json.Marshal(part.Data)
				if err != nil {
					return nil, err
				}
				batch = append(batch, store.Cached{URL: part.URL, Type: part.Type, Data: raw})
			}
			tops = append(tops, top.ID())
			if len(batch) >= stageBatchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		// The next link already carries the query of the first request.
		query = nil
		pageURL = page.Next
		pages++
	}
	if err := flush(); err != nil {
		return nil, err
	}
	im.logger.Info("list walked", "url", listURL, "pages", pages, "objects", len(tops))
	return tops, nil
}

// walkBodyLists walks the four list endpoints of a body concurrently.
// Pages within one list stay sequential to honour the next links.
func (im *Importer) walkBodyLists(ctx context.Context, client loader.Client, body oparl.Object, since map[string]*time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range listKeys {
		listURL := body.String(key)
		if listURL == "" {
			im.logger.Warn("body lacks a list endpoint", "list", key)
			continue
		}
		g.Go(func() error {
			_, err := im.walkList(gctx, client, listURL, since[listURL])
			return err
		})
	}
	return g.Wait()
}

// compareEmbedded diffs the embedded references of a re-fetched object
// against the staged snapshot of the previous run. References that fell
// out of an embedded list may have been deleted or moved upstream, so each
// one is fetched again by id and restaged.
func (im *Importer) compareEmbedded(ctx context.Context, client loader.Client, topURL string, res externalize.Result) error {
	if len(res.Keys) == 0 {
		return nil
	}
	previous, found, err := im.store.CachedByURL(ctx, topURL)
	if err != nil || !found {
		return err
	}
	var old oparl.Object
	if err := json.Unmarshal(previous.Data, &old); err != nil {
		// A corrupt previous snapshot only costs the removal check.
		im.logger.Warn("unreadable previous snapshot", "url", topURL, "error", err)
		return nil
	}

	current := make(map[string]bool)
	for _, part := range res.Objects {
		current[part.URL] = true
	}
	for _, key := range res.Keys {
		for _, ref := range old.StringList(key) {
			if current[ref] {
				continue
			}
			im.logger.Info("embedded reference vanished, refetching", "url", ref, "key", key)
			if err := im.refetch(ctx, client, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// refetch re-stages one object by URL. A permanent 404 is represented as a
// deletion stub so the resolver phase retires the record.
func (im *Importer) refetch(ctx context.Context, client loader.Client, rawURL string) error {
	obj, outcome, err := client.FetchJSON(ctx, rawURL, nil)
	if err != nil {
		if loader.IsNotFound(err) || loader.IsPermanent(err) {
			previous, found, lookupErr := im.store.CachedByURL(ctx, rawURL)
			if lookupErr != nil || !found {
				return lookupErr
			}
			obj = oparl.Object{"id": rawURL, "type": oparl.SchemaPrefix + previous.Type, "deleted": true}
			raw, _ := json.Marshal(obj)
			if err := im.store.StageObjects(ctx, []store.Cached{{URL: rawURL, Type: previous.Type, Data: raw}}); err != nil {
				return err
			}
			return im.store.MarkToImport(ctx, []string{rawURL})
		}
		return err
	}
	if outcome != loader.OutcomeOK {
		return nil
	}
	res := externalize.Externalize(obj, im.logger)
	batch := make([]store.Cached, 0, len(res.Objects))
	for _, part := range res.Objects {
		raw, err := json.Marshal(part.Data)
		if err != nil {
			return err
		}
		batch = append(batch, store.Cached{URL: part.URL, Type: part.Type, Data: raw})
	}
	if err := im.store.StageObjects(ctx, batch); err != nil {
		return err
	}
	// The payload may be byte-identical to the staged copy; the losing
	// parent still requires the object to go through the resolver again.
	return im.store.MarkToImport(ctx, []string{rawURL})
}
