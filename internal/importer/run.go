package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ratsmirror/internal/entity"
	"ratsmirror/internal/externalize"
	"ratsmirror/internal/loader"
	"ratsmirror/internal/oparl"
	"ratsmirror/internal/reconcile"
	"ratsmirror/internal/resolver"
	"ratsmirror/internal/store"
)

// ImportBody runs a full import: walk every list endpoint of the target
// body, reconcile the complete snapshot type by type, refresh the search
// index and download pending files. target empty selects the first body
// the system publishes.
func (im *Importer) ImportBody(ctx context.Context, target string) error {
	start := time.Now().UTC()
	client, err := im.connect(ctx)
	if err != nil {
		return err
	}
	rsv, err := im.newResolver(client)
	if err != nil {
		return err
	}

	body, err := im.selectBody(ctx, client, target)
	if err != nil {
		return err
	}
	target = body.ID()
	if err := im.stageObject(ctx, body); err != nil {
		return err
	}
	// Leftover staged bodies from an aborted earlier run must not be
	// imported alongside.
	if err := im.store.SkipOtherBodies(ctx, oparl.TypeBody, target); err != nil {
		return err
	}
	if _, err := rsv.Resolve(ctx, oparl.TypeBody, target); err != nil {
		return err
	}
	info, err := im.store.BodyByExternal(ctx, target)
	if err != nil {
		return err
	}
	rsv.SetDefaultBody(info.ID, info.ShortName)
	im.logger.Info("importing body", "body", info.Name, "ags", info.AGS)
	im.setupBodyGeo(ctx, info)

	if err := im.walkBodyLists(ctx, client, body, nil); err != nil {
		return err
	}
	if err := im.resolveAll(ctx, rsv, true); err != nil {
		return err
	}
	if err := im.store.UpdatePaperSortDates(ctx); err != nil {
		return err
	}
	if err := im.indexChanged(ctx, start); err != nil {
		return err
	}
	for _, key := range listKeys {
		if listURL := body.String(key); listURL != "" {
			if err := im.store.SetListWatermark(ctx, listURL, start); err != nil {
				return err
			}
		}
	}
	im.geocodeMissing(ctx, info)
	return im.runFilePipeline(ctx, client, info, nil)
}

// Update runs an incremental import: fetch only objects modified since the
// stored watermarks and upsert them one by one.
func (im *Importer) Update(ctx context.Context, target string) error {
	start := time.Now().UTC()
	client, err := im.connect(ctx)
	if err != nil {
		return err
	}
	rsv, err := im.newResolver(client)
	if err != nil {
		return err
	}

	body, err := im.selectBody(ctx, client, target)
	if err != nil {
		return err
	}
	target = body.ID()
	info, err := im.store.BodyByExternal(ctx, target)
	if err != nil {
		return fmt.Errorf("body was never imported, run a full import first: %w", err)
	}
	rsv.SetDefaultBody(info.ID, info.ShortName)
	im.logger.Info("updating body", "body", info.Name)

	since := make(map[string]*time.Time, len(listKeys))
	if !im.cfg.IgnoreModified {
		for _, key := range listKeys {
			listURL := body.String(key)
			if listURL == "" {
				continue
			}
			wm, found, err := im.store.ListWatermark(ctx, listURL)
			if err != nil {
				return err
			}
			if found {
				since[listURL] = &wm
			}
		}
	}

	if err := im.walkBodyLists(ctx, client, body, since); err != nil {
		return err
	}
	if err := im.resolveAll(ctx, rsv, false); err != nil {
		return err
	}
	if err := im.store.UpdatePaperSortDates(ctx); err != nil {
		return err
	}
	if err := im.indexChanged(ctx, start); err != nil {
		return err
	}
	// Watermarks advance only after reconciliation went through.
	for _, key := range listKeys {
		if listURL := body.String(key); listURL != "" {
			if err := im.store.SetListWatermark(ctx, listURL, start); err != nil {
				return err
			}
		}
	}
	im.geocodeMissing(ctx, info)
	return im.runFilePipeline(ctx, client, info, nil)
}

// ImportFiles re-runs the file pipeline, either for every pending file or
// for an explicit id list (which bypasses the manually_deleted filter).
func (im *Importer) ImportFiles(ctx context.Context, target string, ids []int64) error {
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
	return im.runFilePipeline(ctx, client, info, ids)
}

// Clear purges every entity whose external id starts with prefix, along
// with the staged JSON and the stored file blobs.
func (im *Importer) Clear(ctx context.Context, prefix string) error {
	fileIDs, err := im.store.FileIDsWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, id := range fileIDs {
		if err := im.objects.RemoveFile(ctx, id); err != nil {
			im.logger.Warn("removing stored file failed", "file", id, "error", err)
		}
	}
	n, err := im.store.ClearPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	im.logger.Info("cleared", "prefix", prefix, "records", n, "blobs", len(fileIDs))
	return nil
}

// selectBody walks the system's body list and picks the target. target
// empty selects the first body.
func (im *Importer) selectBody(ctx context.Context, client loader.Client, target string) (oparl.Object, error) {
	listURL := client.System().String("body")
	if listURL == "" {
		return nil, fmt.Errorf("system document lists no bodies")
	}
	pageURL := listURL
	for pageURL != "" {
		obj, outcome, err := client.FetchJSON(ctx, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnreachable, pageURL, err)
		}
		if outcome == loader.OutcomeEmpty {
			break
		}
		page := oparl.ParsePage(obj)
		for _, body := range page.Data {
			if target == "" || body.ID() == target {
				return body, nil
			}
		}
		pageURL = page.Next
	}
	if target == "" {
		return nil, fmt.Errorf("body list at %s is empty", listURL)
	}
	return nil, fmt.Errorf("body %s not found in %s", target, listURL)
}

// stageObject externalizes one object and stages the flattened parts.
func (im *Importer) stageObject(ctx context.Context, obj oparl.Object) error {
	res := externalize.Externalize(obj, im.logger)
	batch := make([]store.Cached, 0, len(res.Objects))
	for _, part := range res.Objects {
		raw, err := json.Marshal(part.Data)
		if err != nil {
			return err
		}
		batch = append(batch, store.Cached{URL: part.URL, Type: part.Type, Data: raw})
	}
	return im.store.StageObjects(ctx, batch)
}

// resolveAll converts the staged objects in type order. In snapshot mode
// every cached object of a type, changed or not, is reconciled as the
// complete incoming set; otherwise only the pending objects are upserted
// individually and only their own edges are replaced.
func (im *Importer) resolveAll(ctx context.Context, rsv *resolver.Resolver, snapshot bool) error {
	manuallyDeleted, err := im.store.ManuallyDeletedFileIDs(ctx)
	if err != nil {
		return err
	}
	edgeRows := make(map[string][][]any)

	for _, typeName := range oparl.ImportOrder {
		table, _ := resolver.TableForType(typeName)
		var pending []store.Cached
		if snapshot {
			pending, err = im.store.CachedObjects(ctx, typeName)
			for _, edgeTable := range resolver.EdgeTables(typeName) {
				if _, ok := edgeRows[edgeTable]; !ok {
					edgeRows[edgeTable] = nil
				}
			}
		} else {
			pending, err = im.store.PendingObjects(ctx, typeName)
		}
		if err != nil {
			return err
		}
		if len(pending) == 0 && !snapshot {
			continue
		}
		im.logger.Info("resolving", "type", typeName, "objects", len(pending))

		var (
			rows    [][]any
			live    []oparl.Object
			skipped int
		)
		for _, cached := range pending {
			var obj oparl.Object
			if err := json.Unmarshal(cached.Data, &obj); err != nil {
				im.logger.Error("corrupt staged object", "url", cached.URL, "error", err)
				skipped++
				continue
			}
			if obj.Deleted() {
				if !snapshot {
					if err := im.retire(ctx, table, cached.URL); err != nil {
						return err
					}
				}
				continue
			}
			if snapshot {
				converted, err := rsv.Convert(ctx, obj)
				if err != nil {
					im.logger.Error("object not convertible", "url", cached.URL, "error", err)
					skipped++
					continue
				}
				rows = append(rows, converted.Row)
			} else {
				if _, err := rsv.Apply(ctx, obj); err != nil {
					im.logger.Error("object not importable", "url", cached.URL, "error", err)
					skipped++
					continue
				}
			}
			live = append(live, obj)
		}

		if snapshot {
			opts := reconcile.Options{AllowShrinkage: im.cfg.AllowShrinkage, Logger: im.logger}
			if table == entity.TableFile {
				opts.KeepDeleted = manuallyDeleted
			}
			stats, err := reconcile.Run(ctx, im.store, reconcile.Specs[table], rows, opts)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", table, err)
			}
			im.logger.Info("reconciled", "type", typeName,
				"created", stats.Created, "updated", stats.Updated,
				"deleted", stats.Deleted, "undeleted", stats.Undeleted, "skipped", skipped)
		}

		var ownIDs map[string]int64
		if len(live) > 0 {
			ownIDs, err = im.store.ExternalIDMap(ctx, table)
			if err != nil {
				return err
			}
		}
		for _, obj := range live {
			edges, err := rsv.ConvertEdges(ctx, obj)
			if err != nil {
				im.logger.Error("edges not resolvable", "url", obj.ID(), "error", err)
				continue
			}
			if edges == nil {
				continue
			}
			ownID, found := ownIDs[obj.ID()]
			if !found {
				continue
			}
			for edgeTable, rightIDs := range edges {
				if snapshot {
					if _, ok := edgeRows[edgeTable]; !ok {
						edgeRows[edgeTable] = nil
					}
					for _, rightID := range rightIDs {
						edgeRows[edgeTable] = append(edgeRows[edgeTable], []any{ownID, rightID})
					}
				} else {
					spec := reconcile.EdgeSpecs[edgeTable]
					if err := im.store.ReplaceEdges(ctx, edgeTable, spec.Fields[0], spec.Fields[1], ownID, rightIDs); err != nil {
						return err
					}
				}
			}
		}
		if err := im.store.MarkImported(ctx, typeName); err != nil {
			return err
		}
	}

	if snapshot {
		for edgeTable, rows := range edgeRows {
			spec := reconcile.EdgeSpecs[edgeTable]
			stats, err := reconcile.Run(ctx, im.store, spec, rows, reconcile.Options{Logger: im.logger})
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", edgeTable, err)
			}
			if stats.Created > 0 || stats.Deleted > 0 {
				im.logger.Info("edges reconciled", "table", edgeTable,
					"created", stats.Created, "deleted", stats.Deleted)
			}
		}
	}
	return nil
}

// retire soft-deletes the record behind a deleted stub, if it exists.
func (im *Importer) retire(ctx context.Context, table, externalID string) error {
	id, found, err := im.store.IDByExternal(ctx, table, externalID)
	if err != nil || !found {
		return err
	}
	im.logger.Info("remote deleted an object", "table", table, "url", externalID)
	return im.store.SetDeleted(ctx, table, []int64{id}, true)
}
