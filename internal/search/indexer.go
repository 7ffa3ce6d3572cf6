package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ratsmirror/internal/store"
)

// Indexer feeds changed records from the relational store into the search
// indexes. Updates are driven by the records' modified timestamps, so a
// run after an import picks up exactly what the import touched.
type Indexer struct {
	store  *store.Store
	client *Client
	logger *slog.Logger
}

func NewIndexer(st *store.Store, client *Client, logger *slog.Logger) (*Indexer, error) {
	if st == nil {
		return nil, fmt.Errorf("search: store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("search: client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: st, client: client, logger: logger}, nil
}

// Stats reports one indexing run.
type Stats struct {
	Indexed int
	Removed int
}

// IndexChanged indexes everything modified at or after the cutoff and
// removes documents for soft-deleted records. Pass the zero time for a
// full rebuild.
func (ix *Indexer) IndexChanged(ctx context.Context, since time.Time) (Stats, error) {
	var total Stats
	for _, step := range []struct {
		kind string
		run  func(context.Context, time.Time) (Stats, error)
	}{
		{KindFile, ix.indexFiles},
		{KindPaper, ix.indexPapers},
		{KindPerson, ix.indexPersons},
		{KindMeeting, ix.indexMeetings},
		{KindOrganization, ix.indexOrganizations},
	} {
		stats, err := step.run(ctx, since)
		if err != nil {
			return total, fmt.Errorf("index %s: %w", step.kind, err)
		}
		if stats != (Stats{}) {
			ix.logger.Info("indexed", "kind", step.kind,
				"documents", stats.Indexed, "removed", stats.Removed)
		}
		total.Indexed += stats.Indexed
		total.Removed += stats.Removed
	}
	return total, nil
}

func (ix *Indexer) indexFiles(ctx context.Context, since time.Time) (Stats, error) {
	changed, err := ix.store.FilesChangedSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	var ids []int64
	for _, f := range changed {
		if !f.Deleted {
			ids = append(ids, f.ID)
		}
	}
	persons, err := ix.store.EdgeMap(ctx, "file_person", "file_id", "person_id", ids)
	if err != nil {
		return Stats{}, err
	}
	geometries, err := ix.store.FileGeometries(ctx, ids)
	if err != nil {
		return Stats{}, err
	}

	docs := make(map[int64]any)
	var deletes []int64
	for _, f := range changed {
		if f.Deleted {
			deletes = append(deletes, f.ID)
			continue
		}
		docs[f.ID] = fileDocument(f, persons[f.ID], geometries[f.ID])
	}
	return ix.apply(ctx, KindFile, docs, deletes)
}

func (ix *Indexer) indexPapers(ctx context.Context, since time.Time) (Stats, error) {
	changed, err := ix.store.PapersChangedSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	var ids []int64
	for _, p := range changed {
		if !p.Deleted {
			ids = append(ids, p.ID)
		}
	}
	persons, err := ix.store.EdgeMap(ctx, "paper_person", "paper_id", "person_id", ids)
	if err != nil {
		return Stats{}, err
	}
	organizations, err := ix.store.EdgeMap(ctx, "paper_organization", "paper_id", "organization_id", ids)
	if err != nil {
		return Stats{}, err
	}

	docs := make(map[int64]any)
	var deletes []int64
	for _, p := range changed {
		if p.Deleted {
			deletes = append(deletes, p.ID)
			continue
		}
		docs[p.ID] = paperDocument(p, persons[p.ID], organizations[p.ID])
	}
	return ix.apply(ctx, KindPaper, docs, deletes)
}

func (ix *Indexer) indexPersons(ctx context.Context, since time.Time) (Stats, error) {
	changed, err := ix.store.PersonsChangedSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	var ids []int64
	for _, p := range changed {
		if !p.Deleted {
			ids = append(ids, p.ID)
		}
	}
	organizations, err := ix.store.EdgeMap(ctx, "membership", "person_id", "organization_id", ids)
	if err != nil {
		return Stats{}, err
	}

	docs := make(map[int64]any)
	var deletes []int64
	for _, p := range changed {
		if p.Deleted {
			deletes = append(deletes, p.ID)
			continue
		}
		docs[p.ID] = personDocument(p, organizations[p.ID])
	}
	return ix.apply(ctx, KindPerson, docs, deletes)
}

func (ix *Indexer) indexMeetings(ctx context.Context, since time.Time) (Stats, error) {
	changed, err := ix.store.MeetingsChangedSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	var ids []int64
	for _, m := range changed {
		if !m.Deleted {
			ids = append(ids, m.ID)
		}
	}
	items, err := ix.store.AgendaItemsForMeetings(ctx, ids)
	if err != nil {
		return Stats{}, err
	}

	docs := make(map[int64]any)
	var deletes []int64
	for _, m := range changed {
		if m.Deleted {
			deletes = append(deletes, m.ID)
			continue
		}
		docs[m.ID] = meetingDocument(m, items[m.ID])
	}
	return ix.apply(ctx, KindMeeting, docs, deletes)
}

func (ix *Indexer) indexOrganizations(ctx context.Context, since time.Time) (Stats, error) {
	changed, err := ix.store.OrganizationsChangedSince(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	docs := make(map[int64]any)
	var deletes []int64
	for _, o := range changed {
		if o.Deleted {
			deletes = append(deletes, o.ID)
			continue
		}
		docs[o.ID] = organizationDocument(o)
	}
	return ix.apply(ctx, KindOrganization, docs, deletes)
}

const bulkBatchSize = 500

func (ix *Indexer) apply(ctx context.Context, kind string, docs map[int64]any, deletes []int64) (Stats, error) {
	index := ix.client.IndexName(kind)
	var buf bytes.Buffer
	lines := 0
	flush := func() error {
		if lines == 0 {
			return nil
		}
		if err := ix.client.bulk(ctx, &buf); err != nil {
			return err
		}
		buf.Reset()
		lines = 0
		return nil
	}

	for id, doc := range docs {
		action, _ := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": strconv.FormatInt(id, 10)},
		})
		body, err := json.Marshal(doc)
		if err != nil {
			return Stats{}, fmt.Errorf("marshal document %d: %w", id, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(body)
		buf.WriteByte('\n')
		if lines++; lines >= bulkBatchSize {
			if err := flush(); err != nil {
				return Stats{}, err
			}
		}
	}
	for _, id := range deletes {
		action, _ := json.Marshal(map[string]any{
			"delete": map[string]any{"_index": index, "_id": strconv.FormatInt(id, 10)},
		})
		buf.Write(action)
		buf.WriteByte('\n')
		if lines++; lines >= bulkBatchSize {
			if err := flush(); err != nil {
				return Stats{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Stats{}, err
	}
	return Stats{Indexed: len(docs), Removed: len(deletes)}, nil
}

func (c *Client) bulk(ctx context.Context, body *bytes.Buffer) error {
	res, err := c.es.Bulk(bytes.NewReader(body.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk request: %s", res.String())
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  any `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("bulk response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for op, r := range item {
				// A delete for a document that never made it into the
				// index is fine.
				if op == "delete" && r.Status == 404 {
					continue
				}
				if r.Error != nil {
					return fmt.Errorf("bulk %s failed: %v", op, r.Error)
				}
			}
		}
	}
	return nil
}
