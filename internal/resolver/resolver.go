// Package resolver turns staged OParl objects into relational records. It
// resolves the URL references between objects to primary ids, creating
// placeholder records where a remote reference cannot be delivered, and
// materializes single objects on demand when they were never part of the
// walked lists.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ratsmirror/internal/entity"
	"ratsmirror/internal/externalize"
	"ratsmirror/internal/geo"
	"ratsmirror/internal/loader"
	"ratsmirror/internal/oparl"
	"ratsmirror/internal/store"
)

var typeTables = map[string]string{
	oparl.TypeBody:            entity.TableBody,
	oparl.TypeLegislativeTerm: entity.TableLegislativeTerm,
	oparl.TypeLocation:        entity.TableLocation,
	oparl.TypeFile:            entity.TableFile,
	oparl.TypePerson:          entity.TablePerson,
	oparl.TypeOrganization:    entity.TableOrganization,
	oparl.TypeMembership:      entity.TableMembership,
	oparl.TypeMeeting:         entity.TableMeeting,
	oparl.TypePaper:           entity.TablePaper,
	oparl.TypeConsultation:    entity.TableConsultation,
	oparl.TypeAgendaItem:      entity.TableAgendaItem,
}

// TableForType maps a schema type name onto its table.
func TableForType(typeName string) (string, bool) {
	t, ok := typeTables[typeName]
	return t, ok
}

// stubTables may get placeholder records when the remote fails to deliver
// an object it references. Seen in the wild for all four.
var stubTables = map[string]bool{
	entity.TableConsultation: true,
	entity.TableOrganization: true,
	entity.TablePerson:       true,
	entity.TableFile:         true,
}

type Options struct {
	// SearchSuffix is appended to geocoder queries, usually the country.
	SearchSuffix string
	// CityAffixes are stripped from body short names ("Stadt Leipzig"
	// becomes "Leipzig").
	CityAffixes []string
	Logger      *slog.Logger
}

var defaultCityAffixes = []string{
	"Stadt", "Landeshauptstadt", "Gemeinde", "Kreisverwaltung", "Landkreis", "Kreis",
}

type Resolver struct {
	store    *store.Store
	client   loader.Client
	geocoder geo.Geocoder
	logger   *slog.Logger
	opts     Options

	defaultBodyID   *int64
	defaultBodyName string
}

func New(st *store.Store, client loader.Client, geocoder geo.Geocoder, opts Options) (*Resolver, error) {
	if st == nil {
		return nil, errors.New("resolver: store is required")
	}
	if client == nil {
		return nil, errors.New("resolver: loader client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CityAffixes == nil {
		opts.CityAffixes = defaultCityAffixes
	}
	if opts.SearchSuffix == "" {
		opts.SearchSuffix = "Deutschland"
	}
	return &Resolver{
		store: st, client: client, geocoder: geocoder,
		logger: opts.Logger, opts: opts,
	}, nil
}

// SetDefaultBody fixes the body new records hang off when the remote
// object names none, and the city used to complete geocoder queries.
func (r *Resolver) SetDefaultBody(id int64, shortName string) {
	r.defaultBodyID = &id
	r.defaultBodyName = shortName
}

// Resolve maps an object URL to its primary id, materializing the object
// on the way if it is not in the database yet. A missing reference
// resolves to nil after a warning; for the stub-capable types a
// placeholder record is created instead.
func (r *Resolver) Resolve(ctx context.Context, typeName, url string) (*int64, error) {
	if url == "" {
		return nil, nil
	}
	table, ok := typeTables[typeName]
	if !ok {
		return nil, fmt.Errorf("resolve %s: unknown type %s", url, typeName)
	}

	if id, found, err := r.store.IDByExternal(ctx, table, url); err != nil {
		return nil, err
	} else if found {
		return &id, nil
	}

	if cached, found, err := r.store.CachedByURL(ctx, url); err != nil {
		return nil, err
	} else if found {
		var obj oparl.Object
		if err := json.Unmarshal(cached.Data, &obj); err != nil {
			return nil, fmt.Errorf("resolve %s: corrupt staged object: %w", url, err)
		}
		id, err := r.materializeOne(ctx, obj)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}

	if typeName != oparl.TypeLocation {
		r.logger.Warn("reference missing from external lists", "type", typeName, "url", url)
	}
	id, err := r.Materialize(ctx, url, typeName)
	if err != nil {
		if stubTables[table] {
			r.logger.Error("falling back to a placeholder record", "url", url, "error", err)
			stubID, stubErr := r.store.CreateStub(ctx, table, url)
			if stubErr != nil {
				return nil, stubErr
			}
			return &stubID, nil
		}
		return nil, err
	}
	return &id, nil
}

// ResolveMany resolves a list of references, skipping the ones that could
// not be materialized.
func (r *Resolver) ResolveMany(ctx context.Context, typeName string, urls []string) ([]int64, error) {
	var ids []int64
	for _, url := range urls {
		id, err := r.Resolve(ctx, typeName, url)
		if err != nil {
			return nil, err
		}
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids, nil
}

// Materialize fetches one object by URL and persists it together with its
// embedded children, children first. Returns the primary id of the object
// itself.
func (r *Resolver) Materialize(ctx context.Context, url, typeName string) (int64, error) {
	r.logger.Info("importing single object", "url", url)
	obj, _, err := r.client.FetchJSON(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("materialize %s: %w", url, err)
	}
	// A moved resource answers under a different id than the one asked
	// for.
	canonical := obj.ID()
	if canonical == "" {
		canonical = url
	}

	res := externalize.Externalize(obj, r.logger)
	parts := res.Objects
	sort.SliceStable(parts, func(i, j int) bool {
		return oparl.OrderIndex(parts[i].Type) < oparl.OrderIndex(parts[j].Type)
	})

	var targetID *int64
	for _, part := range parts {
		id, err := r.materializeOne(ctx, part.Data)
		if err != nil {
			return 0, err
		}
		raw, err := json.Marshal(part.Data)
		if err != nil {
			return 0, err
		}
		if err := r.store.StageObjects(ctx, []store.Cached{
			{URL: part.URL, Type: part.Type, Data: raw},
		}); err != nil {
			return 0, err
		}
		if err := r.store.MarkImported(ctx, part.Type); err != nil {
			return 0, err
		}
		if part.URL == canonical {
			targetID = &id
		}
	}
	if targetID == nil {
		return 0, fmt.Errorf("materialize %s: object missing from its own response", url)
	}
	return *targetID, nil
}

// Apply upserts a single object outside a snapshot reconciliation, as the
// incremental importer does for each changed object.
func (r *Resolver) Apply(ctx context.Context, obj oparl.Object) (int64, error) {
	return r.materializeOne(ctx, obj)
}

// materializeOne writes a single object, bypassing the bulk reconciler.
// Edge lists are left to the next full reconciliation; the object exists
// so references to it can be satisfied.
func (r *Resolver) materializeOne(ctx context.Context, obj oparl.Object) (int64, error) {
	table, ok := typeTables[obj.TypeName()]
	if !ok {
		return 0, fmt.Errorf("materialize %s: unknown type %q", obj.ID(), obj.TypeName())
	}
	if obj.Deleted() {
		id, err := r.store.CreateStub(ctx, table, obj.ID())
		if err != nil {
			return 0, err
		}
		return id, r.store.SetDeleted(ctx, table, []int64{id}, true)
	}
	converted, err := r.Convert(ctx, obj)
	if err != nil {
		return 0, err
	}
	return r.store.UpsertByExternal(ctx, table, converted.Fields, converted.Row)
}
