package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"regexp"
	"strings"
	"time"

	"ratsmirror/internal/entity"
	"ratsmirror/internal/geo"
	"ratsmirror/internal/oparl"
	"ratsmirror/internal/reconcile"
)

// Converted is one entity projected into the column order the reconciler
// tracks.
type Converted struct {
	Table  string
	Fields []string
	Row    []any
}

// Papers without any usable date sort to the beginning of time rather
// than to the import date.
var fallbackDate = time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)

const filenameCutoff = 100

// Convert projects one staged object into its table row. References to
// other objects are resolved to primary ids, fetching or stubbing as
// needed.
func (r *Resolver) Convert(ctx context.Context, obj oparl.Object) (*Converted, error) {
	var (
		c   *Converted
		err error
	)
	switch obj.TypeName() {
	case oparl.TypeBody:
		c, err = r.convertBody(ctx, obj)
	case oparl.TypeLegislativeTerm:
		c, err = r.convertLegislativeTerm(ctx, obj)
	case oparl.TypeLocation:
		c, err = r.convertLocation(ctx, obj)
	case oparl.TypeFile:
		c, err = r.convertFile(obj)
	case oparl.TypePerson:
		c, err = r.convertPerson(ctx, obj)
	case oparl.TypeOrganization:
		c, err = r.convertOrganization(ctx, obj)
	case oparl.TypeMembership:
		c, err = r.convertMembership(ctx, obj)
	case oparl.TypeMeeting:
		c, err = r.convertMeeting(ctx, obj)
	case oparl.TypePaper:
		c, err = r.convertPaper(ctx, obj)
	case oparl.TypeConsultation:
		c, err = r.convertConsultation(ctx, obj)
	case oparl.TypeAgendaItem:
		c, err = r.convertAgendaItem(ctx, obj)
	default:
		return nil, fmt.Errorf("convert %s: unknown type %q", obj.ID(), obj.TypeName())
	}
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", obj.ID(), err)
	}
	c.Fields = reconcile.Specs[c.Table].Fields
	return c, nil
}

func (r *Resolver) convertBody(ctx context.Context, obj oparl.Object) (*Converted, error) {
	ags, err := normalizeAGS(obj.String("ags"))
	if err != nil {
		return nil, err
	}
	name := entity.DisplayName(obj.String("name"))
	short := obj.String("shortName")
	if short == "" {
		short = name
	}
	short = entity.ShortName(r.stripCityAffix(short))

	// The body location often carries the municipality outline.
	var center, outline entity.Geometry
	if locURL := obj.String("location"); locURL != "" {
		geom, err := r.stagedGeometry(ctx, locURL)
		if err != nil {
			return nil, err
		}
		switch geometryType(geom) {
		case "Point":
			center = geom
		case "Polygon", "MultiPolygon":
			outline = geom
		}
	}

	return &Converted{
		Table: entity.TableBody,
		Row:   []any{obj.ID(), name, short, ags, outline, center},
	}, nil
}

func (r *Resolver) convertLegislativeTerm(ctx context.Context, obj oparl.Object) (*Converted, error) {
	bodyID, err := r.bodyID(ctx, obj)
	if err != nil {
		return nil, err
	}
	return &Converted{
		Table: entity.TableLegislativeTerm,
		Row: []any{
			obj.ID(), bodyID, entity.DisplayName(obj.String("name")),
			obj.Date("startDate"), obj.Date("endDate"),
		},
	}, nil
}

func (r *Resolver) convertLocation(ctx context.Context, obj oparl.Object) (*Converted, error) {
	street := obj.String("streetAddress")
	room := obj.String("room")
	postal := obj.String("postalCode")
	locality := obj.String("locality")

	description := obj.String("description")
	if description == "" {
		var parts []string
		if room != "" {
			parts = append(parts, room)
		}
		if street != "" {
			parts = append(parts, street)
		}
		if place := strings.TrimSpace(postal + " " + locality); place != "" {
			parts = append(parts, place)
		}
		description = strings.Join(parts, ", ")
	}

	geometry := geojsonGeometry(obj)
	if geometry == nil && street != "" && r.geocoder != nil {
		query := geo.BuildQuery(street, postal, locality, r.defaultBodyName, r.opts.SearchSuffix)
		geom, err := r.geocoder.Geocode(ctx, query)
		if err != nil {
			r.logger.Warn("geocoding failed", "query", query, "error", err)
		} else {
			geometry = geom
		}
	}

	return &Converted{
		Table: entity.TableLocation,
		Row: []any{
			obj.ID(), entity.DisplayName(description), street, room,
			postal, locality, geometry, true,
		},
	}, nil
}

func (r *Resolver) convertFile(obj oparl.Object) (*Converted, error) {
	name := entity.DisplayName(obj.String("name"))
	legalDate := obj.Date("date")
	sortDate := fileSortDate(legalDate, obj.Created())

	return &Converted{
		Table: entity.TableFile,
		Row: []any{
			obj.ID(), name, buildFilename(obj), obj.String("mimeType"),
			legalDate, sortDate, obj.String("fileLicense"),
			obj.StringPtr("accessUrl"), obj.StringPtr("downloadUrl"),
		},
	}, nil
}

func (r *Resolver) convertPerson(ctx context.Context, obj oparl.Object) (*Converted, error) {
	name, given, family := personNames(obj)
	if obj.String("givenName") == "" || obj.String("familyName") == "" {
		r.logger.Warn("person without name parts, inferring from full name",
			"url", obj.ID(), "given", given, "family", family)
	}
	locationID, err := r.Resolve(ctx, oparl.TypeLocation, obj.String("location"))
	if err != nil {
		return nil, err
	}
	return &Converted{
		Table: entity.TablePerson,
		Row:   []any{obj.ID(), name, given, family, locationID},
	}, nil
}

func (r *Resolver) convertOrganization(ctx context.Context, obj oparl.Object) (*Converted, error) {
	bodyID, err := r.bodyID(ctx, obj)
	if err != nil {
		return nil, err
	}
	classification := obj.String("classification")
	if classification == "" {
		classification = obj.String("organizationType")
	}
	orgType := classifyOrganization(classification)

	name := entity.DisplayName(obj.String("name"))
	short := obj.String("shortName")
	if short == "" {
		short = stripOrganizationType(name, classification)
	}
	short = entity.ShortName(short)

	locationID, err := r.Resolve(ctx, oparl.TypeLocation, obj.String("location"))
	if err != nil {
		return nil, err
	}
	return &Converted{
		Table: entity.TableOrganization,
		Row: []any{
			obj.ID(), bodyID, name, short,
			obj.Date("startDate"), obj.Date("endDate"), orgType, locationID,
		},
	}, nil
}

func (r *Resolver) convertMembership(ctx context.Context, obj oparl.Object) (*Converted, error) {
	personURL := obj.String("person")
	if personURL == "" {
		personURL = obj.String(oparl.KeyBackref)
	}
	personID, err := r.Resolve(ctx, oparl.TypePerson, personURL)
	if err != nil {
		return nil, err
	}
	if personID == nil {
		return nil, fmt.Errorf("membership without a person")
	}
	orgID, err := r.Resolve(ctx, oparl.TypeOrganization, obj.String("organization"))
	if err != nil {
		return nil, err
	}
	if orgID == nil {
		return nil, fmt.Errorf("membership without an organization")
	}
	role := obj.String("role")
	if role == "" {
		role = "Unknown"
	}
	return &Converted{
		Table: entity.TableMembership,
		Row: []any{
			obj.ID(), *personID, *orgID,
			obj.Date("startDate"), obj.Date("endDate"), role,
		},
	}, nil
}

func (r *Resolver) convertMeeting(ctx context.Context, obj oparl.Object) (*Converted, error) {
	name := entity.DisplayName(obj.String("name"))
	short := obj.String("shortName")
	if short == "" {
		short = name
	}

	locationID, err := r.Resolve(ctx, oparl.TypeLocation, obj.String("location"))
	if err != nil {
		return nil, err
	}
	invitationID, err := r.Resolve(ctx, oparl.TypeFile, obj.String("invitation"))
	if err != nil {
		return nil, err
	}
	resultsID, err := r.Resolve(ctx, oparl.TypeFile, obj.String("resultsProtocol"))
	if err != nil {
		return nil, err
	}
	verbatimID, err := r.Resolve(ctx, oparl.TypeFile, obj.String("verbatimProtocol"))
	if err != nil {
		return nil, err
	}

	public := entity.PublicityUnknown
	if v, ok := obj.Bool("public"); ok {
		if v {
			public = entity.PublicityPublic
		} else {
			public = entity.PublicityPrivate
		}
	}
	cancelled, _ := obj.Bool("cancelled")

	return &Converted{
		Table: entity.TableMeeting,
		Row: []any{
			obj.ID(), name, entity.ShortName(short),
			obj.Time("start"), obj.Time("end"),
			locationID, invitationID, resultsID, verbatimID,
			cancelled, int16(public),
		},
	}, nil
}

func (r *Resolver) convertPaper(ctx context.Context, obj oparl.Object) (*Converted, error) {
	bodyID, err := r.bodyID(ctx, obj)
	if err != nil {
		return nil, err
	}
	name := entity.DisplayName(obj.String("name"))
	legalDate := obj.Date("date")
	sortDate := fallbackDate
	if legalDate != nil {
		sortDate = *legalDate
	}
	mainFileID, err := r.Resolve(ctx, oparl.TypeFile, obj.String("mainFile"))
	if err != nil {
		return nil, err
	}
	return &Converted{
		Table: entity.TablePaper,
		Row: []any{
			obj.ID(), bodyID, name, entity.ShortName(name),
			obj.String("reference"), obj.StringPtr("paperType"),
			legalDate, sortDate, mainFileID,
		},
	}, nil
}

func (r *Resolver) convertConsultation(ctx context.Context, obj oparl.Object) (*Converted, error) {
	paperURL := obj.String("paper")
	if paperURL == "" {
		paperURL = obj.String(oparl.KeyBackref)
	}
	paperID, err := r.Resolve(ctx, oparl.TypePaper, paperURL)
	if err != nil {
		return nil, err
	}
	meetingID, err := r.Resolve(ctx, oparl.TypeMeeting, obj.String("meeting"))
	if err != nil {
		return nil, err
	}
	var authoritative *bool
	if v, ok := obj.Bool("authoritative"); ok {
		authoritative = &v
	}
	return &Converted{
		Table: entity.TableConsultation,
		Row:   []any{obj.ID(), paperID, meetingID, authoritative, obj.String("role")},
	}, nil
}

func (r *Resolver) convertAgendaItem(ctx context.Context, obj oparl.Object) (*Converted, error) {
	meetingURL := obj.String("meeting")
	if meetingURL == "" {
		meetingURL = obj.String(oparl.KeyBackref)
	}
	meetingID, err := r.Resolve(ctx, oparl.TypeMeeting, meetingURL)
	if err != nil {
		return nil, err
	}
	if meetingID == nil {
		return nil, fmt.Errorf("agenda item without a meeting")
	}
	key := obj.String("number")
	if key == "" {
		key = "-"
	}
	resolutionFileID, err := r.Resolve(ctx, oparl.TypeFile, obj.String("resolutionFile"))
	if err != nil {
		return nil, err
	}
	consultationID, err := r.Resolve(ctx, oparl.TypeConsultation, obj.String("consultation"))
	if err != nil {
		return nil, err
	}
	public := true
	if v, ok := obj.Bool("public"); ok {
		public = v
	}
	return &Converted{
		Table: entity.TableAgendaItem,
		Row: []any{
			obj.ID(), *meetingID, entity.Shorten(key, entity.KeyLength),
			obj.Int(oparl.KeyBackrefPosition),
			entity.DisplayName(obj.String("name")), public,
			obj.String("result"), obj.String("resolutionText"),
			resolutionFileID, consultationID,
		},
	}, nil
}

type edgeRef struct {
	Table, Key, RefType string
}

// edgeRefs lists the join tables each type contributes to and the JSON key
// the referenced list lives under.
var edgeRefs = map[string][]edgeRef{
	oparl.TypeBody: {
		{"body_legislative_term", "legislativeTerm", oparl.TypeLegislativeTerm},
	},
	oparl.TypePaper: {
		{"paper_file", "auxiliaryFile", oparl.TypeFile},
		{"paper_organization", "underDirectionOf", oparl.TypeOrganization},
		{"paper_person", "originatorPerson", oparl.TypePerson},
	},
	oparl.TypeMeeting: {
		{"meeting_file", "auxiliaryFile", oparl.TypeFile},
		{"meeting_person", "participant", oparl.TypePerson},
		{"meeting_organization", "organization", oparl.TypeOrganization},
	},
	oparl.TypeAgendaItem: {
		{"agenda_item_file", "auxiliaryFile", oparl.TypeFile},
	},
	oparl.TypeConsultation: {
		{"consultation_organization", "organization", oparl.TypeOrganization},
	},
}

// ConvertEdges resolves an entity's join-table references. Runs as a
// second pass over the snapshot so both endpoints exist. The result has an
// entry (possibly empty) for every join table the type contributes to, so
// vanished references can be detected.
// EdgeTables lists the join tables a type owns.
func EdgeTables(typeName string) []string {
	refs := edgeRefs[typeName]
	seen := make(map[string]bool, len(refs))
	var tables []string
	for _, ref := range refs {
		if !seen[ref.Table] {
			seen[ref.Table] = true
			tables = append(tables, ref.Table)
		}
	}
	return tables
}

func (r *Resolver) ConvertEdges(ctx context.Context, obj oparl.Object) (map[string][]int64, error) {
	refs, ok := edgeRefs[obj.TypeName()]
	if !ok {
		return nil, nil
	}
	edges := make(map[string][]int64, len(refs))
	for _, rf := range refs {
		ids, err := r.ResolveMany(ctx, rf.RefType, obj.StringList(rf.Key))
		if err != nil {
			return nil, err
		}
		edges[rf.Table] = ids
	}
	return edges, nil
}

// bodyID resolves the owning body of an object, falling back to the
// configured default body.
func (r *Resolver) bodyID(ctx context.Context, obj oparl.Object) (int64, error) {
	url := obj.String("body")
	if url == "" {
		url = obj.String(oparl.KeyBackref)
	}
	if url != "" {
		id, err := r.Resolve(ctx, oparl.TypeBody, url)
		if err != nil {
			return 0, err
		}
		if id != nil {
			return *id, nil
		}
	}
	if r.defaultBodyID != nil {
		return *r.defaultBodyID, nil
	}
	return 0, fmt.Errorf("no body reference and no default body configured")
}

func (r *Resolver) stripCityAffix(name string) string {
	for _, affix := range r.opts.CityAffixes {
		if strings.HasPrefix(name, affix+" ") {
			name = strings.TrimPrefix(name, affix+" ")
			break
		}
	}
	return entity.CollapseWhitespace(name)
}

// stagedGeometry reads the geojson geometry out of a staged location
// object without materializing the location itself.
func (r *Resolver) stagedGeometry(ctx context.Context, url string) (entity.Geometry, error) {
	cached, found, err := r.store.CachedByURL(ctx, url)
	if err != nil || !found {
		return nil, err
	}
	var obj oparl.Object
	if err := json.Unmarshal(cached.Data, &obj); err != nil {
		return nil, err
	}
	return geojsonGeometry(obj), nil
}

// normalizeAGS validates the municipality code. Some services pad it with
// spaces or append a district suffix of zeros.
func normalizeAGS(ags string) (string, error) {
	ags = strings.ReplaceAll(ags, " ", "")
	if len(ags) > 8 {
		if strings.Trim(ags[8:], "0") != "" {
			return "", fmt.Errorf("invalid ags %q", ags)
		}
		ags = ags[:8]
	}
	return ags, nil
}

// geojsonGeometry extracts the geometry from a location's geojson
// feature, tolerating a bare geometry object.
func geojsonGeometry(obj oparl.Object) entity.Geometry {
	feature, ok := obj.Object("geojson")
	if !ok {
		return nil
	}
	if inner, ok := feature.Object("geometry"); ok {
		feature = inner
	}
	if feature.String("type") == "" {
		return nil
	}
	raw, err := json.Marshal(feature)
	if err != nil {
		return nil
	}
	return raw
}

func geometryType(geom entity.Geometry) string {
	if geom == nil {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(geom, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// fileSortDate must be stable across imports, so a file without any date
// gets the same sentinel papers use instead of the current time.
func fileSortDate(legalDate, created *time.Time) time.Time {
	if legalDate != nil {
		return *legalDate
	}
	if created != nil {
		return *created
	}
	return fallbackDate
}

// buildFilename picks a name for the file on disk: the one the service
// gives, a slug of the display name, or a slug of the url.
func buildFilename(obj oparl.Object) string {
	if fn := obj.String("fileName"); fn != "" {
		return fn
	}
	if name := obj.String("name"); name != "" {
		ext := extensionFor(obj.String("mimeType"))
		base := slugify(name)
		if len(base) > filenameCutoff-len(ext) {
			base = base[:filenameCutoff-len(ext)]
		}
		return base + ext
	}
	url := obj.String("accessUrl")
	if url == "" {
		url = obj.String("downloadUrl")
	}
	slug := slugify(url[strings.LastIndex(url, "/")+1:])
	if len(slug) > filenameCutoff {
		slug = slug[len(slug)-filenameCutoff:]
	}
	return slug
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".pdf"
	}
	for _, ext := range exts {
		if ext == ".pdf" || ext == ".txt" || ext == ".doc" || ext == ".docx" {
			return ext
		}
	}
	return exts[0]
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
	s = replacer.Replace(s)
	return strings.Trim(slugRe.ReplaceAllString(s, "-"), "-")
}

// Salutations and titles stripped off person names before splitting.
var personTitles = map[string]bool{
	"herr": true, "frau": true, "dr.": true, "dr": true,
	"prof.": true, "prof": true, "med.": true, "dipl.-ing.": true,
}

func personNames(obj oparl.Object) (name, given, family string) {
	name = entity.DisplayName(obj.String("name"))
	given = obj.String("givenName")
	family = obj.String("familyName")
	if given != "" && family != "" {
		return name, given, family
	}

	fields := strings.Fields(name)
	for len(fields) > 0 && personTitles[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	if family == "" {
		family = "Unknown"
		if len(fields) >= 1 {
			family = fields[len(fields)-1]
		}
	}
	if given == "" {
		given = "Unknown"
		if len(fields) >= 2 {
			given = fields[len(fields)-2]
		}
	}
	return name, given, family
}

var organizationTypes = map[string]string{
	"Fraktion":         entity.OrgTypeParliamentaryGroup,
	"Fraktionen":       entity.OrgTypeParliamentaryGroup,
	"Stadtratsgremium": entity.OrgTypeCommittee,
	"BA-Gremium":       entity.OrgTypeCommittee,
	"Gremien":          entity.OrgTypeCommittee,
	"Gremium":          entity.OrgTypeCommittee,
	"Referat":          entity.OrgTypeDepartment,
}

func classifyOrganization(classification string) string {
	if t, ok := organizationTypes[classification]; ok {
		return t
	}
	return entity.OrgTypeOther
}

// stripOrganizationType removes the classification word from a name to get
// a usable short name, e.g. "CSU-Fraktion" to "CSU".
func stripOrganizationType(name, classification string) string {
	if classification == "" {
		return name
	}
	re, err := regexp.Compile(`(?i)[- ]?` + regexp.QuoteMeta(classification) + `[ ]?`)
	if err != nil {
		return name
	}
	short := strings.TrimSpace(re.ReplaceAllString(name, " "))
	if short == "" {
		return name
	}
	return entity.CollapseWhitespace(short)
}
