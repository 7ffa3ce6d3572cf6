package store

import "context"

// The schema is applied idempotently at startup. Imported entities share the
// default columns (external_id, created_at, modified_at, deleted, is_stub);
// edge tables carry composite uniques and are hard-deleted by the reconciler.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS body (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  short_name TEXT NOT NULL DEFAULT '',
  ags TEXT NOT NULL DEFAULT '',
  outline JSONB,
  center JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS legislative_term (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  body_id BIGINT REFERENCES body (id),
  name TEXT NOT NULL DEFAULT '',
  start_date TIMESTAMPTZ,
  end_date TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS location (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  street_address TEXT NOT NULL DEFAULT '',
  room TEXT NOT NULL DEFAULT '',
  postal_code TEXT NOT NULL DEFAULT '',
  locality TEXT NOT NULL DEFAULT '',
  geometry JSONB,
  is_official BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS file (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  mime_type TEXT NOT NULL DEFAULT '',
  legal_date TIMESTAMPTZ,
  sort_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  size BIGINT,
  page_count INTEGER,
  parsed_text TEXT,
  license TEXT NOT NULL DEFAULT '',
  access_url TEXT,
  download_url TEXT,
  manually_deleted BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS person (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  given_name TEXT NOT NULL DEFAULT '',
  family_name TEXT NOT NULL DEFAULT '',
  location_id BIGINT REFERENCES location (id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS organization (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  body_id BIGINT REFERENCES body (id),
  name TEXT NOT NULL DEFAULT '',
  short_name TEXT NOT NULL DEFAULT '',
  start_date TIMESTAMPTZ,
  end_date TIMESTAMPTZ,
  organization_type TEXT NOT NULL DEFAULT 'other',
  location_id BIGINT REFERENCES location (id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS membership (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  person_id BIGINT REFERENCES person (id),
  organization_id BIGINT REFERENCES organization (id),
  start_date TIMESTAMPTZ,
  end_date TIMESTAMPTZ,
  role TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE,
  UNIQUE (person_id, organization_id)
);

CREATE TABLE IF NOT EXISTS meeting (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  short_name TEXT NOT NULL DEFAULT '',
  start_time TIMESTAMPTZ,
  end_time TIMESTAMPTZ,
  location_id BIGINT REFERENCES location (id),
  invitation_id BIGINT REFERENCES file (id),
  results_protocol_id BIGINT REFERENCES file (id),
  verbatim_protocol_id BIGINT REFERENCES file (id),
  cancelled BOOLEAN NOT NULL DEFAULT FALSE,
  public SMALLINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS paper (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  body_id BIGINT REFERENCES body (id),
  name TEXT NOT NULL DEFAULT '',
  short_name TEXT NOT NULL DEFAULT '',
  reference_number TEXT NOT NULL DEFAULT '',
  paper_type TEXT,
  legal_date TIMESTAMPTZ,
  sort_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  main_file_id BIGINT REFERENCES file (id),
  amends_paper_id BIGINT REFERENCES paper (id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS consultation (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  paper_id BIGINT REFERENCES paper (id),
  meeting_id BIGINT REFERENCES meeting (id),
  authoritative BOOLEAN,
  role TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS agenda_item (
  id BIGSERIAL PRIMARY KEY,
  external_id TEXT UNIQUE,
  meeting_id BIGINT NOT NULL REFERENCES meeting (id) ON DELETE CASCADE,
  key TEXT NOT NULL DEFAULT '-',
  position INTEGER NOT NULL DEFAULT 0,
  name TEXT NOT NULL DEFAULT '',
  public BOOLEAN NOT NULL DEFAULT TRUE,
  result TEXT NOT NULL DEFAULT '',
  resolution_text TEXT NOT NULL DEFAULT '',
  resolution_file_id BIGINT REFERENCES file (id),
  consultation_id BIGINT REFERENCES consultation (id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deleted BOOLEAN NOT NULL DEFAULT FALSE,
  is_stub BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS body_legislative_term (
  id BIGSERIAL PRIMARY KEY,
  body_id BIGINT NOT NULL REFERENCES body (id),
  legislative_term_id BIGINT NOT NULL REFERENCES legislative_term (id),
  UNIQUE (body_id, legislative_term_id)
);

CREATE TABLE IF NOT EXISTS paper_file (
  id BIGSERIAL PRIMARY KEY,
  paper_id BIGINT NOT NULL REFERENCES paper (id),
  file_id BIGINT NOT NULL REFERENCES file (id),
  UNIQUE (paper_id, file_id)
);

CREATE TABLE IF NOT EXISTS paper_organization (
  id BIGSERIAL PRIMARY KEY,
  paper_id BIGINT NOT NULL REFERENCES paper (id),
  organization_id BIGINT NOT NULL REFERENCES organization (id),
  UNIQUE (paper_id, organization_id)
);

CREATE TABLE IF NOT EXISTS paper_person (
  id BIGSERIAL PRIMARY KEY,
  paper_id BIGINT NOT NULL REFERENCES paper (id),
  person_id BIGINT NOT NULL REFERENCES person (id),
  UNIQUE (paper_id, person_id)
);

CREATE TABLE IF NOT EXISTS meeting_file (
  id BIGSERIAL PRIMARY KEY,
  meeting_id BIGINT NOT NULL REFERENCES meeting (id),
  file_id BIGINT NOT NULL REFERENCES file (id),
  UNIQUE (meeting_id, file_id)
);

CREATE TABLE IF NOT EXISTS meeting_person (
  id BIGSERIAL PRIMARY KEY,
  meeting_id BIGINT NOT NULL REFERENCES meeting (id),
  person_id BIGINT NOT NULL REFERENCES person (id),
  UNIQUE (meeting_id, person_id)
);

CREATE TABLE IF NOT EXISTS meeting_organization (
  id BIGSERIAL PRIMARY KEY,
  meeting_id BIGINT NOT NULL REFERENCES meeting (id),
  organization_id BIGINT NOT NULL REFERENCES organization (id),
  UNIQUE (meeting_id, organization_id)
);

CREATE TABLE IF NOT EXISTS agenda_item_file (
  id BIGSERIAL PRIMARY KEY,
  agenda_item_id BIGINT NOT NULL REFERENCES agenda_item (id) ON DELETE CASCADE,
  file_id BIGINT NOT NULL REFERENCES file (id),
  UNIQUE (agenda_item_id, file_id)
);

CREATE TABLE IF NOT EXISTS consultation_organization (
  id BIGSERIAL PRIMARY KEY,
  consultation_id BIGINT NOT NULL REFERENCES consultation (id),
  organization_id BIGINT NOT NULL REFERENCES organization (id),
  UNIQUE (consultation_id, organization_id)
);

CREATE TABLE IF NOT EXISTS file_location (
  id BIGSERIAL PRIMARY KEY,
  file_id BIGINT NOT NULL REFERENCES file (id),
  location_id BIGINT NOT NULL REFERENCES location (id),
  UNIQUE (file_id, location_id)
);

CREATE TABLE IF NOT EXISTS file_person (
  id BIGSERIAL PRIMARY KEY,
  file_id BIGINT NOT NULL REFERENCES file (id),
  person_id BIGINT NOT NULL REFERENCES person (id),
  UNIQUE (file_id, person_id)
);

CREATE TABLE IF NOT EXISTS cached_object (
  url TEXT PRIMARY KEY,
  oparl_type TEXT NOT NULL DEFAULT '',
  data JSONB NOT NULL,
  to_import BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_cached_object_type_import ON cached_object (oparl_type, to_import);

CREATE TABLE IF NOT EXISTS external_list (
  url TEXT PRIMARY KEY,
  last_update TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS search_street (
  id BIGSERIAL PRIMARY KEY,
  body_id BIGINT NOT NULL REFERENCES body (id),
  name TEXT NOT NULL,
  UNIQUE (body_id, name)
);

CREATE TABLE IF NOT EXISTS search_poi (
  id BIGSERIAL PRIMARY KEY,
  body_id BIGINT NOT NULL REFERENCES body (id),
  name TEXT NOT NULL,
  geometry JSONB,
  UNIQUE (body_id, name)
);

CREATE INDEX IF NOT EXISTS idx_file_pending ON file (size) WHERE size IS NULL AND access_url IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_agenda_item_meeting ON agenda_item (meeting_id, position);
CREATE INDEX IF NOT EXISTS idx_consultation_paper ON consultation (paper_id);
CREATE INDEX IF NOT EXISTS idx_consultation_meeting ON consultation (meeting_id);
`

// EnsureSchema applies the schema. Safe to call more than once.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.pool.Exec(ctx, schemaDDL)
	})
	return s.schemaErr
}
