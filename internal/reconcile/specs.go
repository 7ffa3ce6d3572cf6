package reconcile

import "ratsmirror/internal/entity"

// Table specs, in import order. Fields mirror the persisted columns the
// resolver projects; KeyFields identify a record across imports. Agenda
// items carry no stable URL on several vendor systems, so they key on
// their meeting and name instead.
var Specs = map[string]Spec{
	entity.TableBody: {
		Table:      entity.TableBody,
		Fields:     []string{"external_id", "name", "short_name", "ags", "outline", "center"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableLegislativeTerm: {
		Table:      entity.TableLegislativeTerm,
		Fields:     []string{"external_id", "body_id", "name", "start_date", "end_date"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableLocation: {
		Table:      entity.TableLocation,
		Fields:     []string{"external_id", "description", "street_address", "room", "postal_code", "locality", "geometry", "is_official"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableFile: {
		Table:      entity.TableFile,
		Fields:     []string{"external_id", "name", "filename", "mime_type", "legal_date", "sort_date", "license", "access_url", "download_url"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TablePerson: {
		Table:      entity.TablePerson,
		Fields:     []string{"external_id", "name", "given_name", "family_name", "location_id"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableOrganization: {
		Table:      entity.TableOrganization,
		Fields:     []string{"external_id", "body_id", "name", "short_name", "start_date", "end_date", "organization_type", "location_id"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableMembership: {
		Table:      entity.TableMembership,
		Fields:     []string{"external_id", "person_id", "organization_id", "start_date", "end_date", "role"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableMeeting: {
		Table:      entity.TableMeeting,
		Fields:     []string{"external_id", "name", "short_name", "start_time", "end_time", "location_id", "invitation_id", "results_protocol_id", "verbatim_protocol_id", "cancelled", "public"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TablePaper: {
		Table:      entity.TablePaper,
		Fields:     []string{"external_id", "body_id", "name", "short_name", "reference_number", "paper_type", "legal_date", "sort_date", "main_file_id"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableConsultation: {
		Table:      entity.TableConsultation,
		Fields:     []string{"external_id", "paper_id", "meeting_id", "authoritative", "role"},
		KeyFields:  []string{"external_id"},
		SoftDelete: true,
	},
	entity.TableAgendaItem: {
		Table:      entity.TableAgendaItem,
		Fields:     []string{"external_id", "meeting_id", "key", "position", "name", "public", "result", "resolution_text", "resolution_file_id", "consultation_id"},
		KeyFields:  []string{"meeting_id", "name"},
		SoftDelete: true,
	},
}

// EdgeSpecs cover the join tables. They carry no soft-delete state; a
// vanished edge is simply removed.
var EdgeSpecs = map[string]Spec{
	"body_legislative_term":     edge("body_legislative_term", "body_id", "legislative_term_id"),
	"paper_file":                edge("paper_file", "paper_id", "file_id"),
	"paper_organization":        edge("paper_organization", "paper_id", "organization_id"),
	"paper_person":              edge("paper_person", "paper_id", "person_id"),
	"meeting_file":              edge("meeting_file", "meeting_id", "file_id"),
	"meeting_person":            edge("meeting_person", "meeting_id", "person_id"),
	"meeting_organization":      edge("meeting_organization", "meeting_id", "organization_id"),
	"agenda_item_file":          edge("agenda_item_file", "agenda_item_id", "file_id"),
	"consultation_organization": edge("consultation_organization", "consultation_id", "organization_id"),
}

func edge(table, left, right string) Spec {
	return Spec{
		Table:     table,
		Fields:    []string{left, right},
		KeyFields: []string{left, right},
	}
}
