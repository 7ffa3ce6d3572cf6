// Package entity holds the imported domain model. Every entity carries the
// stable URL assigned by the remote service as its external id; the local
// numeric id is assigned by the store.
package entity

import (
	"encoding/json"
	"time"
)

// Table names, also used as reconciler type labels.
const (
	TableBody            = "body"
	TableLegislativeTerm = "legislative_term"
	TableLocation        = "location"
	TableFile            = "file"
	TablePerson          = "person"
	TableOrganization    = "organization"
	TableMembership      = "membership"
	TableMeeting         = "meeting"
	TablePaper           = "paper"
	TableConsultation    = "consultation"
	TableAgendaItem      = "agenda_item"
)

// DefaultFields is shared by all imported entities. Rows are soft-deleted so
// referential integrity and replay keep working across runs.
type DefaultFields struct {
	ID         int64
	ExternalID string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Deleted    bool
	// IsStub marks a placeholder created for a reference the remote failed
	// to deliver. It is cleared when the real record arrives.
	IsStub bool
}

// Geometry is an opaque GeoJSON geometry.
type Geometry = json.RawMessage

// Point builds a GeoJSON point geometry.
func Point(lat, lng float64) Geometry {
	raw, _ := json.Marshal(map[string]any{
		"type":        "Point",
		"coordinates": []float64{lng, lat},
	})
	return raw
}

// Publicity of a meeting.
type Publicity int

const (
	PublicityUnknown Publicity = iota
	PublicityPublic
	PublicityPrivate
	PublicitySplit
)

// Organization classification.
const (
	OrgTypeParliamentaryGroup = "parliamentary-group"
	OrgTypeCommittee          = "committee"
	OrgTypeDepartment         = "department"
	OrgTypeOther              = "other"
)

type Body struct {
	DefaultFields
	Name      string
	ShortName string
	// AGS is the 8-digit administrative code of the municipality.
	AGS     string
	Outline Geometry
	Center  Geometry
}

type LegislativeTerm struct {
	DefaultFields
	BodyID int64
	Name   string
	Start  *time.Time
	End    *time.Time
}

type Location struct {
	DefaultFields
	Description   string
	StreetAddress string
	Room          string
	PostalCode    string
	Locality      string
	Geometry      Geometry
	// IsOfficial distinguishes service-provided locations from the ones
	// extracted out of document text.
	IsOfficial bool
}

type File struct {
	DefaultFields
	Name        string
	Filename    string
	MimeType    string
	LegalDate   *time.Time
	SortDate    time.Time
	Size        *int64
	PageCount   *int
	ParsedText  *string
	License     string
	AccessURL   *string
	DownloadURL *string
	// ManuallyDeleted suppresses re-import after an operator removed the file.
	ManuallyDeleted bool

	LocationIDs        []int64
	MentionedPersonIDs []int64
}

type Person struct {
	DefaultFields
	Name       string
	GivenName  string
	FamilyName string
	LocationID *int64
}

type Organization struct {
	DefaultFields
	BodyID           int64
	Name             string
	ShortName        string
	Start            *time.Time
	End              *time.Time
	OrganizationType string
	LocationID       *int64
}

// Membership is the Person <-> Organization edge.
type Membership struct {
	DefaultFields
	PersonID       int64
	OrganizationID int64
	Start          *time.Time
	End            *time.Time
	Role           string
}

type Meeting struct {
	DefaultFields
	Name               string
	ShortName          string
	Start              *time.Time
	End                *time.Time
	LocationID         *int64
	InvitationID       *int64
	ResultsProtocolID  *int64
	VerbatimProtocolID *int64
	Cancelled          bool
	Public             Publicity

	AuxiliaryFileIDs []int64
	PersonIDs        []int64
	OrganizationIDs  []int64
}

type Paper struct {
	DefaultFields
	BodyID          int64
	Name            string
	ShortName       string
	ReferenceNumber string
	PaperType       *string
	LegalDate       *time.Time
	SortDate        time.Time
	MainFileID      *int64
	AmendsPaperID   *int64

	FileIDs         []int64
	OrganizationIDs []int64
	PersonIDs       []int64
}

// Consultation is the Meeting <-> Paper edge.
type Consultation struct {
	DefaultFields
	PaperID       *int64
	MeetingID     *int64
	Authoritative *bool
	Role          string

	OrganizationIDs []int64
}

type AgendaItem struct {
	DefaultFields
	MeetingID      int64
	Key            string
	Position       int
	Name           string
	Public         bool
	Result         string
	ResolutionText string
	ResolutionFile *int64
	ConsultationID *int64

	AuxiliaryFileIDs []int64
}
