package decode

import (
	"errors"
	"time"
)

// DateLayout is the textual layout of date attributes in the MedlinePlus dumps.
const DateLayout = "01/02/2006"

// LanguageSpanish marks elements that are filtered out at decode time.
const LanguageSpanish = "Spanish"

var (
	// ErrInvalidNumber is returned when a numeric attribute does not parse.
	ErrInvalidNumber = errors.New("invalid numeric attribute")

	// ErrInvalidDate is returned when a date attribute does not match DateLayout.
	ErrInvalidDate = errors.New("invalid date attribute")
)

// GroupDocument is a decoded <group> element of the health-topic-group dump.
// It carries no group class: that comes from the taxonomy.
type GroupDocument struct {
	ExternalID int64
	URL        string
	Name       string
	Language   string
}

// TopicDocument is a decoded <health-topic> element.
type TopicDocument struct {
	ExternalID       int64
	Title            string
	URL              string
	Description      string // meta-desc attribute
	Summary          string // full-summary element
	DateCreated      time.Time
	Language         string
	AlsoCalled       []AlsoCalledDocument
	PrimaryInstitute *PrimaryInstituteDocument
	Groups           []GroupRef
	MeshHeadings     []MeshHeadingDocument
	RelatedTopics    []RelatedTopicRef
	SeeReferences    []SeeReferenceDocument
}

// AlsoCalledDocument is an alternative name of a topic.
type AlsoCalledDocument struct {
	Name string
}

// PrimaryInstituteDocument is the institute responsible for a topic.
type PrimaryInstituteDocument struct {
	Name string
	URL  string
}

// GroupRef names a group a topic belongs to. Only the name is used for
// association; the URL is kept for diagnostics.
type GroupRef struct {
	Name string
	URL  string
}

// MeshHeadingDocument is one MeSH heading attached to a topic.
type MeshHeadingDocument struct {
	Descriptor *DescriptorDocument
	Qualifiers []QualifierDocument
}

// DescriptorDocument is a MeSH descriptor, ID being its UI (e.g. D000740).
type DescriptorDocument struct {
	ID   string
	Name string
}

// QualifierDocument is a MeSH qualifier, ID being its UI (e.g. Q000209).
type QualifierDocument struct {
	ID   string
	Name string
}

// RelatedTopicRef points at another health topic by external id.
type RelatedTopicRef struct {
	ExternalID int64
	URL        string
	Name       string
}

// SeeReferenceDocument is a "see" cross reference of a topic.
type SeeReferenceDocument struct {
	Name string
}
