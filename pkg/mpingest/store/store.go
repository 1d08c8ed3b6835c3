package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
)

// Store is the persistence contract of the ingestion pipeline. Every write
// is idempotent: repeating a call with the same arguments creates no new
// rows and no new associations.
type Store interface {
	Lookuper
	Close() error

	// Entities
	UpsertGroupClass(ctx context.Context, name string) (int64, error)
	UpsertGroup(ctx context.Context, g Group) (int64, error)
	UpsertBodyPart(ctx context.Context, name string, groupID int64) (int64, error)
	UpsertTopic(ctx context.Context, t Topic) (int64, error)
	UpsertAlsoCalled(ctx context.Context, name string) (int64, error)
	UpsertPrimaryInstitute(ctx context.Context, name, url string) (int64, error)
	UpsertSeeReference(ctx context.Context, name string) (int64, error)
	// UpsertDescriptor loads a MeSH descriptor. Descriptors are owned by the
	// MeSH load; topic ingestion only resolves them.
	UpsertDescriptor(ctx context.Context, ui, name string) (int64, error)

	// Associations
	Link(ctx context.Context, kind LinkKind, topicID, otherID int64) error

	// Read side
	GetGroup(ctx context.Context, externalID int64) (Group, bool, error)
	GetTopic(ctx context.Context, externalID int64) (Topic, bool, error)
	Count(ctx context.Context, entity Entity) (int64, error)
	CountLinks(ctx context.Context, kind LinkKind) (int64, error)
	Linked(ctx context.Context, kind LinkKind, topicID int64) ([]int64, error)
}

// Lookuper resolves natural keys to surrogate ids without writing.
type Lookuper interface {
	// Lookup returns the id of the row of entity whose field equals value.
	// found is false when no such row exists.
	// An empty string never matches.
	Lookup(ctx context.Context, entity Entity, field string, value any) (id int64, found bool, err error)
	// LookupBodyPart returns the id of the body part named name under the
	// group groupID.
	LookupBodyPart(ctx context.Context, name string, groupID int64) (id int64, found bool, err error)
}

// Group is a health-topic group row.
type Group struct {
	ID           int64
	ExternalID   int64
	Name         string
	URL          string
	GroupClassID int64
}

// Topic is a health-topic row. Zero PrimaryInstituteID means none.
type Topic struct {
	ID                 int64
	ExternalID         int64
	Title              string
	URL                string
	Description        string
	Summary            string
	DateCreated        time.Time
	PrimaryInstituteID int64
}

// Entity names a persisted entity type.
type Entity string

const (
	EntityGroupClass       Entity = "HealthTopicGroupClass"
	EntityGroup            Entity = "HealthTopicGroup"
	EntityBodyPart         Entity = "BodyPart"
	EntityTopic            Entity = "HealthTopic"
	EntityAlsoCalled       Entity = "AlsoCalled"
	EntityPrimaryInstitute Entity = "PrimaryInstitute"
	EntitySeeReference     Entity = "SeeReference"
	EntityDescriptor       Entity = "MeshDescriptor"
)

// LinkKind names a topic association.
type LinkKind string

const (
	LinkAlsoCalled   LinkKind = "also-called"
	LinkGroup        LinkKind = "group"
	LinkDescriptor   LinkKind = "descriptor"
	LinkRelatedTopic LinkKind = "related-topic"
	LinkSeeReference LinkKind = "see-reference"
	LinkBodyPart     LinkKind = "body-part"
)

// LinkKinds lists every association kind.
var LinkKinds = []LinkKind{
	LinkAlsoCalled, LinkGroup, LinkDescriptor, LinkRelatedTopic, LinkSeeReference, LinkBodyPart,
}

// lookupFields lists the natural-key fields each entity can be looked up by.
var lookupFields = map[Entity][]string{
	EntityGroupClass:       {"name"},
	EntityGroup:            {"external_id", "name", "url"},
	EntityBodyPart:         {"name"},
	EntityTopic:            {"external_id", "title", "url"},
	EntityAlsoCalled:       {"name"},
	EntityPrimaryInstitute: {"name"},
	EntitySeeReference:     {"name"},
	EntityDescriptor:       {"ui", "name"},
}

// ValidateLookup rejects entity/field pairs that are not natural keys.
func ValidateLookup(entity Entity, field string) error {
	fields, ok := lookupFields[entity]
	if !ok {
		return fmt.Errorf("%w: unknown entity %q", internalerr.ErrInvalidInput, entity)
	}
	for _, f := range fields {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot be looked up by %q", internalerr.ErrInvalidInput, entity, field)
}

// ValidateLinkKind rejects unknown association kinds.
func ValidateLinkKind(kind LinkKind) error {
	for _, k := range LinkKinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown link kind %q", internalerr.ErrInvalidInput, kind)
}
