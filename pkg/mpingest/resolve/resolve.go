package resolve

import (
	"context"
	"fmt"

	"github.com/cognicore/mpingest/pkg/mpingest/store"
)

// Resolver translates natural keys into surrogate ids of persisted rows.
// It never writes.
type Resolver struct {
	lookup store.Lookuper
}

// New creates a resolver backed by l.
func New(l store.Lookuper) *Resolver {
	return &Resolver{lookup: l}
}

// Resolve returns the id of the entity row whose field equals value.
// A miss is (0, false, nil); whether it matters is up to the caller.
func (r *Resolver) Resolve(ctx context.Context, entity store.Entity, field string, value any) (int64, bool, error) {
	id, found, err := r.lookup.Lookup(ctx, entity, field, value)
	if err != nil {
		return 0, false, fmt.Errorf("resolve %s.%s=%v: %w", entity, field, value, err)
	}
	return id, found, nil
}

func (r *Resolver) GroupClassByName(ctx context.Context, name string) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityGroupClass, "name", name)
}

func (r *Resolver) GroupByName(ctx context.Context, name string) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityGroup, "name", name)
}

func (r *Resolver) GroupByURL(ctx context.Context, url string) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityGroup, "url", url)
}

func (r *Resolver) BodyPartByName(ctx context.Context, name string) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityBodyPart, "name", name)
}

// BodyPartInGroup resolves the group by URL and then the body part of that
// name inside it. A miss on either is reported as not found.
func (r *Resolver) BodyPartInGroup(ctx context.Context, name, groupURL string) (int64, bool, error) {
	groupID, found, err := r.GroupByURL(ctx, groupURL)
	if err != nil || !found {
		return 0, false, err
	}
	id, found, err := r.lookup.LookupBodyPart(ctx, name, groupID)
	if err != nil {
		return 0, false, fmt.Errorf("resolve %s %q in group %d: %w", store.EntityBodyPart, name, groupID, err)
	}
	return id, found, nil
}

// DescriptorByUI resolves a MeSH descriptor by its unique identifier.
func (r *Resolver) DescriptorByUI(ctx context.Context, ui string) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityDescriptor, "ui", ui)
}

func (r *Resolver) TopicByExternalID(ctx context.Context, externalID int64) (int64, bool, error) {
	return r.Resolve(ctx, store.EntityTopic, "external_id", externalID)
}
