package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/mpingest/pkg/mpingest/decode"
	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
	"github.com/cognicore/mpingest/pkg/mpingest/metrics"
	"github.com/cognicore/mpingest/pkg/mpingest/resolve"
	"github.com/cognicore/mpingest/pkg/mpingest/store"
	"github.com/cognicore/mpingest/pkg/mpingest/taxonomy"
)

// Ingester persists one document and returns the id of its main row.
// An id of 0 with a nil error means the document was skipped.
type Ingester[T any] interface {
	Ingest(ctx context.Context, doc T) (int64, error)
}

// Stats counts the work done by an ingester.
type Stats struct {
	Records int
	Linked  int
	Misses  int
}

// base carries what every ingester shares.
type base struct {
	store    store.Store
	resolver *resolve.Resolver
	index    *taxonomy.Index
	metrics  *metrics.Metrics
	logger   *slog.Logger
	stats    *Stats
}

func (b *base) record(kind string) {
	b.stats.Records++
	b.metrics.Ingested(kind)
}

func (b *base) link(ctx context.Context, kind store.LinkKind, topicID, otherID int64) error {
	if err := b.store.Link(ctx, kind, topicID, otherID); err != nil {
		return fmt.Errorf("link %s %d→%d: %w", kind, topicID, otherID, err)
	}
	b.stats.Linked++
	b.metrics.Linked(string(kind))
	return nil
}

// miss logs an optional association that could not be resolved.
func (b *base) miss(kind store.LinkKind, args ...any) {
	b.stats.Misses++
	b.metrics.Miss(string(kind))
	b.logger.Warn("skipping unresolved association", append([]any{"association", kind}, args...)...)
}

// GroupClassIngester upserts health-topic group classes by name.
type GroupClassIngester struct{ base }

var _ Ingester[string] = (*GroupClassIngester)(nil)

func (g *GroupClassIngester) Ingest(ctx context.Context, name string) (int64, error) {
	g.logger.Debug("ingesting document", "document", "health-topic-group-class", "name", name)

	id, err := g.store.UpsertGroupClass(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("upsert group class %q: %w", name, err)
	}
	g.record("group-class")
	return id, nil
}

// BodyPartIngester upserts the body parts of the taxonomy under their
// owning group, which must already be stored.
type BodyPartIngester struct{ base }

var _ Ingester[taxonomy.BodyPart] = (*BodyPartIngester)(nil)

func (b *BodyPartIngester) Ingest(ctx context.Context, bp taxonomy.BodyPart) (int64, error) {
	b.logger.Debug("ingesting document", "document", "body-part", "name", bp.Name, "group_url", bp.GroupURL)

	groupID, found, err := b.resolver.GroupByURL(ctx, bp.GroupURL)
	if err != nil {
		return 0, err
	}
	if !found {
		b.stats.Misses++
		b.metrics.Miss("body-part-group")
		b.logger.Warn("skipping body part of unknown group", "name", bp.Name, "group_url", bp.GroupURL)
		return 0, nil
	}

	id, err := b.store.UpsertBodyPart(ctx, bp.Name, groupID)
	if err != nil {
		return 0, fmt.Errorf("upsert body part %q: %w", bp.Name, err)
	}
	b.record("body-part")
	return id, nil
}

// GroupIngester upserts health-topic groups. The group class comes from
// the taxonomy; a group without one aborts the run.
type GroupIngester struct{ base }

var _ Ingester[decode.GroupDocument] = (*GroupIngester)(nil)

func (g *GroupIngester) Ingest(ctx context.Context, doc decode.GroupDocument) (int64, error) {
	g.logger.Debug("ingesting document", "document", "health-topic-group", "id", doc.ExternalID)

	className, ok := g.index.GroupClassOf(doc.Name)
	if !ok {
		return 0, fmt.Errorf("%w: group %q (id %d) is not listed under any group class",
			internalerr.ErrUnresolved, doc.Name, doc.ExternalID)
	}

	classID, found, err := g.resolver.GroupClassByName(ctx, className)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: group class %q of group %q is not stored",
			internalerr.ErrUnresolved, className, doc.Name)
	}

	id, err := g.store.UpsertGroup(ctx, store.Group{
		ExternalID:   doc.ExternalID,
		Name:         doc.Name,
		URL:          doc.URL,
		GroupClassID: classID,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert group %d: %w", doc.ExternalID, err)
	}
	g.record("group")
	return id, nil
}

// TopicIngester upserts a health topic with its named entities and
// associations. Related-topic links are only written when IncludeLinks is
// set, i.e. on the second pass once every topic exists.
type TopicIngester struct {
	base
	IncludeLinks bool
}

var _ Ingester[decode.TopicDocument] = (*TopicIngester)(nil)

func (ti *TopicIngester) Ingest(ctx context.Context, doc decode.TopicDocument) (int64, error) {
	ti.logger.Debug("ingesting document", "document", "health-topic", "id", doc.ExternalID, "links", ti.IncludeLinks)

	var instituteID int64
	if pi := doc.PrimaryInstitute; pi != nil {
		id, err := ti.store.UpsertPrimaryInstitute(ctx, pi.Name, pi.URL)
		if err != nil {
			return 0, fmt.Errorf("topic %d: upsert primary institute %q: %w", doc.ExternalID, pi.Name, err)
		}
		instituteID = id
	}

	topicID, err := ti.store.UpsertTopic(ctx, store.Topic{
		ExternalID:         doc.ExternalID,
		Title:              doc.Title,
		URL:                doc.URL,
		Description:        doc.Description,
		Summary:            doc.Summary,
		DateCreated:        doc.DateCreated,
		PrimaryInstituteID: instituteID,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert topic %d: %w", doc.ExternalID, err)
	}
	ti.record("health-topic")

	steps := []func(context.Context, int64, decode.TopicDocument) error{
		ti.alsoCalled,
		ti.seeReferences,
		ti.groups,
		ti.descriptors,
		ti.bodyParts,
	}
	if ti.IncludeLinks {
		steps = append(steps, ti.relatedTopics)
	}
	for _, step := range steps {
		if err := step(ctx, topicID, doc); err != nil {
			return 0, fmt.Errorf("topic %d: %w", doc.ExternalID, err)
		}
	}

	return topicID, nil
}

func (ti *TopicIngester) alsoCalled(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, ac := range doc.AlsoCalled {
		id, err := ti.store.UpsertAlsoCalled(ctx, ac.Name)
		if err != nil {
			return fmt.Errorf("upsert also-called %q: %w", ac.Name, err)
		}
		if err := ti.link(ctx, store.LinkAlsoCalled, topicID, id); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TopicIngester) seeReferences(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, sr := range doc.SeeReferences {
		id, err := ti.store.UpsertSeeReference(ctx, sr.Name)
		if err != nil {
			return fmt.Errorf("upsert see-reference %q: %w", sr.Name, err)
		}
		if err := ti.link(ctx, store.LinkSeeReference, topicID, id); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TopicIngester) groups(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, g := range doc.Groups {
		id, found, err := ti.resolver.GroupByName(ctx, g.Name)
		if err != nil {
			return err
		}
		if !found {
			ti.miss(store.LinkGroup, "topic", doc.ExternalID, "group", g.Name)
			continue
		}
		if err := ti.link(ctx, store.LinkGroup, topicID, id); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TopicIngester) descriptors(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, mh := range doc.MeshHeadings {
		if mh.Descriptor == nil {
			continue
		}
		id, found, err := ti.resolver.DescriptorByUI(ctx, mh.Descriptor.ID)
		if err != nil {
			return err
		}
		if !found {
			ti.miss(store.LinkDescriptor, "topic", doc.ExternalID, "descriptor", mh.Descriptor.ID)
			continue
		}
		if err := ti.link(ctx, store.LinkDescriptor, topicID, id); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TopicIngester) bodyParts(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, ref := range ti.index.BodyPartRefsOf(doc.Title) {
		id, found, err := ti.resolver.BodyPartInGroup(ctx, ref.Name, ref.GroupURL)
		if err != nil {
			return err
		}
		if !found {
			ti.miss(store.LinkBodyPart, "topic", doc.ExternalID, "body_part", ref.Name, "group_url", ref.GroupURL)
			continue
		}
		if err := ti.link(ctx, store.LinkBodyPart, topicID, id); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TopicIngester) relatedTopics(ctx context.Context, topicID int64, doc decode.TopicDocument) error {
	for _, rt := range doc.RelatedTopics {
		id, found, err := ti.resolver.TopicByExternalID(ctx, rt.ExternalID)
		if err != nil {
			return err
		}
		if !found {
			ti.miss(store.LinkRelatedTopic, "topic", doc.ExternalID, "related_topic", rt.ExternalID)
			continue
		}
		if err := ti.link(ctx, store.LinkRelatedTopic, topicID, id); err != nil {
			return err
		}
	}
	return nil
}
