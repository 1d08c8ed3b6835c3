package decode

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cognicore/mpingest/pkg/mpingest/xmlstream"
)

// Every Decode function below follows the same contract: a nil element, a
// Spanish-language element or a missing required attribute yields ok=false
// and no error. Malformed numbers and dates are errors.

// DecodeGroup decodes a top-level <group> element of the group dump.
func DecodeGroup(el *xmlstream.Element) (GroupDocument, bool, error) {
	if el == nil || isSpanish(el) {
		return GroupDocument{}, false, nil
	}

	id, ok, err := intAttr(el, "id")
	if err != nil || !ok {
		return GroupDocument{}, false, err
	}

	return GroupDocument{
		ExternalID: id,
		URL:        attr(el, "url"),
		Name:       text(el),
		Language:   attr(el, "language"),
	}, true, nil
}

// DecodeHealthTopic decodes a <health-topic> element and all of its
// supported children. <language-mapped-topic>, <other-language> and <site>
// are ignored.
func DecodeHealthTopic(el *xmlstream.Element) (TopicDocument, bool, error) {
	if el == nil || isSpanish(el) {
		return TopicDocument{}, false, nil
	}

	id, ok, err := intAttr(el, "id")
	if err != nil || !ok {
		return TopicDocument{}, false, err
	}
	created, ok, err := dateAttr(el, "date-created")
	if err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}
	if !ok {
		return TopicDocument{}, false, nil
	}

	doc := TopicDocument{
		ExternalID:  id,
		Title:       attr(el, "title"),
		URL:         attr(el, "url"),
		Description: attr(el, "meta-desc"),
		Summary:     text(el.Find("full-summary")),
		DateCreated: created,
		Language:    attr(el, "language"),
	}

	if doc.AlsoCalled, err = decodeAll(el, "also-called", DecodeAlsoCalled); err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}
	if doc.Groups, err = decodeAll(el, "group", DecodeGroupRef); err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}
	if doc.MeshHeadings, err = decodeAll(el, "mesh-heading", DecodeMeshHeading); err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}
	if doc.RelatedTopics, err = decodeAll(el, "related-topic", DecodeRelatedTopic); err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}
	if doc.SeeReferences, err = decodeAll(el, "see-reference", DecodeSeeReference); err != nil {
		return TopicDocument{}, false, fmt.Errorf("health-topic %d: %w", id, err)
	}

	if pi, ok, _ := DecodePrimaryInstitute(el.Find("primary-institute")); ok {
		doc.PrimaryInstitute = &pi
	}

	return doc, true, nil
}

// DecodeAlsoCalled decodes an <also-called> element.
func DecodeAlsoCalled(el *xmlstream.Element) (AlsoCalledDocument, bool, error) {
	name := text(el)
	if name == "" {
		return AlsoCalledDocument{}, false, nil
	}
	return AlsoCalledDocument{Name: name}, true, nil
}

// DecodeGroupRef decodes a <group> element nested in a <health-topic>.
func DecodeGroupRef(el *xmlstream.Element) (GroupRef, bool, error) {
	name := text(el)
	if name == "" {
		return GroupRef{}, false, nil
	}
	return GroupRef{Name: name, URL: attr(el, "url")}, true, nil
}

// DecodeMeshHeading decodes a <mesh-heading> element with its descriptor
// and qualifiers.
func DecodeMeshHeading(el *xmlstream.Element) (MeshHeadingDocument, bool, error) {
	if el == nil {
		return MeshHeadingDocument{}, false, nil
	}

	var mh MeshHeadingDocument
	if d, ok, _ := DecodeDescriptor(el.Find("descriptor")); ok {
		mh.Descriptor = &d
	}
	qualifiers, err := decodeAll(el, "qualifier", DecodeQualifier)
	if err != nil {
		return MeshHeadingDocument{}, false, err
	}
	mh.Qualifiers = qualifiers
	return mh, true, nil
}

// DecodeDescriptor decodes a <descriptor> element.
func DecodeDescriptor(el *xmlstream.Element) (DescriptorDocument, bool, error) {
	id := attr(el, "id")
	if id == "" {
		return DescriptorDocument{}, false, nil
	}
	return DescriptorDocument{ID: id, Name: text(el)}, true, nil
}

// DecodeQualifier decodes a <qualifier> element.
func DecodeQualifier(el *xmlstream.Element) (QualifierDocument, bool, error) {
	id := attr(el, "id")
	if id == "" {
		return QualifierDocument{}, false, nil
	}
	return QualifierDocument{ID: id, Name: text(el)}, true, nil
}

// DecodePrimaryInstitute decodes a <primary-institute> element.
func DecodePrimaryInstitute(el *xmlstream.Element) (PrimaryInstituteDocument, bool, error) {
	name := text(el)
	if name == "" {
		return PrimaryInstituteDocument{}, false, nil
	}
	return PrimaryInstituteDocument{Name: name, URL: attr(el, "url")}, true, nil
}

// DecodeRelatedTopic decodes a <related-topic> element.
func DecodeRelatedTopic(el *xmlstream.Element) (RelatedTopicRef, bool, error) {
	if el == nil {
		return RelatedTopicRef{}, false, nil
	}
	id, ok, err := intAttr(el, "id")
	if err != nil || !ok {
		return RelatedTopicRef{}, false, err
	}
	return RelatedTopicRef{ExternalID: id, URL: attr(el, "url"), Name: text(el)}, true, nil
}

// DecodeSeeReference decodes a <see-reference> element.
func DecodeSeeReference(el *xmlstream.Element) (SeeReferenceDocument, bool, error) {
	name := text(el)
	if name == "" {
		return SeeReferenceDocument{}, false, nil
	}
	return SeeReferenceDocument{Name: name}, true, nil
}

func decodeAll[T any](parent *xmlstream.Element, name string, fn func(*xmlstream.Element) (T, bool, error)) ([]T, error) {
	var out []T
	for _, child := range parent.FindAll(name) {
		v, ok, err := fn(child)
		if err != nil {
			return nil, fmt.Errorf("<%s>: %w", name, err)
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func isSpanish(el *xmlstream.Element) bool {
	return attr(el, "language") == LanguageSpanish
}

// text returns the trimmed character data of el; "" stands for absent.
func text(el *xmlstream.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text)
}

func attr(el *xmlstream.Element, name string) string {
	v, _ := el.Attr(name)
	return v
}

func intAttr(el *xmlstream.Element, name string) (int64, bool, error) {
	raw := strings.TrimSpace(attr(el, name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, name, raw)
	}
	return v, true, nil
}

func dateAttr(el *xmlstream.Element, name string) (time.Time, bool, error) {
	raw := strings.TrimSpace(attr(el, name))
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidDate, name, raw)
	}
	return t, true, nil
}
