package taxonomy

import "slices"

// GroupClass is a named class of health-topic groups as listed on the
// MedlinePlus health-topics page.
type GroupClass struct {
	Name   string      `yaml:"name"`
	Groups []GroupLink `yaml:"health_topic_groups"`
}

// GroupLink is a health-topic group listed under a class.
type GroupLink struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// BodyPart is a body-part section of a group page. The same body-part name
// can appear under several groups, so it is always paired with its group.
type BodyPart struct {
	GroupURL string      `yaml:"group_url"`
	Name     string      `yaml:"name"`
	Topics   []TopicLink `yaml:"health_topics"`
}

// TopicLink is a health topic listed under a body part.
type TopicLink struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Snapshot is a complete scraped taxonomy, as stored in snapshot files.
type Snapshot struct {
	GroupClasses []GroupClass `yaml:"group_classes"`
	BodyParts    []BodyPart   `yaml:"body_parts"`
}

// Index answers the reconciliation queries of an ingestion run. It is built
// once and read-only afterwards. All matching is exact and case-sensitive.
type Index struct {
	classes   []GroupClass
	bodyParts []BodyPart
	byTopic   map[string][]string      // topic title → body-part names
	refs      map[string][]BodyPartRef // topic title → body parts with their group
}

// BodyPartRef identifies a body part within its owning group.
type BodyPartRef struct {
	Name     string
	GroupURL string
}

// New builds an index over the given taxonomy.
func New(classes []GroupClass, bodyParts []BodyPart) *Index {
	idx := &Index{
		classes:   classes,
		bodyParts: bodyParts,
		byTopic:   make(map[string][]string),
		refs:      make(map[string][]BodyPartRef),
	}

	for _, bp := range bodyParts {
		ref := BodyPartRef{Name: bp.Name, GroupURL: bp.GroupURL}
		for _, topic := range bp.Topics {
			if !slices.Contains(idx.refs[topic.Name], ref) {
				idx.refs[topic.Name] = append(idx.refs[topic.Name], ref)
			}
			if !slices.Contains(idx.byTopic[topic.Name], bp.Name) {
				idx.byTopic[topic.Name] = append(idx.byTopic[topic.Name], bp.Name)
			}
		}
	}

	return idx
}

// FromSnapshot builds an index from a snapshot.
func FromSnapshot(s *Snapshot) *Index {
	if s == nil {
		return New(nil, nil)
	}
	return New(s.GroupClasses, s.BodyParts)
}

// GroupClassOf returns the first class listing a group with that exact name.
func (idx *Index) GroupClassOf(groupName string) (string, bool) {
	for _, class := range idx.classes {
		for _, group := range class.Groups {
			if group.Name == groupName {
				return class.Name, true
			}
		}
	}
	return "", false
}

// BodyPartsOf returns the names of every body part listing a topic with
// that exact title, in taxonomy order and without duplicates.
func (idx *Index) BodyPartsOf(topicTitle string) []string {
	names := idx.byTopic[topicTitle]
	if len(names) == 0 {
		return nil
	}
	return slices.Clone(names)
}

// BodyPartRefsOf is BodyPartsOf keeping the owning group of each body
// part, so a name listed under several groups stays distinct.
func (idx *Index) BodyPartRefsOf(topicTitle string) []BodyPartRef {
	refs := idx.refs[topicTitle]
	if len(refs) == 0 {
		return nil
	}
	return slices.Clone(refs)
}

// GroupClasses returns the classes the index was built from.
func (idx *Index) GroupClasses() []GroupClass {
	return idx.classes
}

// BodyParts returns the body parts the index was built from.
func (idx *Index) BodyParts() []BodyPart {
	return idx.bodyParts
}

// Snapshot returns the taxonomy backing the index.
func (idx *Index) Snapshot() *Snapshot {
	return &Snapshot{GroupClasses: idx.classes, BodyParts: idx.bodyParts}
}
