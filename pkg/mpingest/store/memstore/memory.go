package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/mpingest/pkg/mpingest/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[store.Entity][]*row
	groups map[int64]store.Group // by external id
	topics map[int64]store.Topic // by external id
	links  map[store.LinkKind]map[[2]int64]struct{}
}

type row struct {
	id     int64
	fields map[string]any
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	s := &Store{
		nextID: 1,
		rows:   make(map[store.Entity][]*row),
		groups: make(map[int64]store.Group),
		topics: make(map[int64]store.Topic),
		links:  make(map[store.LinkKind]map[[2]int64]struct{}),
	}
	for _, k := range store.LinkKinds {
		s.links[k] = make(map[[2]int64]struct{})
	}
	return s
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// upsert finds the row of entity matching every key field and overwrites
// its fields, or inserts a new one. Callers hold the lock.
func (s *Store) upsert(entity store.Entity, keys []string, fields map[string]any, update bool) int64 {
	for _, r := range s.rows[entity] {
		match := true
		for _, k := range keys {
			if r.fields[k] != fields[k] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if update {
			for k, v := range fields {
				r.fields[k] = v
			}
		}
		return r.id
	}

	id := s.nextID
	s.nextID++
	s.rows[entity] = append(s.rows[entity], &row{id: id, fields: fields})
	return id
}

// UpsertGroupClass implements store.Store.
func (s *Store) UpsertGroupClass(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntityGroupClass, []string{"name"}, map[string]any{"name": name}, false), nil
}

// UpsertGroup implements store.Store, keyed by external id.
func (s *Store) UpsertGroup(ctx context.Context, g store.Group) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.upsert(store.EntityGroup, []string{"external_id"}, map[string]any{
		"external_id": g.ExternalID,
		"name":        g.Name,
		"url":         g.URL,
	}, true)
	g.ID = id
	s.groups[g.ExternalID] = g
	return id, nil
}

// UpsertBodyPart implements store.Store, keyed by name and group.
func (s *Store) UpsertBodyPart(ctx context.Context, name string, groupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntityBodyPart, []string{"name", "group_id"},
		map[string]any{"name": name, "group_id": groupID}, false), nil
}

// UpsertTopic implements store.Store, keyed by external id.
func (s *Store) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.upsert(store.EntityTopic, []string{"external_id"}, map[string]any{
		"external_id": t.ExternalID,
		"title":       t.Title,
		"url":         t.URL,
	}, true)
	t.ID = id
	s.topics[t.ExternalID] = t
	return id, nil
}

// UpsertAlsoCalled implements store.Store.
func (s *Store) UpsertAlsoCalled(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntityAlsoCalled, []string{"name"}, map[string]any{"name": name}, false), nil
}

// UpsertPrimaryInstitute implements store.Store, keyed by name.
func (s *Store) UpsertPrimaryInstitute(ctx context.Context, name, url string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntityPrimaryInstitute, []string{"name"},
		map[string]any{"name": name, "url": url}, true), nil
}

// UpsertSeeReference implements store.Store.
func (s *Store) UpsertSeeReference(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntitySeeReference, []string{"name"}, map[string]any{"name": name}, false), nil
}

// UpsertDescriptor implements store.Store, keyed by UI.
func (s *Store) UpsertDescriptor(ctx context.Context, ui, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(store.EntityDescriptor, []string{"ui"},
		map[string]any{"ui": ui, "name": name}, true), nil
}

// Link implements store.Store.
func (s *Store) Link(ctx context.Context, kind store.LinkKind, topicID, otherID int64) error {
	if err := store.ValidateLinkKind(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[kind][[2]int64{topicID, otherID}] = struct{}{}
	return nil
}

// Lookup implements store.Store. The lowest matching id wins.
func (s *Store) Lookup(ctx context.Context, entity store.Entity, field string, value any) (int64, bool, error) {
	if err := store.ValidateLookup(entity, field); err != nil {
		return 0, false, err
	}
	if value == "" {
		return 0, false, nil
	}
	value = normalize(value)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows[entity] {
		if r.fields[field] == value {
			return r.id, true, nil
		}
	}
	return 0, false, nil
}

// LookupBodyPart implements store.Store.
func (s *Store) LookupBodyPart(ctx context.Context, name string, groupID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows[store.EntityBodyPart] {
		if r.fields["name"] == name && r.fields["group_id"] == groupID {
			return r.id, true, nil
		}
	}
	return 0, false, nil
}

// GetGroup implements store.Store.
func (s *Store) GetGroup(ctx context.Context, externalID int64) (store.Group, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[externalID]
	return g, ok, nil
}

// GetTopic implements store.Store.
func (s *Store) GetTopic(ctx context.Context, externalID int64) (store.Topic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[externalID]
	return t, ok, nil
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, entity store.Entity) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows[entity])), nil
}

// CountLinks implements store.Store.
func (s *Store) CountLinks(ctx context.Context, kind store.LinkKind) (int64, error) {
	if err := store.ValidateLinkKind(kind); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.links[kind])), nil
}

// Linked implements store.Store.
func (s *Store) Linked(ctx context.Context, kind store.LinkKind, topicID int64) ([]int64, error) {
	if err := store.ValidateLinkKind(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for pair := range s.links[kind] {
		if pair[0] == topicID {
			ids = append(ids, pair[1])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// normalize widens integer lookup values so they compare equal to stored ids.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}
