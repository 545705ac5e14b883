package graph

import (
	"sort"
	"sync"
	"time"
)

// Store is the thread-safe in-memory entity store plus relation graph.
//
// A single RWMutex guards entities, relations and all indexes together.
// Writers (ingestion and eviction) hold the write lock for the duration of a
// single insert or evict; analytics readers hold the read lock only long
// enough to copy the slice of state they scan. Every returned entity or
// relation is a deep copy.
//
// Indexes:
//   - byKind: entity kind -> entity ids (pattern mining, histograms)
//   - timeline: (timestamp, id) pairs sorted ascending (window scans, eviction)
//   - outgoing/incoming: entity id -> incident relation ids (traversal)
//
// Performance:
//   - Entity/relation lookup by id: O(1)
//   - Window scan: O(log n + k) where k = entities in window
//   - Edge listing: O(degree)
//   - Eviction of m entities: O(m·degree + n) for the timeline rebuild
type Store struct {
	mu sync.RWMutex

	entities map[EntityID]*Entity
	byKind   map[EntityKind]map[EntityID]struct{}
	timeline []timelineEntry

	relations map[RelationID]*Relation
	outgoing  map[EntityID]map[RelationID]struct{}
	incoming  map[EntityID]map[RelationID]struct{}

	closed bool
}

// timelineEntry orders entities by timestamp, id as tie-breaker so scans are
// deterministic for entities sharing a timestamp.
type timelineEntry struct {
	ts time.Time
	id EntityID
}

// NewStore creates an empty store ready for concurrent use.
func NewStore() *Store {
	return &Store{
		entities:  make(map[EntityID]*Entity),
		byKind:    make(map[EntityKind]map[EntityID]struct{}),
		relations: make(map[RelationID]*Relation),
		outgoing:  make(map[EntityID]map[RelationID]struct{}),
		incoming:  make(map[EntityID]map[RelationID]struct{}),
	}
}

// AddEntity inserts a new entity.
//
// Returns ErrDuplicateID if an entity with the same id is already stored; the
// store is left unchanged in that case. Entities are immutable once inserted.
func (s *Store) AddEntity(entity *Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.entities[entity.ID]; exists {
		return ErrDuplicateID
	}

	stored := entity.Clone()
	s.entities[stored.ID] = stored

	if s.byKind[stored.Kind] == nil {
		s.byKind[stored.Kind] = make(map[EntityID]struct{})
	}
	s.byKind[stored.Kind][stored.ID] = struct{}{}

	s.timelineInsert(timelineEntry{ts: stored.Timestamp, id: stored.ID})
	return nil
}

// GetEntity retrieves an entity by id. Returns ErrNotFound if absent.
func (s *Store) GetEntity(id EntityID) (*Entity, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	entity, exists := s.entities[id]
	if !exists {
		return nil, ErrNotFound
	}
	return entity.Clone(), nil
}

// HasEntity reports whether an entity with the given id is stored.
func (s *Store) HasEntity(id EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.entities[id]
	return exists
}

// EachEntityInWindow calls fn for every entity with start <= timestamp < end,
// in ascending timestamp order. Iteration is lazy: entities are copied one at
// a time. Returning an error from fn stops iteration and propagates it.
func (s *Store) EachEntityInWindow(start, end time.Time, fn func(*Entity) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	from := sort.Search(len(s.timeline), func(i int) bool {
		return !s.timeline[i].ts.Before(start)
	})
	for i := from; i < len(s.timeline); i++ {
		if !s.timeline[i].ts.Before(end) {
			break
		}
		entity := s.entities[s.timeline[i].id]
		if entity == nil {
			continue
		}
		if err := fn(entity.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// EntitiesInWindow returns copies of all entities with start <= timestamp < end,
// ordered ascending by timestamp.
func (s *Store) EntitiesInWindow(start, end time.Time) []*Entity {
	out := make([]*Entity, 0)
	_ = s.EachEntityInWindow(start, end, func(e *Entity) error {
		out = append(out, e)
		return nil
	})
	return out
}

// EntitiesByKind returns copies of all entities of the given kind, ordered
// ascending by timestamp.
func (s *Store) EntitiesByKind(kind EntityKind) []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := s.byKind[kind]
	out := make([]*Entity, 0, len(ids))
	for _, entry := range s.timeline {
		if _, ok := ids[entry.id]; !ok {
			continue
		}
		if entity := s.entities[entry.id]; entity != nil {
			out = append(out, entity.Clone())
		}
	}
	return out
}

// AllEntities returns copies of every stored entity, ordered ascending by
// timestamp.
func (s *Store) AllEntities() []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entity, 0, len(s.entities))
	for _, entry := range s.timeline {
		if entity := s.entities[entry.id]; entity != nil {
			out = append(out, entity.Clone())
		}
	}
	return out
}

// RemoveEntity removes an entity and cascades removal of every incident
// relation. Returns ErrNotFound if the entity is absent.
func (s *Store) RemoveEntity(id EntityID) error {
	if id == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.entities[id]; !exists {
		return ErrNotFound
	}
	s.removeEntityLocked(id)
	return nil
}

// EvictBefore removes every entity with timestamp < cutoff, cascading removal
// of their incident relations, and returns the evicted entity ids in
// timestamp order.
//
// EvictBefore is a pure function of the cutoff: scheduling (after insert
// batches, on a timer) belongs to the caller.
func (s *Store) EvictBefore(cutoff time.Time) []EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	end := sort.Search(len(s.timeline), func(i int) bool {
		return !s.timeline[i].ts.Before(cutoff)
	})
	if end == 0 {
		return nil
	}

	evicted := make([]EntityID, 0, end)
	for _, entry := range s.timeline[:end] {
		if _, exists := s.entities[entry.id]; exists {
			evicted = append(evicted, entry.id)
		}
	}
	for _, id := range evicted {
		s.removeEntityLocked(id)
	}
	return evicted
}

// EntityCount returns the number of stored entities.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// EntityKindHistogram returns entity counts per kind.
func (s *Store) EntityKindHistogram() map[EntityKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := make(map[EntityKind]int, len(s.byKind))
	for kind, ids := range s.byKind {
		if len(ids) > 0 {
			hist[kind] = len(ids)
		}
	}
	return hist
}

// Close closes the store. Subsequent operations return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entities = nil
	s.byKind = nil
	s.timeline = nil
	s.relations = nil
	s.outgoing = nil
	s.incoming = nil
	return nil
}

// timelineInsert inserts an entry keeping the timeline sorted by
// (timestamp, id). Caller must hold the write lock.
func (s *Store) timelineInsert(entry timelineEntry) {
	at := sort.Search(len(s.timeline), func(i int) bool {
		if s.timeline[i].ts.Equal(entry.ts) {
			return s.timeline[i].id > entry.id
		}
		return s.timeline[i].ts.After(entry.ts)
	})
	s.timeline = append(s.timeline, timelineEntry{})
	copy(s.timeline[at+1:], s.timeline[at:])
	s.timeline[at] = entry
}

// removeEntityLocked removes an entity, its index entries and every incident
// relation. Caller must hold the write lock and have checked existence.
func (s *Store) removeEntityLocked(id EntityID) {
	entity := s.entities[id]
	if entity == nil {
		return
	}

	if ids := s.byKind[entity.Kind]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byKind, entity.Kind)
		}
	}

	for at := sort.Search(len(s.timeline), func(i int) bool {
		if s.timeline[i].ts.Equal(entity.Timestamp) {
			return s.timeline[i].id >= id
		}
		return s.timeline[i].ts.After(entity.Timestamp)
	}); at < len(s.timeline); at++ {
		if s.timeline[at].id == id {
			s.timeline = append(s.timeline[:at], s.timeline[at+1:]...)
			break
		}
		if !s.timeline[at].ts.Equal(entity.Timestamp) {
			break
		}
	}

	s.removeIncidentRelationsLocked(id)
	delete(s.entities, id)
}
