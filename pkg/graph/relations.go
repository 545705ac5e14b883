package graph

import "sort"

// AddRelation inserts a directed relation between two existing entities.
//
// Returns ErrUnknownEntity if either endpoint is absent at call time and
// ErrDuplicateID if the relation id is already in use. Endpoints are not
// revalidated later; eviction cascades handle departures.
func (s *Store) AddRelation(rel *Relation) error {
	if err := rel.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.relations[rel.ID]; exists {
		return ErrDuplicateID
	}
	if _, exists := s.entities[rel.SourceEntity]; !exists {
		return ErrUnknownEntity
	}
	if _, exists := s.entities[rel.TargetEntity]; !exists {
		return ErrUnknownEntity
	}

	stored := rel.Clone()
	s.relations[stored.ID] = stored

	if s.outgoing[stored.SourceEntity] == nil {
		s.outgoing[stored.SourceEntity] = make(map[RelationID]struct{})
	}
	s.outgoing[stored.SourceEntity][stored.ID] = struct{}{}

	if s.incoming[stored.TargetEntity] == nil {
		s.incoming[stored.TargetEntity] = make(map[RelationID]struct{})
	}
	s.incoming[stored.TargetEntity][stored.ID] = struct{}{}

	return nil
}

// RemoveRelation removes one relation and its adjacency entries.
// Returns ErrNotFound if the id is unknown.
func (s *Store) RemoveRelation(id RelationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	rel, exists := s.relations[id]
	if !exists {
		return ErrNotFound
	}

	delete(s.relations, id)
	if out := s.outgoing[rel.SourceEntity]; out != nil {
		delete(out, id)
		if len(out) == 0 {
			delete(s.outgoing, rel.SourceEntity)
		}
	}
	if in := s.incoming[rel.TargetEntity]; in != nil {
		delete(in, id)
		if len(in) == 0 {
			delete(s.incoming, rel.TargetEntity)
		}
	}
	return nil
}

// GetRelation retrieves a relation by id. Returns ErrNotFound if absent.
func (s *Store) GetRelation(id RelationID) (*Relation, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	rel, exists := s.relations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return rel.Clone(), nil
}

// NeighborsOut returns the ids of relations whose source is the given entity,
// sorted for deterministic iteration.
func (s *Store) NeighborsOut(id EntityID) []RelationID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRelationIDs(s.outgoing[id])
}

// NeighborsIn returns the ids of relations whose target is the given entity,
// sorted for deterministic iteration.
func (s *Store) NeighborsIn(id EntityID) []RelationID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRelationIDs(s.incoming[id])
}

// RelationsByKind returns copies of all relations of the given kind.
func (s *Store) RelationsByKind(kind RelationKind) []*Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Relation, 0)
	for _, rel := range s.relations {
		if rel.Kind == kind {
			out = append(out, rel.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllRelations returns copies of every stored relation, sorted by id.
func (s *Store) AllRelations() []*Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Relation, 0, len(s.relations))
	for _, rel := range s.relations {
		out = append(out, rel.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RelationCount returns the number of stored relations.
func (s *Store) RelationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relations)
}

// RelationKindHistogram returns relation counts per kind.
func (s *Store) RelationKindHistogram() map[RelationKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := make(map[RelationKind]int)
	for _, rel := range s.relations {
		hist[rel.Kind]++
	}
	return hist
}

// removeIncidentRelationsLocked drops every relation incident to the entity.
// Caller must hold the write lock.
func (s *Store) removeIncidentRelationsLocked(id EntityID) {
	if out := s.outgoing[id]; out != nil {
		for relID := range out {
			if rel := s.relations[relID]; rel != nil {
				if in := s.incoming[rel.TargetEntity]; in != nil {
					delete(in, relID)
					if len(in) == 0 {
						delete(s.incoming, rel.TargetEntity)
					}
				}
			}
			delete(s.relations, relID)
		}
		delete(s.outgoing, id)
	}

	if in := s.incoming[id]; in != nil {
		for relID := range in {
			if rel := s.relations[relID]; rel != nil {
				if out := s.outgoing[rel.SourceEntity]; out != nil {
					delete(out, relID)
					if len(out) == 0 {
						delete(s.outgoing, rel.SourceEntity)
					}
				}
			}
			delete(s.relations, relID)
		}
		delete(s.incoming, id)
	}
}

func sortedRelationIDs(set map[RelationID]struct{}) []RelationID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]RelationID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
