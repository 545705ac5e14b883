package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func entity(id string, kind EntityKind, ts time.Time) *Entity {
	return &Entity{
		ID:         EntityID(id),
		Kind:       kind,
		Timestamp:  ts,
		Confidence: 0.9,
		Source:     "test",
	}
}

func relation(id, from, to string, kind RelationKind) *Relation {
	return &Relation{
		ID:           RelationID(id),
		SourceEntity: EntityID(from),
		TargetEntity: EntityID(to),
		Kind:         kind,
		StartTime:    base,
		Strength:     0.8,
		Confidence:   0.9,
	}
}

func TestAddEntity(t *testing.T) {
	t.Run("stores a valid entity", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))

		got, err := s.GetEntity("a")
		require.NoError(t, err)
		assert.Equal(t, EntityID("a"), got.ID)
		assert.Equal(t, 1, s.EntityCount())
	})

	t.Run("duplicate id fails and leaves store unchanged", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))

		dup := entity("a", KindPriceMovement, base.Add(time.Minute))
		err := s.AddEntity(dup)
		assert.ErrorIs(t, err, ErrDuplicateID)

		got, getErr := s.GetEntity("a")
		require.NoError(t, getErr)
		assert.Equal(t, KindNewsEvent, got.Kind)
		assert.Equal(t, 1, s.EntityCount())
	})

	t.Run("invalid entity rejected", func(t *testing.T) {
		s := NewStore()
		assert.ErrorIs(t, s.AddEntity(&Entity{ID: "a"}), ErrInvalidData)
		assert.ErrorIs(t, s.AddEntity(entity("", KindNewsEvent, base)), ErrInvalidID)
	})

	t.Run("stored entity is isolated from caller mutation", func(t *testing.T) {
		s := NewStore()
		e := entity("a", KindNewsEvent, base)
		e.Properties = map[string]any{"sentiment": 0.8}
		require.NoError(t, s.AddEntity(e))

		e.Properties["sentiment"] = -1.0
		got, err := s.GetEntity("a")
		require.NoError(t, err)
		assert.Equal(t, 0.8, got.Properties["sentiment"])
	})

	t.Run("closed store rejects writes", func(t *testing.T) {
		s := NewStore()
		s.Close()
		assert.ErrorIs(t, s.AddEntity(entity("a", KindNewsEvent, base)), ErrStoreClosed)
	})
}

func TestEntitiesInWindow(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddEntity(entity(
			string(rune('a'+i)), KindPriceMovement, base.Add(time.Duration(i)*time.Minute))))
	}

	t.Run("half open window", func(t *testing.T) {
		got := s.EntitiesInWindow(base.Add(time.Minute), base.Add(3*time.Minute))
		require.Len(t, got, 2)
		assert.Equal(t, EntityID("b"), got[0].ID)
		assert.Equal(t, EntityID("c"), got[1].ID)
	})

	t.Run("ascending timestamp order", func(t *testing.T) {
		got := s.EntitiesInWindow(base, base.Add(time.Hour))
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
		}
	})

	t.Run("empty window", func(t *testing.T) {
		assert.Empty(t, s.EntitiesInWindow(base.Add(time.Hour), base.Add(2*time.Hour)))
	})
}

func TestAddRelation(t *testing.T) {
	seed := func(t *testing.T) *Store {
		s := NewStore()
		require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))
		require.NoError(t, s.AddEntity(entity("b", KindPriceMovement, base.Add(time.Minute))))
		return s
	}

	t.Run("links existing entities", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.AddRelation(relation("r1", "a", "b", RelCauses)))

		assert.Equal(t, []RelationID{"r1"}, s.NeighborsOut("a"))
		assert.Equal(t, []RelationID{"r1"}, s.NeighborsIn("b"))
		assert.Empty(t, s.NeighborsOut("b"))
	})

	t.Run("missing endpoint fails", func(t *testing.T) {
		s := seed(t)
		err := s.AddRelation(relation("r1", "a", "ghost", RelCauses))
		assert.ErrorIs(t, err, ErrUnknownEntity)
		assert.Zero(t, s.RelationCount())
	})

	t.Run("duplicate relation id fails", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.AddRelation(relation("r1", "a", "b", RelCauses)))
		assert.ErrorIs(t, s.AddRelation(relation("r1", "b", "a", RelFollows)), ErrDuplicateID)
	})

	t.Run("self loops allowed, cycles allowed", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.AddRelation(relation("r1", "a", "b", RelCauses)))
		require.NoError(t, s.AddRelation(relation("r2", "b", "a", RelCauses)))
		assert.Equal(t, 2, s.RelationCount())
	})
}

func TestRemoveRelation(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))
	require.NoError(t, s.AddEntity(entity("b", KindPriceMovement, base.Add(time.Minute))))
	require.NoError(t, s.AddRelation(relation("r1", "a", "b", RelCauses)))

	require.NoError(t, s.RemoveRelation("r1"))

	_, err := s.GetRelation("r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.NeighborsOut("a"))
	assert.Empty(t, s.NeighborsIn("b"))
	assert.Equal(t, 2, s.EntityCount())

	assert.ErrorIs(t, s.RemoveRelation("r1"), ErrNotFound)
}

func TestRemoveEntityCascade(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))
	require.NoError(t, s.AddEntity(entity("b", KindPriceMovement, base.Add(time.Minute))))
	require.NoError(t, s.AddEntity(entity("c", KindVolumeSpike, base.Add(2*time.Minute))))
	require.NoError(t, s.AddRelation(relation("r-ab", "a", "b", RelCauses)))
	require.NoError(t, s.AddRelation(relation("r-bc", "b", "c", RelCauses)))

	require.NoError(t, s.RemoveEntity("b"))

	_, err := s.GetEntity("b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.RelationCount())
	assert.Empty(t, s.NeighborsOut("a"))
	assert.Empty(t, s.NeighborsIn("c"))
	assert.Equal(t, 2, s.EntityCount())
}

func TestEvictBefore(t *testing.T) {
	s := NewStore()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AddEntity(entity(
			string(rune('a'+i)), KindMarketEvent, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, s.AddRelation(relation("r-ab", "a", "b", RelCauses)))
	require.NoError(t, s.AddRelation(relation("r-cd", "c", "d", RelCauses)))

	cutoff := base.Add(2 * time.Hour)
	evicted := s.EvictBefore(cutoff)

	assert.Equal(t, []EntityID{"a", "b"}, evicted)
	assert.Empty(t, s.EntitiesInWindow(time.Time{}, cutoff))
	assert.Equal(t, 2, s.EntityCount())

	// Relations incident to evicted entities are gone, untouched ones
	// survive.
	_, err := s.GetRelation("r-ab")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRelation("r-cd")
	assert.NoError(t, err)
}

func TestHistograms(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddEntity(entity("a", KindNewsEvent, base)))
	require.NoError(t, s.AddEntity(entity("b", KindNewsEvent, base.Add(time.Minute))))
	require.NoError(t, s.AddEntity(entity("c", KindPriceMovement, base.Add(2*time.Minute))))
	require.NoError(t, s.AddRelation(relation("r1", "a", "c", RelCauses)))
	require.NoError(t, s.AddRelation(relation("r2", "b", "c", RelCorrelates)))

	assert.Equal(t, map[EntityKind]int{KindNewsEvent: 2, KindPriceMovement: 1}, s.EntityKindHistogram())
	assert.Equal(t, map[RelationKind]int{RelCauses: 1, RelCorrelates: 1}, s.RelationKindHistogram())
}
