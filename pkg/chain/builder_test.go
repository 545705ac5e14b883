package chain

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skulddb/pkg/graph"
)

var base = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

// seedGraph builds A -> B -> C with a side branch A -> D and one weak
// edge D -> C that no chain should traverse.
func seedGraph(t *testing.T) *graph.Store {
	t.Helper()
	store := graph.NewStore()

	for i, id := range []string{"A", "B", "C", "D"} {
		err := store.AddEntity(&graph.Entity{
			ID:         graph.EntityID(id),
			Kind:       graph.KindMarketEvent,
			Timestamp:  base.Add(time.Duration(i) * 10 * time.Minute),
			Confidence: 1,
			Source:     "test",
		})
		require.NoError(t, err)
	}

	edges := []struct {
		id       string
		from, to string
		strength float64
	}{
		{"r-ab", "A", "B", 0.9},
		{"r-bc", "B", "C", 0.8},
		{"r-ad", "A", "D", 0.65},
		{"r-dc", "D", "C", 0.5},
	}
	for _, e := range edges {
		err := store.AddRelation(&graph.Relation{
			ID:           graph.RelationID(e.id),
			SourceEntity: graph.EntityID(e.from),
			TargetEntity: graph.EntityID(e.to),
			Kind:         graph.RelCauses,
			StartTime:    base,
			Strength:     e.strength,
			Confidence:   0.9,
		})
		require.NoError(t, err)
	}
	return store
}

func entityPaths(chains []*Chain) [][]graph.EntityID {
	paths := make([][]graph.EntityID, len(chains))
	for i, c := range chains {
		paths[i] = c.Entities
	}
	return paths
}

func TestBuild(t *testing.T) {
	log := zerolog.Nop()

	t.Run("enumerates simple paths from all roots", func(t *testing.T) {
		builder := NewBuilder(seedGraph(t), nil, log)
		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)

		// Ordered by strength * confidence: A->B (0.405), B->C (0.32),
		// A->D (0.211), A->B->C (0.173). D->C is below MinStrength.
		require.Len(t, chains, 4)
		assert.Equal(t, [][]graph.EntityID{
			{"A", "B"},
			{"B", "C"},
			{"A", "D"},
			{"A", "B", "C"},
		}, entityPaths(chains))
	})

	t.Run("scores multiply along the path", func(t *testing.T) {
		builder := NewBuilder(seedGraph(t), nil, log)
		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)

		var abc *Chain
		for _, c := range chains {
			if len(c.Entities) == 3 {
				abc = c
			}
		}
		require.NotNil(t, abc)

		assert.Equal(t, []graph.RelationID{"r-ab", "r-bc"}, abc.Relations)
		assert.InDelta(t, 0.72, abc.TotalStrength, 1e-9)
		assert.InDelta(t, 0.24, abc.Confidence, 1e-9)
		assert.InDelta(t, 0.192, abc.PredictionPower, 1e-9)
		assert.Equal(t, base, abc.Start)
		assert.Equal(t, base.Add(20*time.Minute), abc.End)
		assert.Equal(t, 20*time.Minute, abc.Span())
	})

	t.Run("start entity restricts roots", func(t *testing.T) {
		builder := NewBuilder(seedGraph(t), nil, log)
		chains, err := builder.Build(context.Background(), "A", 0)
		require.NoError(t, err)

		require.Len(t, chains, 3)
		for _, c := range chains {
			assert.Equal(t, graph.EntityID("A"), c.Entities[0])
		}
	})

	t.Run("unknown start entity fails", func(t *testing.T) {
		builder := NewBuilder(seedGraph(t), nil, log)
		_, err := builder.Build(context.Background(), "missing", 0)
		assert.ErrorIs(t, err, graph.ErrNotFound)
	})

	t.Run("max depth caps hops per chain", func(t *testing.T) {
		builder := NewBuilder(seedGraph(t), nil, log)

		chains, err := builder.Build(context.Background(), "", 1)
		require.NoError(t, err)
		for _, c := range chains {
			assert.Len(t, c.Entities, 2)
			assert.Len(t, c.Relations, 1)
		}

		// Two hops admit the three-entity path.
		chains, err = builder.Build(context.Background(), "", 2)
		require.NoError(t, err)
		assert.Contains(t, entityPaths(chains), []graph.EntityID{"A", "B", "C"})
	})

	t.Run("span is non-negative for backward edges", func(t *testing.T) {
		store := graph.NewStore()
		for _, e := range []struct {
			id string
			ts time.Time
		}{
			{"early", base},
			{"late", base.Add(time.Hour)},
		} {
			require.NoError(t, store.AddEntity(&graph.Entity{
				ID: graph.EntityID(e.id), Kind: graph.KindMarketEvent,
				Timestamp: e.ts, Confidence: 1, Source: "test",
			}))
		}
		// Producer-supplied edge whose source is newer than its target.
		require.NoError(t, store.AddRelation(&graph.Relation{
			ID: "r-back", SourceEntity: "late", TargetEntity: "early",
			Kind: graph.RelCauses, StartTime: base, Strength: 0.9, Confidence: 1,
		}))

		builder := NewBuilder(store, nil, log)
		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)
		require.Len(t, chains, 1)

		assert.Equal(t, base, chains[0].Start)
		assert.Equal(t, base.Add(time.Hour), chains[0].End)
		assert.Equal(t, time.Hour, chains[0].Span())
	})

	t.Run("parallel edges keep the strongest relation", func(t *testing.T) {
		store := graph.NewStore()
		for _, id := range []string{"A", "B"} {
			require.NoError(t, store.AddEntity(&graph.Entity{
				ID: graph.EntityID(id), Kind: graph.KindMarketEvent,
				Timestamp: base, Confidence: 1, Source: "test",
			}))
		}
		// Ids chosen so the weak edge sorts first.
		require.NoError(t, store.AddRelation(&graph.Relation{
			ID: "r-0weak", SourceEntity: "A", TargetEntity: "B",
			Kind: graph.RelCauses, StartTime: base, Strength: 0.61, Confidence: 1,
		}))
		require.NoError(t, store.AddRelation(&graph.Relation{
			ID: "r-strong", SourceEntity: "A", TargetEntity: "B",
			Kind: graph.RelCauses, StartTime: base, Strength: 0.99, Confidence: 1,
		}))

		builder := NewBuilder(store, nil, log)
		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)
		require.Len(t, chains, 1)

		assert.Equal(t, []graph.RelationID{"r-strong"}, chains[0].Relations)
		assert.InDelta(t, 0.99, chains[0].TotalStrength, 1e-9)
	})

	t.Run("cycles terminate", func(t *testing.T) {
		store := graph.NewStore()
		for _, id := range []string{"A", "B"} {
			require.NoError(t, store.AddEntity(&graph.Entity{
				ID: graph.EntityID(id), Kind: graph.KindMarketEvent,
				Timestamp: base, Confidence: 1, Source: "test",
			}))
		}
		require.NoError(t, store.AddRelation(&graph.Relation{
			ID: "r-ab", SourceEntity: "A", TargetEntity: "B",
			Kind: graph.RelCauses, StartTime: base, Strength: 0.9, Confidence: 1,
		}))
		require.NoError(t, store.AddRelation(&graph.Relation{
			ID: "r-ba", SourceEntity: "B", TargetEntity: "A",
			Kind: graph.RelCauses, StartTime: base, Strength: 0.9, Confidence: 1,
		}))

		builder := NewBuilder(store, nil, log)
		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)
		assert.Len(t, chains, 2)
	})

	t.Run("rebuild yields identical chain ids", func(t *testing.T) {
		store := seedGraph(t)
		builder := NewBuilder(store, nil, log)

		first, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)
		second, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)

		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
		}
	})

	t.Run("result capped at configured maximum", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxChains = 2
		builder := NewBuilder(seedGraph(t), cfg, log)

		chains, err := builder.Build(context.Background(), "", 0)
		require.NoError(t, err)
		require.Len(t, chains, 2)
		assert.Equal(t, [][]graph.EntityID{{"A", "B"}, {"B", "C"}}, entityPaths(chains))
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		builder := NewBuilder(seedGraph(t), nil, log)
		_, err := builder.Build(ctx, "", 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
