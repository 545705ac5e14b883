// Package chain assembles multi-step causal chains from the causal
// relations stored in the graph.
//
// A chain is a simple path A -> B -> C of entities connected by strong
// `causes` relations. The builder enumerates every such path up to a
// depth limit, scores each one, and keeps the strongest. Chain
// identifiers are derived from the entity path, so rebuilding over an
// unchanged graph yields identical chains.
package chain

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/graph"
)

// ID uniquely identifies a causal chain. It is a content address over
// the entity path, not a random handle.
type ID string

// Chain is one scored causal path through the graph.
type Chain struct {
	ID       ID               `json:"id"`
	Entities []graph.EntityID `json:"entities"`
	// Relations holds the relation per hop, aligned with the entity
	// path: Relations[i] links Entities[i] to Entities[i+1].
	Relations []graph.RelationID `json:"relations"`

	// TotalStrength is the product of hop strengths. It shrinks with
	// every hop, which is the point: long chains must earn their
	// length.
	TotalStrength float64 `json:"total_strength"`

	// Confidence is TotalStrength spread over the path length.
	Confidence float64 `json:"chain_confidence"`

	// PredictionPower discounts confidence for forecasting use.
	PredictionPower float64 `json:"prediction_power"`

	// Start and End are the earliest and latest entity timestamps on
	// the path. Producers may record a causes relation whose source is
	// newer than its target, so these are min/max over the path, not
	// the head and tail.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Span is the wall time the chain covers.
func (c *Chain) Span() time.Duration {
	return c.End.Sub(c.Start)
}

// GraphSource is the read surface the builder needs. *graph.Store
// satisfies it.
type GraphSource interface {
	AllRelations() []*graph.Relation
	GetEntity(id graph.EntityID) (*graph.Entity, error)
}

// Config controls chain enumeration and selection.
type Config struct {
	// MaxDepth caps the number of hops in a chain: a chain at the
	// limit has MaxDepth relations and MaxDepth+1 entities.
	MaxDepth int

	// MinStrength is the weakest relation a chain may traverse.
	MinStrength float64

	// MaxChains caps how many chains Build returns.
	MaxChains int

	// PredictionDiscount scales confidence into prediction power.
	PredictionDiscount float64
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:           5,
		MinStrength:        0.6,
		MaxChains:          100,
		PredictionDiscount: 0.8,
	}
}

// Builder enumerates and scores causal chains.
type Builder struct {
	cfg    *Config
	source GraphSource
	log    zerolog.Logger
}

// NewBuilder creates a builder. A nil config gets DefaultConfig.
func NewBuilder(source GraphSource, cfg *Config, log zerolog.Logger) *Builder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Builder{
		cfg:    cfg,
		source: source,
		log:    log.With().Str("component", "chain").Logger(),
	}
}

// hop is one traversable edge in the causal subgraph.
type hop struct {
	relation graph.RelationID
	to       graph.EntityID
	strength float64
}

// Build enumerates every simple causal path of at least two entities,
// scores each, and returns the strongest MaxChains ordered by score.
// maxDepth caps the hops per chain; zero or out-of-range values fall
// back to the configured default. With a non-empty start only paths
// beginning at that entity are considered; otherwise every entity with
// an outgoing causal relation roots its own search. Enumeration is
// exponential in the worst case, so Build checks ctx at every path
// extension and returns early when cancelled.
func (b *Builder) Build(ctx context.Context, start graph.EntityID, maxDepth int) ([]*Chain, error) {
	if maxDepth <= 0 || maxDepth > b.cfg.MaxDepth {
		maxDepth = b.cfg.MaxDepth
	}

	adjacency := b.causalAdjacency()

	var roots []graph.EntityID
	if start != "" {
		if _, err := b.source.GetEntity(start); err != nil {
			return nil, fmt.Errorf("build chains: %w", err)
		}
		roots = []graph.EntityID{start}
	} else {
		roots = make([]graph.EntityID, 0, len(adjacency))
		for id := range adjacency {
			roots = append(roots, id)
		}
		sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	}

	walker := &pathWalker{
		builder:   b,
		adjacency: adjacency,
		maxDepth:  maxDepth,
		seen:      map[ID]struct{}{},
	}
	for _, root := range roots {
		if err := walker.walk(ctx, root); err != nil {
			return nil, err
		}
	}

	chains := walker.chains
	sort.Slice(chains, func(i, j int) bool {
		si := chains[i].TotalStrength * chains[i].Confidence
		sj := chains[j].TotalStrength * chains[j].Confidence
		if si != sj {
			return si > sj
		}
		return chains[i].ID < chains[j].ID
	})
	if len(chains) > b.cfg.MaxChains {
		chains = chains[:b.cfg.MaxChains]
	}

	b.log.Debug().
		Int("roots", len(roots)).
		Int("chains", len(chains)).
		Msg("chain build complete")
	return chains, nil
}

// causalAdjacency projects the relation set down to the causal edges
// strong enough to traverse. Producers may record parallel causes
// relations between the same pair; only the strongest survives here so
// chain scores do not depend on relation id ordering.
func (b *Builder) causalAdjacency() map[graph.EntityID][]hop {
	best := map[graph.EntityID]map[graph.EntityID]hop{}
	for _, rel := range b.source.AllRelations() {
		if rel.Kind != graph.RelCauses || rel.Strength <= b.cfg.MinStrength {
			continue
		}
		candidate := hop{
			relation: rel.ID,
			to:       rel.TargetEntity,
			strength: rel.Strength,
		}
		edges := best[rel.SourceEntity]
		if edges == nil {
			edges = map[graph.EntityID]hop{}
			best[rel.SourceEntity] = edges
		}
		current, ok := edges[rel.TargetEntity]
		if !ok || candidate.strength > current.strength ||
			(candidate.strength == current.strength && candidate.relation < current.relation) {
			edges[rel.TargetEntity] = candidate
		}
	}

	adjacency := make(map[graph.EntityID][]hop, len(best))
	for from, edges := range best {
		hops := make([]hop, 0, len(edges))
		for _, h := range edges {
			hops = append(hops, h)
		}
		// Deterministic traversal order regardless of map iteration.
		sort.Slice(hops, func(i, j int) bool { return hops[i].to < hops[j].to })
		adjacency[from] = hops
	}
	return adjacency
}

// pathWalker carries the DFS state for one Build call.
type pathWalker struct {
	builder   *Builder
	adjacency map[graph.EntityID][]hop
	maxDepth  int

	path      []graph.EntityID
	relations []graph.RelationID
	strengths []float64
	onPath    map[graph.EntityID]struct{}

	seen   map[ID]struct{}
	chains []*Chain
}

func (w *pathWalker) walk(ctx context.Context, root graph.EntityID) error {
	w.path = w.path[:0]
	w.relations = w.relations[:0]
	w.strengths = w.strengths[:0]
	w.onPath = map[graph.EntityID]struct{}{root: {}}
	w.path = append(w.path, root)
	return w.extend(ctx)
}

func (w *pathWalker) extend(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(w.relations) >= w.maxDepth {
		return nil
	}

	tail := w.path[len(w.path)-1]
	for _, h := range w.adjacency[tail] {
		if _, cyclic := w.onPath[h.to]; cyclic {
			continue
		}

		w.path = append(w.path, h.to)
		w.relations = append(w.relations, h.relation)
		w.strengths = append(w.strengths, h.strength)
		w.onPath[h.to] = struct{}{}

		if err := w.emit(); err != nil {
			return err
		}
		if err := w.extend(ctx); err != nil {
			return err
		}

		delete(w.onPath, h.to)
		w.path = w.path[:len(w.path)-1]
		w.relations = w.relations[:len(w.relations)-1]
		w.strengths = w.strengths[:len(w.strengths)-1]
	}
	return nil
}

// emit scores the current path and records it as a chain.
func (w *pathWalker) emit() error {
	id := pathID(w.path)
	if _, dup := w.seen[id]; dup {
		return nil
	}
	w.seen[id] = struct{}{}

	total := 1.0
	for _, s := range w.strengths {
		total *= s
	}
	confidence := total / float64(len(w.path))

	var start, end time.Time
	for _, entityID := range w.path {
		ent, err := w.builder.source.GetEntity(entityID)
		if err != nil {
			return fmt.Errorf("chain member %s: %w", entityID, err)
		}
		if start.IsZero() || ent.Timestamp.Before(start) {
			start = ent.Timestamp
		}
		if end.IsZero() || ent.Timestamp.After(end) {
			end = ent.Timestamp
		}
	}

	w.chains = append(w.chains, &Chain{
		ID:              id,
		Entities:        append([]graph.EntityID(nil), w.path...),
		Relations:       append([]graph.RelationID(nil), w.relations...),
		TotalStrength:   total,
		Confidence:      confidence,
		PredictionPower: confidence * w.builder.cfg.PredictionDiscount,
		Start:           start,
		End:             end,
	})
	return nil
}

// pathID content-addresses a chain by its entity path.
func pathID(path []graph.EntityID) ID {
	h := fnv.New64a()
	for i, id := range path {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(id))
	}
	return ID(fmt.Sprintf("chain-%016x", h.Sum64()))
}
