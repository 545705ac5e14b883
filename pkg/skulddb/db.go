// Package skulddb is the embedded temporal causal knowledge graph.
//
// A DB owns the in-memory graph, its Badger persistence, and the four
// analytics engines: causal discovery, chain building, pattern mining,
// and prediction. Producers ingest timestamped entities and relations;
// an external scheduler periodically invokes the analytics operations;
// consumers read the current hypotheses, chains, patterns, and
// predictions.
//
// Concurrency model: ingestion and analytics may run concurrently.
// The graph uses a readers/writer lock internally, each analytics run
// publishes its output with an atomic swap, and each analytics kind is
// single-flight: invoking an operation while its previous run is still
// in progress fails fast with ErrAnalyticsBusy rather than queueing.
//
// Example:
//
//	db, err := skulddb.Open(nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.AddEntity(&graph.Entity{...})
//	hyps, err := db.DiscoverCausalRelationships(ctx, time.Hour)
//	chains, err := db.BuildCausalChains(ctx, 5)
//	preds, err := db.PredictFutureEvents(24 * time.Hour)
package skulddb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/causal"
	"github.com/orneryd/skulddb/pkg/chain"
	"github.com/orneryd/skulddb/pkg/config"
	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/pattern"
	"github.com/orneryd/skulddb/pkg/predict"
	"github.com/orneryd/skulddb/pkg/storage"
)

// ErrAnalyticsBusy is returned when an analytics operation is invoked
// while its previous run has not finished. Retry policy belongs to the
// external scheduler.
var ErrAnalyticsBusy = errors.New("analytics run already in progress")

// GraphStats is a point-in-time summary of the graph and its analytics
// artifacts.
type GraphStats struct {
	EntityCount   int `json:"entity_count"`
	RelationCount int `json:"relation_count"`
	ChainCount    int `json:"chain_count"`
	PatternCount  int `json:"pattern_count"`

	EntityKinds   map[graph.EntityKind]int   `json:"entity_kind_histogram"`
	RelationKinds map[graph.RelationKind]int `json:"relation_kind_histogram"`
}

// DB is an embedded temporal causal knowledge graph.
type DB struct {
	cfg *config.Config
	log zerolog.Logger

	graph     *graph.Store
	persist   *storage.BadgerStore
	discovery *causal.Engine
	builder   *chain.Builder
	miner     *pattern.Miner
	predictor *predict.Predictor

	// outMu guards the published analytics outputs. Runs build their
	// results privately and swap them in here on completion.
	outMu       sync.RWMutex
	hypotheses  []causal.Hypothesis
	chains      []*chain.Chain
	patterns    []*pattern.Pattern
	predictions []*predict.Prediction

	// Per-analytics-kind single-flight locks.
	discoverFlight sync.Mutex
	chainFlight    sync.Mutex
	patternFlight  sync.Mutex
	predictFlight  sync.Mutex

	// now is swappable for tests.
	now func() time.Time

	evictStop chan struct{}
	evictDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open creates a DB from config. A nil config loads from the
// environment. When persistence is configured the previous graph and
// analytics artifacts are reloaded before Open returns.
func Open(cfg *config.Config, log zerolog.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	log = log.With().Str("component", "skulddb").Logger()

	persist, err := storage.Open(storage.Options{
		DataDir:    cfg.Database.DataDir,
		InMemory:   cfg.Database.InMemory,
		SyncWrites: cfg.Database.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db := &DB{
		cfg:     cfg,
		log:     log,
		graph:   graph.NewStore(),
		persist: persist,
		now:     time.Now,
	}

	db.discovery = causal.New(db.graph, &causal.Config{
		MaxLag:              cfg.Causal.MaxLag,
		ScoreThreshold:      cfg.Causal.ScoreThreshold,
		ProximityWeight:     0.3,
		CompatibilityWeight: 0.4,
		CorrelationWeight:   0.3,
		MinSeriesPoints:     3,
		MaxPValue:           cfg.Causal.MaxPValue,
		MinCorrelation:      cfg.Causal.MinCorrelation,
	}, log)
	db.builder = chain.NewBuilder(db.graph, &chain.Config{
		MaxDepth:           cfg.Chain.MaxDepth,
		MinStrength:        cfg.Chain.MinStrength,
		MaxChains:          cfg.Chain.MaxChains,
		PredictionDiscount: 0.8,
	}, log)
	db.miner = pattern.NewMiner(db.graph, &pattern.Config{
		MinGroupSize: cfg.Pattern.MinGroupSize,
		MaxVariation: cfg.Pattern.MaxVariation,
		MaxAccuracy:  0.9,
	}, log)
	db.predictor = predict.New(db.graph, &predict.Config{
		MinPredictionPower: 0.2,
		ActivityWindow:     cfg.Predict.ActivityWindow,
		MinActivity:        cfg.Predict.MinActivity,
		MaxPredictions:     cfg.Predict.MaxPredictions,
		LongChainLength:    4,
		LowConfidence:      0.4,
		StaleSpan:          24 * time.Hour,
	}, log)

	if err := db.reload(); err != nil {
		persist.Close()
		return nil, fmt.Errorf("open: %w", err)
	}

	if cfg.Graph.EvictionEnabled {
		db.evictStop = make(chan struct{})
		db.evictDone = make(chan struct{})
		go db.evictLoop()
	}

	log.Info().
		Int("entities", db.graph.EntityCount()).
		Int("relations", db.graph.RelationCount()).
		Msg("database opened")
	return db, nil
}

// reload rebuilds the in-memory graph from the persisted tables.
func (db *DB) reload() error {
	entities, err := db.persist.LoadEntities()
	if err != nil {
		return fmt.Errorf("reload entities: %w", err)
	}
	for _, e := range entities {
		if err := db.graph.AddEntity(e); err != nil {
			return fmt.Errorf("reload entity %s: %w", e.ID, err)
		}
	}

	relations, err := db.persist.LoadRelations()
	if err != nil {
		return fmt.Errorf("reload relations: %w", err)
	}
	for _, r := range relations {
		if err := db.graph.AddRelation(r); err != nil {
			// A relation whose endpoint was evicted after the relation
			// was written is stale, not fatal.
			if errors.Is(err, graph.ErrUnknownEntity) {
				db.log.Warn().Str("relation", string(r.ID)).Msg("dropping stale relation on reload")
				if delErr := db.persist.DeleteRelation(r.ID); delErr != nil {
					return delErr
				}
				continue
			}
			return fmt.Errorf("reload relation %s: %w", r.ID, err)
		}
	}

	chains, err := db.persist.LoadChains()
	if err != nil {
		return fmt.Errorf("reload chains: %w", err)
	}
	patterns, err := db.persist.LoadPatterns()
	if err != nil {
		return fmt.Errorf("reload patterns: %w", err)
	}
	db.outMu.Lock()
	db.chains = chains
	db.patterns = patterns
	db.outMu.Unlock()
	return nil
}

// Close stops background eviction and releases storage. Safe to call
// more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.evictStop != nil {
			close(db.evictStop)
			<-db.evictDone
		}
		db.graph.Close()
		db.closeErr = db.persist.Close()
		db.log.Info().Msg("database closed")
	})
	return db.closeErr
}

// AddEntity ingests one entity. The id must be unique for the lifetime
// of the store; producers are responsible for id generation. The write
// is all-or-nothing: when the durable put fails the in-memory insert is
// rolled back, so a failed ingest leaves no trace.
func (db *DB) AddEntity(e *graph.Entity) error {
	if err := db.graph.AddEntity(e); err != nil {
		return err
	}
	if err := db.persist.PutEntity(e); err != nil {
		if rbErr := db.graph.RemoveEntity(e.ID); rbErr != nil {
			db.log.Error().Str("entity", string(e.ID)).Err(rbErr).Msg("rollback after persist failure")
		}
		return fmt.Errorf("persist entity %s: %w", e.ID, err)
	}
	return nil
}

// AddRelation ingests one relation. Both endpoints must already exist.
// Like AddEntity, a failed durable put rolls the in-memory insert back.
func (db *DB) AddRelation(r *graph.Relation) error {
	if err := db.graph.AddRelation(r); err != nil {
		return err
	}
	if err := db.persist.PutRelation(r); err != nil {
		if rbErr := db.graph.RemoveRelation(r.ID); rbErr != nil {
			db.log.Error().Str("relation", string(r.ID)).Err(rbErr).Msg("rollback after persist failure")
		}
		return fmt.Errorf("persist relation %s: %w", r.ID, err)
	}
	return nil
}

// GetEntity returns a copy of one entity.
func (db *DB) GetEntity(id graph.EntityID) (*graph.Entity, error) {
	return db.graph.GetEntity(id)
}

// GetRelation returns a copy of one relation.
func (db *DB) GetRelation(id graph.RelationID) (*graph.Relation, error) {
	return db.graph.GetRelation(id)
}

// Entities returns copies of every stored entity, sorted by timestamp.
func (db *DB) Entities() []*graph.Entity {
	return db.graph.AllEntities()
}

// DiscoverCausalRelationships runs the full discovery pipeline over
// the trailing window: score entity pairs, validate the candidates
// against history, promote the survivors into `causes` relations, and
// publish them as the current hypothesis set.
func (db *DB) DiscoverCausalRelationships(ctx context.Context, window time.Duration) ([]causal.Hypothesis, error) {
	if !db.discoverFlight.TryLock() {
		return nil, fmt.Errorf("discover: %w", ErrAnalyticsBusy)
	}
	defer db.discoverFlight.Unlock()

	candidates, err := db.discovery.Discover(ctx, db.now(), window)
	if err != nil {
		return nil, err
	}
	validated, err := db.discovery.Validate(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for _, h := range validated {
		if err := db.promote(h); err != nil {
			// Promotion failures are local: log and keep going.
			db.log.Warn().
				Str("cause", string(h.CauseID)).
				Str("effect", string(h.EffectID)).
				Err(err).
				Msg("hypothesis promotion failed")
		}
	}

	db.outMu.Lock()
	db.hypotheses = validated
	db.outMu.Unlock()
	return validated, nil
}

// promote records a validated hypothesis as a durable `causes`
// relation, unless one already links the pair. Either endpoint may
// have been evicted since discovery sampled it.
func (db *DB) promote(h causal.Hypothesis) error {
	if !db.graph.HasEntity(h.EffectID) {
		return fmt.Errorf("effect %s: %w", h.EffectID, graph.ErrUnknownEntity)
	}
	for _, relID := range db.graph.NeighborsOut(h.CauseID) {
		rel, err := db.graph.GetRelation(relID)
		if err != nil {
			continue
		}
		if rel.Kind == graph.RelCauses && rel.TargetEntity == h.EffectID {
			return nil
		}
	}

	cause, err := db.graph.GetEntity(h.CauseID)
	if err != nil {
		return err
	}
	return db.AddRelation(&graph.Relation{
		ID:           graph.RelationID("causal-" + uuid.NewString()),
		SourceEntity: h.CauseID,
		TargetEntity: h.EffectID,
		Kind:         graph.RelCauses,
		StartTime:    cause.Timestamp,
		Strength:     h.Strength,
		Confidence:   h.Strength,
		CausalLag:    h.Lag,
		Evidence:     h.Evidence,
		Metadata:     map[string]any{"mechanism": h.Mechanism},
	})
}

// BuildCausalChains enumerates causal chains over the current graph
// and publishes them as the current chain set, replacing the persisted
// set. maxLength caps entities per chain; zero means the configured
// default.
func (db *DB) BuildCausalChains(ctx context.Context, maxLength int) ([]*chain.Chain, error) {
	if !db.chainFlight.TryLock() {
		return nil, fmt.Errorf("build chains: %w", ErrAnalyticsBusy)
	}
	defer db.chainFlight.Unlock()

	chains, err := db.builder.Build(ctx, "", maxLength)
	if err != nil {
		return nil, err
	}
	if err := db.persist.ReplaceChains(chains); err != nil {
		return nil, fmt.Errorf("persist chains: %w", err)
	}

	db.outMu.Lock()
	db.chains = chains
	db.outMu.Unlock()
	return chains, nil
}

// DiscoverTemporalPatterns mines periodic patterns and publishes them
// as the current pattern set, replacing the persisted set.
func (db *DB) DiscoverTemporalPatterns() ([]*pattern.Pattern, error) {
	if !db.patternFlight.TryLock() {
		return nil, fmt.Errorf("discover patterns: %w", ErrAnalyticsBusy)
	}
	defer db.patternFlight.Unlock()

	patterns := db.miner.Discover()
	if err := db.persist.ReplacePatterns(patterns); err != nil {
		return nil, fmt.Errorf("persist patterns: %w", err)
	}

	db.outMu.Lock()
	db.patterns = patterns
	db.outMu.Unlock()
	return patterns, nil
}

// PredictFutureEvents projects predictions from the current chain set
// over the given horizon and publishes them.
func (db *DB) PredictFutureEvents(horizon time.Duration) ([]*predict.Prediction, error) {
	if !db.predictFlight.TryLock() {
		return nil, fmt.Errorf("predict: %w", ErrAnalyticsBusy)
	}
	defer db.predictFlight.Unlock()

	predictions, err := db.predictor.Predict(db.Chains(), db.now(), horizon)
	if err != nil {
		return nil, err
	}

	db.outMu.Lock()
	db.predictions = predictions
	db.outMu.Unlock()
	return predictions, nil
}

// Hypotheses returns the hypothesis set published by the most recent
// discovery run.
func (db *DB) Hypotheses() []causal.Hypothesis {
	db.outMu.RLock()
	defer db.outMu.RUnlock()
	return db.hypotheses
}

// Chains returns the chain set published by the most recent build.
func (db *DB) Chains() []*chain.Chain {
	db.outMu.RLock()
	defer db.outMu.RUnlock()
	return db.chains
}

// Patterns returns the pattern set published by the most recent mining
// run.
func (db *DB) Patterns() []*pattern.Pattern {
	db.outMu.RLock()
	defer db.outMu.RUnlock()
	return db.patterns
}

// Predictions returns the prediction set published by the most recent
// prediction run.
func (db *DB) Predictions() []*predict.Prediction {
	db.outMu.RLock()
	defer db.outMu.RUnlock()
	return db.predictions
}

// Stats summarizes the graph and analytics artifacts.
func (db *DB) Stats() GraphStats {
	db.outMu.RLock()
	chainCount := len(db.chains)
	patternCount := len(db.patterns)
	db.outMu.RUnlock()

	return GraphStats{
		EntityCount:   db.graph.EntityCount(),
		RelationCount: db.graph.RelationCount(),
		ChainCount:    chainCount,
		PatternCount:  patternCount,
		EntityKinds:   db.graph.EntityKindHistogram(),
		RelationKinds: db.graph.RelationKindHistogram(),
	}
}

// EvictExpired removes entities older than the retention window, along
// with their incident relations, from both the graph and storage. It
// returns how many entities were evicted.
func (db *DB) EvictExpired() (int, error) {
	cutoff := db.now().Add(-db.cfg.Graph.RetentionWindow)
	evicted := db.graph.EvictBefore(cutoff)
	if len(evicted) == 0 {
		return 0, nil
	}

	gone := make(map[graph.EntityID]struct{}, len(evicted))
	for _, id := range evicted {
		gone[id] = struct{}{}
		if err := db.persist.DeleteEntity(id); err != nil {
			return len(evicted), fmt.Errorf("evict entity %s: %w", id, err)
		}
	}

	// The in-memory cascade already dropped incident relations; mirror
	// that in storage.
	relations, err := db.persist.LoadRelations()
	if err != nil {
		return len(evicted), fmt.Errorf("evict relations: %w", err)
	}
	for _, r := range relations {
		if _, src := gone[r.SourceEntity]; !src {
			if _, dst := gone[r.TargetEntity]; !dst {
				continue
			}
		}
		if err := db.persist.DeleteRelation(r.ID); err != nil {
			return len(evicted), fmt.Errorf("evict relation %s: %w", r.ID, err)
		}
	}
	db.log.Info().
		Int("evicted", len(evicted)).
		Time("cutoff", cutoff).
		Msg("retention eviction complete")
	return len(evicted), nil
}

func (db *DB) evictLoop() {
	defer close(db.evictDone)
	ticker := time.NewTicker(db.cfg.Graph.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := db.EvictExpired(); err != nil {
				db.log.Error().Err(err).Msg("background eviction failed")
			}
		case <-db.evictStop:
			return
		}
	}
}
