// Package graph provides the temporal entity store and relation graph for SkuldDB.
//
// The graph layer owns the two mutable structures of the system: a store of
// timestamped entities with a temporal index, and a directed typed relation
// graph over those entities. Everything above this package (causal discovery,
// chain building, pattern mining, prediction) is a pure reader of snapshots
// taken here.
//
// Design Principles:
//   - Single RWMutex over entities, relations and indexes: a reader never
//     observes an entity without its complete property map, and never sees a
//     relation whose endpoints are missing.
//   - Deep copies on every read: callers cannot mutate stored state.
//   - Closed kind enums: adding an entity or relation kind is a
//     compile-visible change, not a string-matching gap.
//
// Example Usage:
//
//	store := graph.NewStore()
//	defer store.Close()
//
//	entity := &graph.Entity{
//		ID:         "news-001",
//		Kind:       graph.KindNewsEvent,
//		Timestamp:  time.Now(),
//		Confidence: 0.9,
//		Source:     "newswire",
//		Properties: map[string]any{"sentiment": 0.8},
//	}
//	if err := store.AddEntity(entity); err != nil {
//		log.Fatal(err)
//	}
//
//	// Relations require both endpoints to exist at insertion time.
//	rel := &graph.Relation{
//		ID:           "rel-001",
//		SourceEntity: "news-001",
//		TargetEntity: "price-001",
//		Kind:         graph.RelCauses,
//		StartTime:    time.Now(),
//		Strength:     0.8,
//		Confidence:   0.7,
//	}
//	err := store.AddRelation(rel) // graph.ErrUnknownEntity if price-001 absent
package graph

import (
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/skulddb/pkg/convert"
)

// Common errors returned by the store.
var (
	ErrDuplicateID   = errors.New("duplicate entity id")
	ErrUnknownEntity = errors.New("unknown entity")
	ErrNotFound      = errors.New("not found")
	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidWindow = errors.New("invalid time window")
	ErrStoreClosed   = errors.New("store closed")
)

// EntityID is a strongly-typed unique identifier for temporal entities.
// Producers are responsible for id generation (ULID/UUID recommended); the
// store only enforces uniqueness for the lifetime of the entity.
type EntityID string

// RelationID is a strongly-typed unique identifier for relations.
type RelationID string

// EntityKind classifies a temporal entity. The set is closed: compatibility
// and mechanism tables in the causal package enumerate these kinds, so a new
// kind shows up as a missing table entry rather than a silent string mismatch.
type EntityKind string

const (
	KindMarketEvent        EntityKind = "market_event"
	KindPriceMovement      EntityKind = "price_movement"
	KindVolumeSpike        EntityKind = "volume_spike"
	KindNewsEvent          EntityKind = "news_event"
	KindTechnicalIndicator EntityKind = "technical_indicator"
	KindTradingSignal      EntityKind = "trading_signal"
	KindStrategyOutput     EntityKind = "strategy_output"
	KindEconomicData       EntityKind = "economic_data"
)

// EntityKinds lists every valid entity kind.
func EntityKinds() []EntityKind {
	return []EntityKind{
		KindMarketEvent,
		KindPriceMovement,
		KindVolumeSpike,
		KindNewsEvent,
		KindTechnicalIndicator,
		KindTradingSignal,
		KindStrategyOutput,
		KindEconomicData,
	}
}

// Valid reports whether k is one of the defined entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindMarketEvent, KindPriceMovement, KindVolumeSpike, KindNewsEvent,
		KindTechnicalIndicator, KindTradingSignal, KindStrategyOutput, KindEconomicData:
		return true
	}
	return false
}

// RelationKind classifies a directed relation between two entities.
type RelationKind string

const (
	RelCauses     RelationKind = "causes"
	RelPrecedes   RelationKind = "precedes"
	RelCorrelates RelationKind = "correlates"
	RelInfluences RelationKind = "influences"
	RelTriggers   RelationKind = "triggers"
	RelInhibits   RelationKind = "inhibits"
	RelAmplifies  RelationKind = "amplifies"
	RelFollows    RelationKind = "follows"
)

// RelationKinds lists every valid relation kind.
func RelationKinds() []RelationKind {
	return []RelationKind{
		RelCauses, RelPrecedes, RelCorrelates, RelInfluences,
		RelTriggers, RelInhibits, RelAmplifies, RelFollows,
	}
}

// Valid reports whether k is one of the defined relation kinds.
func (k RelationKind) Valid() bool {
	switch k {
	case RelCauses, RelPrecedes, RelCorrelates, RelInfluences,
		RelTriggers, RelInhibits, RelAmplifies, RelFollows:
		return true
	}
	return false
}

// Entity is a timestamped, typed fact ingested into the graph.
//
// Entities are immutable after creation: they are never updated, only evicted
// when they age out of the retention window. Confidence is always in [0,1].
// Properties hold scalar values (numbers, strings, bools); the store does not
// validate property semantics, only structural invariants.
type Entity struct {
	ID         EntityID       `json:"id"`
	Kind       EntityKind     `json:"kind"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks the structural invariants of an entity.
func (e *Entity) Validate() error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: entity kind %q", ErrInvalidData, e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: entity %s has zero timestamp", ErrInvalidData, e.ID)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: entity %s confidence %v outside [0,1]", ErrInvalidData, e.ID, e.Confidence)
	}
	return nil
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	copied := *e
	if e.Properties != nil {
		copied.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			copied.Properties[k] = v
		}
	}
	if e.Metadata != nil {
		copied.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}

// NumericProperties returns the numeric subset of the entity's property map.
// JSON-decoded numbers arrive as float64; other numeric types and numeric
// strings are coerced by the convert package.
func (e *Entity) NumericProperties() map[string]float64 {
	return convert.ToFloat64Map(e.Properties)
}

// Relation is a directed, typed, weighted edge between two entities.
//
// Relations are created either by producers (known relations) or by the
// causal discovery engine when a validated hypothesis is promoted. They are
// immutable once created and are removed only by cascading eviction when
// either endpoint is evicted.
type Relation struct {
	ID           RelationID     `json:"id"`
	SourceEntity EntityID       `json:"source_entity"`
	TargetEntity EntityID       `json:"target_entity"`
	Kind         RelationKind   `json:"kind"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Strength     float64        `json:"strength"`
	Confidence   float64        `json:"confidence"`
	CausalLag    time.Duration  `json:"causal_lag,omitempty"`
	Evidence     []string       `json:"evidence,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate checks the structural invariants of a relation. Endpoint existence
// is checked by the store at insertion time, not here.
func (r *Relation) Validate() error {
	if r == nil {
		return ErrInvalidData
	}
	if r.ID == "" {
		return ErrInvalidID
	}
	if r.SourceEntity == "" || r.TargetEntity == "" {
		return fmt.Errorf("%w: relation %s missing endpoint", ErrInvalidData, r.ID)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: relation kind %q", ErrInvalidData, r.Kind)
	}
	if r.EndTime != nil && r.StartTime.After(*r.EndTime) {
		return fmt.Errorf("%w: relation %s start_time after end_time", ErrInvalidData, r.ID)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("%w: relation %s strength %v outside [0,1]", ErrInvalidData, r.ID, r.Strength)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: relation %s confidence %v outside [0,1]", ErrInvalidData, r.ID, r.Confidence)
	}
	return nil
}

// Clone returns a deep copy of the relation.
func (r *Relation) Clone() *Relation {
	if r == nil {
		return nil
	}
	copied := *r
	if r.EndTime != nil {
		end := *r.EndTime
		copied.EndTime = &end
	}
	if r.Evidence != nil {
		copied.Evidence = append([]string(nil), r.Evidence...)
	}
	if r.Metadata != nil {
		copied.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			copied.Metadata[k] = v
		}
	}
	return &copied
}
