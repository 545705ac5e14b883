// Package pattern mines periodic temporal patterns from the entity
// timeline.
//
// The miner is deliberately coarse: it groups entities by kind, looks
// at the spacing between consecutive arrivals, and calls a kind
// periodic when that spacing is stable. This is a stability screen on
// inter-arrival intervals, not spectral analysis; a kind arriving in
// two interleaved rhythms will not be separated into two patterns.
package pattern

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/stats"
)

// PatternTypePeriodic is the only pattern type the miner currently
// emits.
const PatternTypePeriodic = "periodic"

// ID identifies a pattern. Rebuilt patterns for the same kind reuse
// the same id.
type ID string

// Signature summarizes the timing of a periodic pattern.
type Signature struct {
	// MeanInterval and StdDev describe the observed inter-arrival
	// spacing.
	MeanInterval time.Duration `json:"mean_interval"`
	StdDev       time.Duration `json:"std_dev"`

	// Frequency is occurrences per second, 1/MeanInterval.
	Frequency float64 `json:"frequency"`

	// Consistency is 1 - coefficient of variation, in (0.5, 1] for any
	// emitted pattern.
	Consistency float64 `json:"consistency"`
}

// Pattern is one mined periodic recurrence of an entity kind.
type Pattern struct {
	ID          ID               `json:"id"`
	Type        string           `json:"pattern_type"`
	Kind        graph.EntityKind `json:"kind"`
	Entities    []graph.EntityID `json:"entities"`
	Signature   Signature        `json:"signature"`
	Frequency   float64          `json:"frequency"`
	Accuracy    float64          `json:"predictive_accuracy"`
	LastSeen    time.Time        `json:"last_occurrence"`
	NextPredict time.Time        `json:"next_predicted"`
}

// EntitySource is the read surface the miner needs. *graph.Store
// satisfies it.
type EntitySource interface {
	EntityKindHistogram() map[graph.EntityKind]int
	EntitiesByKind(kind graph.EntityKind) []*graph.Entity
}

// Config controls the mining screen.
type Config struct {
	// MinGroupSize is the fewest entities of a kind worth testing.
	MinGroupSize int

	// MaxVariation is the coefficient-of-variation ceiling; groups
	// spaced less regularly than this are not patterns.
	MaxVariation float64

	// MaxAccuracy caps predictive accuracy. Even perfectly regular
	// history does not promise a perfectly regular future.
	MaxAccuracy float64
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() *Config {
	return &Config{
		MinGroupSize: 5,
		MaxVariation: 0.5,
		MaxAccuracy:  0.9,
	}
}

// Miner detects periodic recurrence per entity kind.
type Miner struct {
	cfg    *Config
	source EntitySource
	log    zerolog.Logger
}

// NewMiner creates a miner. A nil config gets DefaultConfig.
func NewMiner(source EntitySource, cfg *Config, log zerolog.Logger) *Miner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Miner{
		cfg:    cfg,
		source: source,
		log:    log.With().Str("component", "pattern").Logger(),
	}
}

// Discover scans every entity kind and returns the kinds whose
// inter-arrival spacing is stable enough to call periodic, ordered by
// kind. Kinds with too few members or too little usable history are
// skipped, never errors.
func (m *Miner) Discover() []*Pattern {
	histogram := m.source.EntityKindHistogram()

	kinds := make([]graph.EntityKind, 0, len(histogram))
	for kind, count := range histogram {
		if count >= m.cfg.MinGroupSize {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var patterns []*Pattern
	for _, kind := range kinds {
		if p := m.mineKind(kind); p != nil {
			patterns = append(patterns, p)
		}
	}

	m.log.Debug().
		Int("kinds", len(kinds)).
		Int("patterns", len(patterns)).
		Msg("pattern mining complete")
	return patterns
}

// mineKind applies the stability screen to one kind. Returns nil when
// the kind is not periodic.
func (m *Miner) mineKind(kind graph.EntityKind) *Pattern {
	entities := m.source.EntitiesByKind(kind)
	sort.Slice(entities, func(i, j int) bool {
		if !entities[i].Timestamp.Equal(entities[j].Timestamp) {
			return entities[i].Timestamp.Before(entities[j].Timestamp)
		}
		return entities[i].ID < entities[j].ID
	})

	intervals := make([]float64, 0, len(entities)-1)
	for i := 1; i < len(entities); i++ {
		intervals = append(intervals, entities[i].Timestamp.Sub(entities[i-1].Timestamp).Seconds())
	}
	if len(intervals) < 3 {
		return nil
	}

	mean := stats.Mean(intervals)
	if mean <= 0 {
		// All arrivals share one timestamp; there is no rhythm to find.
		return nil
	}
	sigma := stats.StdDev(intervals)
	variation := sigma / mean
	if variation >= m.cfg.MaxVariation {
		m.log.Debug().
			Str("kind", string(kind)).
			Float64("variation", variation).
			Msg("spacing too irregular, kind skipped")
		return nil
	}

	ids := make([]graph.EntityID, len(entities))
	for i, ent := range entities {
		ids[i] = ent.ID
	}
	last := entities[len(entities)-1].Timestamp
	meanInterval := time.Duration(mean * float64(time.Second))

	return &Pattern{
		ID:       ID("pattern-" + PatternTypePeriodic + "-" + string(kind)),
		Type:     PatternTypePeriodic,
		Kind:     kind,
		Entities: ids,
		Signature: Signature{
			MeanInterval: meanInterval,
			StdDev:       time.Duration(sigma * float64(time.Second)),
			Frequency:    1 / mean,
			Consistency:  1 - variation,
		},
		Frequency:   1 / mean,
		Accuracy:    minFloat(m.cfg.MaxAccuracy, 1-variation),
		LastSeen:    last,
		NextPredict: last.Add(meanInterval),
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
