// Package causal proposes and validates causal relationships between
// graph entities.
//
// Discovery is a two-stage pipeline. The first stage scores every
// time-ordered entity pair inside a window on temporal proximity, kind
// compatibility, and property correlation, and keeps the pairs whose
// weighted score clears a threshold as hypotheses. The second stage
// screens each hypothesis against historical per-kind time series with
// a lagged-correlation test, discarding hypotheses the data does not
// support and boosting the strength of those it does.
//
// The engine reads entities through the EntitySource interface and
// never mutates the store, so it is safe to run concurrently with
// writers that hold their own locks.
package causal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/stats"
)

// EntitySource is the read surface the engine needs from the graph.
// *graph.Store satisfies it.
type EntitySource interface {
	EntitiesInWindow(start, end time.Time) []*graph.Entity
	EntitiesByKind(kind graph.EntityKind) []*graph.Entity
}

// Config controls hypothesis generation and validation.
type Config struct {
	// MaxLag is the largest cause-to-effect delay considered plausible.
	// Pairs further apart score zero on proximity but may still pass on
	// the other factors.
	MaxLag time.Duration

	// ScoreThreshold is the minimum weighted score a pair must exceed
	// to become a hypothesis.
	ScoreThreshold float64

	// ProximityWeight, CompatibilityWeight and CorrelationWeight blend
	// the three scoring factors. They should sum to 1.
	ProximityWeight     float64
	CompatibilityWeight float64
	CorrelationWeight   float64

	// MinSeriesPoints is the shortest time series validation will test
	// against. Hypotheses with less history are skipped, not rejected.
	MinSeriesPoints int

	// MaxPValue and MinCorrelation gate validation acceptance.
	MaxPValue      float64
	MinCorrelation float64
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() *Config {
	return &Config{
		MaxLag:              time.Hour,
		ScoreThreshold:      0.5,
		ProximityWeight:     0.3,
		CompatibilityWeight: 0.4,
		CorrelationWeight:   0.3,
		MinSeriesPoints:     3,
		MaxPValue:           0.1,
		MinCorrelation:      0.3,
	}
}

// Hypothesis is a proposed causal link between two stored entities.
// It is a candidate, not a fact, until Validate accepts it.
type Hypothesis struct {
	CauseID    graph.EntityID
	EffectID   graph.EntityID
	CauseKind  graph.EntityKind
	EffectKind graph.EntityKind

	// Mechanism is the domain story for why the cause kind could drive
	// the effect kind.
	Mechanism string

	// Strength is the discovery score, later blended with correlation
	// evidence by Validate.
	Strength float64

	// Lag is the observed cause-to-effect delay.
	Lag time.Duration

	// Evidence accumulates human-readable justifications from both
	// pipeline stages.
	Evidence []string
}

// Engine runs the discovery pipeline over an entity source.
type Engine struct {
	cfg    *Config
	source EntitySource
	log    zerolog.Logger
}

// New creates an engine. A nil config gets DefaultConfig.
func New(source EntitySource, cfg *Config, log zerolog.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		log:    log.With().Str("component", "causal").Logger(),
	}
}

// Discover scores every time-ordered entity pair in the window ending
// at now and returns the pairs that clear the score threshold as
// hypotheses. The result is ordered by cause timestamp, then effect
// timestamp, which discovery inherits from the source's timeline order.
func (e *Engine) Discover(ctx context.Context, now time.Time, window time.Duration) ([]Hypothesis, error) {
	if window <= 0 {
		return nil, fmt.Errorf("discover: window %s: %w", window, graph.ErrInvalidWindow)
	}

	// EntitiesInWindow is half-open on the right; nudge the end so an
	// entity stamped exactly at now is included.
	entities := e.source.EntitiesInWindow(now.Add(-window), now.Add(time.Nanosecond))

	var hyps []Hypothesis
	for i, cause := range entities {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for _, effect := range entities[i+1:] {
			if !effect.Timestamp.After(cause.Timestamp) {
				// Simultaneous events carry no direction.
				continue
			}
			if h, ok := e.scorePair(cause, effect); ok {
				hyps = append(hyps, h)
			}
		}
	}

	e.log.Debug().
		Int("entities", len(entities)).
		Int("hypotheses", len(hyps)).
		Dur("window", window).
		Msg("discovery pass complete")
	return hyps, nil
}

// scorePair evaluates one ordered pair. The effect is known to follow
// the cause.
func (e *Engine) scorePair(cause, effect *graph.Entity) (Hypothesis, bool) {
	lag := effect.Timestamp.Sub(cause.Timestamp)

	proximity := 0.0
	if lag <= e.cfg.MaxLag {
		proximity = 1 - float64(lag)/float64(e.cfg.MaxLag)
	}
	compat := CompatibilityScore(cause.Kind, effect.Kind)
	corr := propertyCorrelation(cause, effect)

	score := e.cfg.ProximityWeight*proximity +
		e.cfg.CompatibilityWeight*compat +
		e.cfg.CorrelationWeight*corr
	if score <= e.cfg.ScoreThreshold {
		return Hypothesis{}, false
	}

	return Hypothesis{
		CauseID:    cause.ID,
		EffectID:   effect.ID,
		CauseKind:  cause.Kind,
		EffectKind: effect.Kind,
		Mechanism:  Mechanism(cause.Kind, effect.Kind),
		Strength:   score,
		Lag:        lag,
		Evidence: []string{
			fmt.Sprintf("temporal proximity %.2f (lag %s)", proximity, lag),
			fmt.Sprintf("kind compatibility %.2f (%s -> %s)", compat, cause.Kind, effect.Kind),
			fmt.Sprintf("property correlation %.2f", corr),
		},
	}, true
}

// propertyCorrelation measures how similar the numeric properties the
// two entities share are. Each shared key contributes a closeness in
// [0,1]; the result is the mean over shared keys, or zero when the
// entities share none.
func propertyCorrelation(a, b *graph.Entity) float64 {
	pa := a.NumericProperties()
	pb := b.NumericProperties()

	var sum float64
	var n int
	for key, va := range pa {
		vb, ok := pb[key]
		if !ok {
			continue
		}
		sum += closeness(va, vb)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// closeness maps a value pair to [0,1], with 1 for identical values.
func closeness(x, y float64) float64 {
	ax, ay := math.Abs(x), math.Abs(y)
	if ax == 0 && ay == 0 {
		return 1
	}
	if ax == 0 || ay == 0 {
		return 0
	}
	return stats.Clamp(1-math.Abs(x-y)/math.Max(ax, ay), 0, 1)
}
