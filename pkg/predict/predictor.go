// Package predict projects future events from currently-active causal
// chains.
//
// A chain earns a prediction when two things hold: its prediction
// power is high enough, and its constituent entities have actually
// been observed recently. The second condition is what keeps stale
// chains quiet; a strong chain built from last week's entities says
// nothing about the next hour.
package predict

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/orneryd/skulddb/pkg/chain"
	"github.com/orneryd/skulddb/pkg/graph"
)

// Prediction is one projected future event.
type Prediction struct {
	ID      string
	ChainID chain.ID

	// Kind is the entity kind expected to occur, taken from the tail
	// of the source chain.
	Kind          graph.EntityKind
	PredictedTime time.Time
	Confidence    float64

	// ExpectedProperties is a copy of the chain tail's properties, the
	// best available sketch of what the event will look like.
	ExpectedProperties map[string]any

	RiskFactors          []string
	MitigationStrategies []string
}

// EntitySource is the read surface the predictor needs. *graph.Store
// satisfies it.
type EntitySource interface {
	GetEntity(id graph.EntityID) (*graph.Entity, error)
}

// Config controls activity measurement and prediction selection.
type Config struct {
	// MinPredictionPower gates which chains are worth projecting.
	// Prediction power tops out at 0.4 for a two-entity chain (length
	// penalty times the 0.8 discount), so this sits well below that.
	MinPredictionPower float64

	// ActivityWindow is how far back an observation still counts as
	// recent. Weight decays linearly to zero across the window.
	ActivityWindow time.Duration

	// MinActivity is the recency-weighted confidence a chain must show
	// to be called active.
	MinActivity float64

	// MaxPredictions caps the result size.
	MaxPredictions int

	// LongChainLength, LowConfidence and StaleSpan drive the risk
	// annotation rules.
	LongChainLength int
	LowConfidence   float64
	StaleSpan       time.Duration
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() *Config {
	return &Config{
		MinPredictionPower: 0.2,
		ActivityWindow:     2 * time.Hour,
		MinActivity:        0.3,
		MaxPredictions:     20,
		LongChainLength:    4,
		LowConfidence:      0.4,
		StaleSpan:          24 * time.Hour,
	}
}

// Predictor projects predictions from chains.
type Predictor struct {
	cfg    *Config
	source EntitySource
	log    zerolog.Logger
}

// New creates a predictor. A nil config gets DefaultConfig.
func New(source EntitySource, cfg *Config, log zerolog.Logger) *Predictor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Predictor{
		cfg:    cfg,
		source: source,
		log:    log.With().Str("component", "predict").Logger(),
	}
}

// Predict scans the given chains and returns predictions for the
// active ones whose projected event lands within the horizon, ordered
// by confidence descending and capped at MaxPredictions. Chains whose
// entities have since been evicted simply measure as less active; a
// dangling id is never an error here.
func (p *Predictor) Predict(chains []*chain.Chain, now time.Time, horizon time.Duration) ([]*Prediction, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("predict: horizon %s: %w", horizon, graph.ErrInvalidWindow)
	}

	predictions := make([]*Prediction, 0)
	for _, c := range chains {
		if c.PredictionPower <= p.cfg.MinPredictionPower {
			continue
		}
		activity := p.activity(c, now)
		if activity <= p.cfg.MinActivity {
			continue
		}

		// Average inter-hop lag projected forward from now.
		step := c.Span() / time.Duration(len(c.Entities)-1)
		predictedTime := now.Add(step)
		if predictedTime.After(now.Add(horizon)) {
			continue
		}

		tail, err := p.source.GetEntity(c.Entities[len(c.Entities)-1])
		if err != nil {
			p.log.Debug().
				Str("chain", string(c.ID)).
				Err(err).
				Msg("chain tail missing, prediction dropped")
			continue
		}

		risks, mitigations := p.annotate(c)
		predictions = append(predictions, &Prediction{
			ID:                   uuid.NewString(),
			ChainID:              c.ID,
			Kind:                 tail.Kind,
			PredictedTime:        predictedTime,
			Confidence:           c.PredictionPower,
			ExpectedProperties:   tail.Clone().Properties,
			RiskFactors:          risks,
			MitigationStrategies: mitigations,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Confidence != predictions[j].Confidence {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		return predictions[i].ChainID < predictions[j].ChainID
	})
	if len(predictions) > p.cfg.MaxPredictions {
		predictions = predictions[:p.cfg.MaxPredictions]
	}

	p.log.Debug().
		Int("chains", len(chains)).
		Int("predictions", len(predictions)).
		Msg("prediction pass complete")
	return predictions, nil
}

// activity is the mean recency-weighted confidence of the chain's
// entities. An entity observed just now contributes its full
// confidence; one observed at the edge of the window, or evicted,
// contributes zero.
func (p *Predictor) activity(c *chain.Chain, now time.Time) float64 {
	var sum float64
	for _, id := range c.Entities {
		ent, err := p.source.GetEntity(id)
		if err != nil {
			continue
		}
		age := now.Sub(ent.Timestamp)
		if age < 0 || age >= p.cfg.ActivityWindow {
			continue
		}
		weight := 1 - float64(age)/float64(p.cfg.ActivityWindow)
		sum += ent.Confidence * weight
	}
	return sum / float64(len(c.Entities))
}

// annotate applies fixed heuristic rules over chain shape. These are
// annotations for a human or an alerting layer, not guarantees.
func (p *Predictor) annotate(c *chain.Chain) (risks, mitigations []string) {
	if len(c.Entities) > p.cfg.LongChainLength {
		risks = append(risks, "long causal chain amplifies noise at each hop")
		mitigations = append(mitigations, "require confirmation from an independent signal")
	}
	if c.Confidence < p.cfg.LowConfidence {
		risks = append(risks, "low chain confidence")
		mitigations = append(mitigations, "reduce position sizing until the chain re-validates")
	}
	if c.Span() > p.cfg.StaleSpan {
		risks = append(risks, "chain spans more than a day and may describe a stale regime")
		mitigations = append(mitigations, "re-run discovery over a fresh window before acting")
	}
	return risks, mitigations
}
