package causal

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/stats"
)

// Validate screens hypotheses against historical per-kind time series.
// For each hypothesis it builds one series per side from every stored
// entity of the cause and effect kinds, runs a lagged-correlation test
// and a cross-correlation sweep, and keeps the hypothesis only when
// both the pseudo p-value and the correlation magnitude clear the
// configured gates. Accepted hypotheses come back with their strength
// blended toward the correlation evidence. Hypotheses with too little
// history are skipped silently; absence of data is not evidence
// against.
func (e *Engine) Validate(ctx context.Context, hyps []Hypothesis) ([]Hypothesis, error) {
	validated := make([]Hypothesis, 0, len(hyps))
	series := map[graph.EntityKind][]float64{}

	for _, h := range hyps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cause, ok := series[h.CauseKind]
		if !ok {
			cause = e.kindSeries(h.CauseKind)
			series[h.CauseKind] = cause
		}
		effect, ok := series[h.EffectKind]
		if !ok {
			effect = e.kindSeries(h.EffectKind)
			series[h.EffectKind] = effect
		}
		if len(cause) < e.cfg.MinSeriesPoints || len(effect) < e.cfg.MinSeriesPoints {
			e.log.Debug().
				Str("cause", string(h.CauseID)).
				Str("effect", string(h.EffectID)).
				Msg("insufficient history, hypothesis skipped")
			continue
		}

		corr := laggedCorrelation(cause, effect)
		p := 1 - math.Abs(corr)
		bestCorr, bestLag := crossCorrelation(cause, effect)

		if p >= e.cfg.MaxPValue || math.Abs(bestCorr) <= e.cfg.MinCorrelation {
			e.log.Debug().
				Str("cause", string(h.CauseID)).
				Str("effect", string(h.EffectID)).
				Float64("p", p).
				Float64("corr", bestCorr).
				Msg("hypothesis rejected by correlation screen")
			continue
		}

		h.Strength = (h.Strength + (1-p)*math.Abs(bestCorr)) / 2
		h.Evidence = append(h.Evidence,
			fmt.Sprintf("lagged correlation %.2f (p=%.2f)", corr, p),
			fmt.Sprintf("cross-correlation peak %.2f at lag %d", bestCorr, bestLag),
		)
		validated = append(validated, h)
	}

	e.log.Debug().
		Int("candidates", len(hyps)).
		Int("validated", len(validated)).
		Msg("validation pass complete")
	return validated, nil
}

// kindSeries turns the full history of a kind into a time-ordered
// series, one point per entity. The point is the mean of the entity's
// numeric properties, or its confidence when it has none, so sparse
// property sets still yield a usable signal.
func (e *Engine) kindSeries(kind graph.EntityKind) []float64 {
	entities := e.source.EntitiesByKind(kind)
	sort.Slice(entities, func(i, j int) bool {
		if !entities[i].Timestamp.Equal(entities[j].Timestamp) {
			return entities[i].Timestamp.Before(entities[j].Timestamp)
		}
		return entities[i].ID < entities[j].ID
	})

	series := make([]float64, 0, len(entities))
	for _, ent := range entities {
		props := ent.NumericProperties()
		if len(props) == 0 {
			series = append(series, ent.Confidence)
			continue
		}
		var sum float64
		for _, v := range props {
			sum += v
		}
		series = append(series, sum/float64(len(props)))
	}
	return series
}

// laggedCorrelation correlates the cause series against the effect
// series shifted one step forward, the simplest one-lag reading of
// "causes lead effects".
func laggedCorrelation(cause, effect []float64) float64 {
	n := len(cause)
	if len(effect)-1 < n {
		n = len(effect) - 1
	}
	if n < 2 {
		return 0
	}
	return stats.Pearson(cause[:n], effect[1:1+n])
}

// crossCorrelation sweeps alignments of the two series over lags in
// [-L, L], with L half the shorter series length, and returns the
// correlation of largest magnitude together with the lag it occurred
// at. Positive lags mean the effect trails the cause.
func crossCorrelation(cause, effect []float64) (corr float64, lag int) {
	short := len(cause)
	if len(effect) < short {
		short = len(effect)
	}
	maxLag := short / 2

	var best float64
	var bestLag int
	for l := -maxLag; l <= maxLag; l++ {
		var a, b []float64
		if l >= 0 {
			n := len(cause)
			if len(effect)-l < n {
				n = len(effect) - l
			}
			if n < 2 {
				continue
			}
			a, b = cause[:n], effect[l:l+n]
		} else {
			n := len(effect)
			if len(cause)+l < n {
				n = len(cause) + l
			}
			if n < 2 {
				continue
			}
			a, b = cause[-l:-l+n], effect[:n]
		}
		c := stats.Pearson(a, b)
		if math.Abs(c) > math.Abs(best) {
			best, bestLag = c, l
		}
	}
	return best, bestLag
}
