package causal

import "github.com/orneryd/skulddb/pkg/graph"

// kindPair keys the compatibility and mechanism tables by an ordered
// (cause kind, effect kind) pair. Direction matters: news moving prices
// is plausible, prices moving news is not.
type kindPair struct {
	cause  graph.EntityKind
	effect graph.EntityKind
}

// defaultCompatibility is the score assigned to any ordered kind pair
// with no table entry. Unknown pairings are not impossible, just weakly
// supported.
const defaultCompatibility = 0.2

// defaultMechanism labels hypotheses whose kind pair has no table
// entry. Such hypotheses rest on timing alone.
const defaultMechanism = "temporal precedence"

// compatibility encodes domain knowledge about which entity kinds
// plausibly cause which others. Scores are in [0,1].
var compatibility = map[kindPair]float64{
	{graph.KindNewsEvent, graph.KindPriceMovement}:          0.9,
	{graph.KindNewsEvent, graph.KindVolumeSpike}:            0.7,
	{graph.KindNewsEvent, graph.KindTradingSignal}:          0.5,
	{graph.KindMarketEvent, graph.KindPriceMovement}:        0.85,
	{graph.KindMarketEvent, graph.KindVolumeSpike}:          0.65,
	{graph.KindEconomicData, graph.KindMarketEvent}:         0.8,
	{graph.KindEconomicData, graph.KindPriceMovement}:       0.7,
	{graph.KindPriceMovement, graph.KindVolumeSpike}:        0.6,
	{graph.KindPriceMovement, graph.KindTechnicalIndicator}: 0.75,
	{graph.KindPriceMovement, graph.KindTradingSignal}:      0.6,
	{graph.KindVolumeSpike, graph.KindPriceMovement}:        0.65,
	{graph.KindTechnicalIndicator, graph.KindTradingSignal}: 0.7,
	{graph.KindTradingSignal, graph.KindStrategyOutput}:     0.75,
}

// mechanisms gives each known kind pair a short human-readable causal
// story, attached to hypotheses as their proposed mechanism.
var mechanisms = map[kindPair]string{
	{graph.KindNewsEvent, graph.KindPriceMovement}:          "sentiment-driven repricing",
	{graph.KindNewsEvent, graph.KindVolumeSpike}:            "headline-driven trading activity",
	{graph.KindNewsEvent, graph.KindTradingSignal}:          "news-derived signal generation",
	{graph.KindMarketEvent, graph.KindPriceMovement}:        "direct market impact",
	{graph.KindMarketEvent, graph.KindVolumeSpike}:          "event-driven participation",
	{graph.KindEconomicData, graph.KindMarketEvent}:         "macro release moving markets",
	{graph.KindEconomicData, graph.KindPriceMovement}:       "macro repricing",
	{graph.KindPriceMovement, graph.KindVolumeSpike}:        "momentum attracting volume",
	{graph.KindPriceMovement, graph.KindTechnicalIndicator}: "price action feeding indicator",
	{graph.KindPriceMovement, graph.KindTradingSignal}:      "price action triggering signal",
	{graph.KindVolumeSpike, graph.KindPriceMovement}:        "liquidity pressure on price",
	{graph.KindTechnicalIndicator, graph.KindTradingSignal}: "indicator threshold crossing",
	{graph.KindTradingSignal, graph.KindStrategyOutput}:     "signal consumed by strategy",
}

// CompatibilityScore returns the domain plausibility of entities of
// kind cause driving entities of kind effect. Pairs absent from the
// table get a small non-zero default so purely temporal evidence can
// still surface them.
func CompatibilityScore(cause, effect graph.EntityKind) float64 {
	if s, ok := compatibility[kindPair{cause, effect}]; ok {
		return s
	}
	return defaultCompatibility
}

// Mechanism returns the causal story for a (cause, effect) kind pair.
func Mechanism(cause, effect graph.EntityKind) string {
	if m, ok := mechanisms[kindPair{cause, effect}]; ok {
		return m
	}
	return defaultMechanism
}
