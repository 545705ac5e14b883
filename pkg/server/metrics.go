package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the server's Prometheus instruments. Each server owns
// its registry so tests can build servers side by side without
// duplicate-registration panics.
type metrics struct {
	registry *prometheus.Registry

	ingestTotal  *prometheus.CounterVec
	ingestErrors *prometheus.CounterVec

	analyticsRuns     *prometheus.CounterVec
	analyticsDuration *prometheus.HistogramVec

	entities  prometheus.GaugeFunc
	relations prometheus.GaugeFunc
}

func newMetrics(entityCount, relationCount func() float64) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skulddb_ingest_total",
				Help: "Total records accepted at the ingestion boundary",
			},
			[]string{"type"},
		),
		ingestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skulddb_ingest_errors_total",
				Help: "Total records rejected at the ingestion boundary",
			},
			[]string{"type", "reason"},
		),
		analyticsRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skulddb_analytics_runs_total",
				Help: "Analytics runs by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		analyticsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skulddb_analytics_duration_seconds",
				Help:    "Duration of analytics runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		entities: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "skulddb_graph_entities",
				Help: "Entities currently stored in the graph",
			},
			entityCount,
		),
		relations: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "skulddb_graph_relations",
				Help: "Relations currently stored in the graph",
			},
			relationCount,
		),
	}
}
