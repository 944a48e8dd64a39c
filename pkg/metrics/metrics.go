// Package metrics defines the Prometheus collectors for the retrieval
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors for the pipeline. Each instance owns its
// registry so tests and multiple pipelines do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration    *prometheus.HistogramVec
	PassagesIndexed  prometheus.Gauge
	VocabularySize   prometheus.Gauge
	IncidenceNonZero prometheus.Gauge
	QueriesRanked    *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	Recall           prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_stage_duration_seconds",
				Help:    "Wall time of each pipeline stage (read, encode, score, rank, evaluate).",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"stage"},
		),
		PassagesIndexed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_passages_indexed",
				Help: "Number of passages in the current index.",
			},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_vocabulary_size",
				Help: "Number of distinct terms in the current index.",
			},
		),
		IncidenceNonZero: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_incidence_nonzero",
				Help: "Number of set cells in the term-passage incidence matrix.",
			},
		),
		QueriesRanked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_queries_ranked_total",
				Help: "Queries ranked, by source (computed, cache).",
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_cache_hits_total",
				Help: "Ranking cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_cache_misses_total",
				Help: "Ranking cache misses.",
			},
		),
		Recall: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_recall",
				Help: "Recall of the most recent evaluated run.",
			},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.StageDuration,
		m.PassagesIndexed,
		m.VocabularySize,
		m.IncidenceNonZero,
		m.QueriesRanked,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.Recall,
	)
	return m
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
