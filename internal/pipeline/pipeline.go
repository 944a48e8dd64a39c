// Package pipeline wires the encoder, scorer and ranker into a single
// retrieval run and connects it to ingestion, caching, evaluation and the
// Kafka sink.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/metrics"
)

// Result is the output of one run. Fingerprint identifies Index and keys
// the cache and every sink record.
type Result struct {
	Index       *index.Index
	Fingerprint string
	Queries     map[string]encoder.QueryVector
	QueryOrder  []string
	Rankings    map[string]ranker.RankedList
	CacheHits   int
}

// Pipeline runs encode -> score -> rank. Cache and Metrics are optional.
type Pipeline struct {
	Components
	Cache   RankingCache
	Metrics *metrics.Metrics
}

func New(components *Components) *Pipeline {
	return &Pipeline{Components: *components}
}

// Run executes the three stages in order. Every stage error is returned;
// no partial rankings are produced.
func (p *Pipeline) Run(ctx context.Context, passages, queries []corpus.Record, r int) (*Result, error) {
	if r < 0 {
		return nil, apperrors.Invalidf("rank depth must be >= 0, got %d", r)
	}
	log := logger.FromContext(ctx).With("component", "pipeline")

	start := time.Now()
	enc, err := p.Encoder.Encode(ctx, passages, queries)
	if err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	p.observe("encode", start)
	stats := enc.Index.Stats()
	log.Info("corpus encoded",
		"passages", stats.Passages,
		"vocabulary", stats.Vocabulary,
		"non_zeros", stats.NonZeros,
		"queries", len(enc.QueryOrder),
	)
	if p.Metrics != nil {
		p.Metrics.PassagesIndexed.Set(float64(stats.Passages))
		p.Metrics.VocabularySize.Set(float64(stats.Vocabulary))
		p.Metrics.IncidenceNonZero.Set(float64(stats.NonZeros))
	}

	fingerprint := enc.Index.Fingerprint()
	rankings := make(map[string]ranker.RankedList, len(enc.Queries))
	pending := enc.Queries
	var keys map[string]string
	if p.Cache != nil {
		pending, keys = p.lookupCached(ctx, fingerprint, enc.Queries, r, rankings)
	}
	hits := len(rankings)

	start = time.Now()
	scores, err := p.Scorer.Score(ctx, pending, enc.Index.Matrix)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	p.observe("score", start)

	start = time.Now()
	ranked, err := p.Ranker.Rank(ctx, scores, enc.Index.PassageIDs, r)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	p.observe("rank", start)

	for qid, list := range ranked {
		rankings[qid] = list
		if p.Cache != nil {
			p.Cache.Set(ctx, keys[qid], list)
		}
	}
	if p.Metrics != nil {
		p.Metrics.QueriesRanked.WithLabelValues("computed").Add(float64(len(ranked)))
		p.Metrics.QueriesRanked.WithLabelValues("cache").Add(float64(hits))
	}
	log.Info("queries ranked",
		"queries", len(rankings),
		"cache_hits", hits,
		"rank_depth", r,
	)
	return &Result{
		Index:       enc.Index,
		Fingerprint: fingerprint,
		Queries:     enc.Queries,
		QueryOrder:  enc.QueryOrder,
		Rankings:    rankings,
		CacheHits:   hits,
	}, nil
}

// lookupCached fills rankings from the cache and returns the queries that
// still need scoring, together with the cache key of every query.
func (p *Pipeline) lookupCached(ctx context.Context, fingerprint string, queries map[string]encoder.QueryVector, r int, rankings map[string]ranker.RankedList) (map[string]encoder.QueryVector, map[string]string) {
	pending := make(map[string]encoder.QueryVector, len(queries))
	keys := make(map[string]string, len(queries))
	for qid, vec := range queries {
		key := CacheKey(fingerprint, vec, r)
		keys[qid] = key
		if list, ok := p.Cache.Get(ctx, key); ok {
			rankings[qid] = list
			if p.Metrics != nil {
				p.Metrics.CacheHitsTotal.Inc()
			}
			continue
		}
		if p.Metrics != nil {
			p.Metrics.CacheMissesTotal.Inc()
		}
		pending[qid] = vec
	}
	logger.FromContext(ctx).With("component", "pipeline").Debug("ranking cache consulted",
		"hits", len(rankings),
		"misses", len(pending),
	)
	return pending, keys
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.Metrics != nil {
		p.Metrics.ObserveStage(stage, start)
	}
}
