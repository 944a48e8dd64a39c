package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/scorer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/metrics"
)

// QueryEvent is the message consumed from the queries topic. RankDepth
// overrides the worker default when set.
type QueryEvent struct {
	QueryID   string `json:"query_id"`
	Text      string `json:"text"`
	RankDepth *int   `json:"rank_depth,omitempty"`
}

// ComputeCache is a RankingCache that collapses concurrent computations of
// the same key.
type ComputeCache interface {
	RankingCache
	GetOrCompute(ctx context.Context, key string, compute func() (ranker.RankedList, error)) (ranker.RankedList, bool, error)
}

// Worker ranks individual queries against an index built once at startup.
// The index is read-only, so Rank is safe for concurrent use.
type Worker struct {
	index       *index.Index
	fingerprint string
	tokenizer   tokenizer.Tokenizer
	cache       ComputeCache
	publisher   Publisher
	rankDepth   int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// WorkerOptions configures a Worker. Publisher and Metrics may be nil.
type WorkerOptions struct {
	Tokenizer tokenizer.Tokenizer
	Cache     ComputeCache
	Publisher Publisher
	RankDepth int
	Metrics   *metrics.Metrics
}

func NewWorker(idx *index.Index, opts WorkerOptions) *Worker {
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Worker{
		index:       idx,
		fingerprint: idx.Fingerprint(),
		tokenizer:   opts.Tokenizer,
		cache:       cache,
		publisher:   opts.Publisher,
		rankDepth:   opts.RankDepth,
		metrics:     opts.Metrics,
		logger:      logger.WithComponent("query-worker"),
	}
}

// Fingerprint identifies the index the worker serves.
func (w *Worker) Fingerprint() string { return w.fingerprint }

// Rank encodes, scores and ranks a single query. The second return value
// reports whether the list came from the cache.
func (w *Worker) Rank(ctx context.Context, ev QueryEvent) (ranker.RankedList, bool, error) {
	r := w.rankDepth
	if ev.RankDepth != nil {
		r = *ev.RankDepth
	}
	if r < 0 {
		return nil, false, apperrors.Invalidf("query %q: rank depth must be >= 0, got %d", ev.QueryID, r)
	}
	tokens, err := w.tokenizer.Tokenize(ev.Text)
	if err != nil {
		return nil, false, fmt.Errorf("query %q: %w", ev.QueryID, err)
	}
	q := encoder.EncodeQuery(tokens, w.index.Vocabulary)
	key := CacheKey(w.fingerprint, q, r)

	list, cached, err := w.cache.GetOrCompute(ctx, key, func() (ranker.RankedList, error) {
		start := time.Now()
		scores := scorer.ScoreOne(q, w.index.Matrix)
		list, err := ranker.Top(scores, w.index.PassageIDs, r)
		if w.metrics != nil {
			w.metrics.ObserveStage("query", start)
		}
		return list, err
	})
	if err != nil {
		return nil, false, err
	}
	if w.metrics != nil {
		if cached {
			w.metrics.CacheHitsTotal.Inc()
			w.metrics.QueriesRanked.WithLabelValues("cache").Inc()
		} else {
			w.metrics.CacheMissesTotal.Inc()
			w.metrics.QueriesRanked.WithLabelValues("computed").Inc()
		}
	}
	return list, cached, nil
}

// Handle is a kafka.MessageHandler. Malformed events and queries that can
// never be ranked are skipped; publish failures are returned so the
// consumer redelivers the message.
func (w *Worker) Handle(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[QueryEvent](value)
	if err != nil {
		return err
	}
	if ev.QueryID == "" {
		ev.QueryID = string(key)
	}
	if ev.QueryID == "" {
		return fmt.Errorf("%w: query event without id", kafka.ErrSkip)
	}

	list, cached, err := w.Rank(ctx, ev)
	if err != nil {
		return fmt.Errorf("%w: %w", kafka.ErrSkip, err)
	}
	w.logger.Debug("query ranked",
		"query_id", ev.QueryID,
		"results", len(list),
		"cached", cached,
	)
	if w.publisher == nil {
		return nil
	}
	r := w.rankDepth
	if ev.RankDepth != nil {
		r = *ev.RankDepth
	}
	event := RankingEvent{
		RunID:       logger.RunID(ctx),
		QueryID:     ev.QueryID,
		RankDepth:   r,
		Fingerprint: w.fingerprint,
		Results:     list,
		RankedAt:    time.Now().UTC(),
	}
	return w.publisher.Publish(ctx, []RankingEvent{event})
}
