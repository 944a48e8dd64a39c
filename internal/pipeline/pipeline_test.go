package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/scorer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	examplePassages = []corpus.Record{
		{ID: "d1", Text: "the cat sat", Line: 1},
		{ID: "d2", Text: "the dog ran", Line: 2},
		{ID: "d3", Text: "cat and dog", Line: 3},
	}
	exampleQueries = []corpus.Record{
		{ID: "q1", Text: "cat dog", Line: 1},
	}
)

type countingScorer struct {
	inner scorer.Scorer
	mu    sync.Mutex
	seen  int
}

func (s *countingScorer) Score(ctx context.Context, queries map[string]encoder.QueryVector, m *index.IncidenceMatrix) (map[string]scorer.ScoreVector, error) {
	s.mu.Lock()
	s.seen += len(queries)
	s.mu.Unlock()
	return s.inner.Score(ctx, queries, m)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []RankingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events []RankingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

type recordingStore struct {
	runID       string
	fingerprint string
	report      evaluation.Report
	saved       map[string]float64
	lookupErr   error
}

func (s *recordingStore) Save(_ context.Context, runID, fingerprint string, report evaluation.Report) error {
	s.runID, s.fingerprint, s.report = runID, fingerprint, report
	if s.saved == nil {
		s.saved = make(map[string]float64)
	}
	s.saved[fingerprint] = report.Recall
	return nil
}

func (s *recordingStore) LatestRecall(_ context.Context, fingerprint string) (float64, bool, error) {
	if s.lookupErr != nil {
		return 0, false, s.lookupErr
	}
	recall, ok := s.saved[fingerprint]
	return recall, ok, nil
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	components, err := NewRegistry().Resolve(config.Default().Components, Deps{
		Tokenizer: tokenizer.Word{},
		Workers:   2,
	})
	require.NoError(t, err)
	return New(components)
}

func TestRunExample(t *testing.T) {
	res, err := newTestPipeline(t).Run(context.Background(), examplePassages, exampleQueries, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"q1"}, res.QueryOrder)
	assert.Equal(t, ranker.RankedList{
		{PassageID: "d3", Position: 2, Score: 2},
		{PassageID: "d1", Position: 0, Score: 1},
	}, res.Rankings["q1"])
	assert.Zero(t, res.CacheHits)
	assert.Equal(t, 3, res.Index.Stats().Passages)
	assert.Equal(t, res.Index.Fingerprint(), res.Fingerprint)
}

func TestRunDeterministic(t *testing.T) {
	p := newTestPipeline(t)
	queries := []corpus.Record{
		{ID: "q1", Text: "cat dog", Line: 1},
		{ID: "q2", Text: "the", Line: 2},
		{ID: "q3", Text: "ran sat and", Line: 3},
	}
	first, err := p.Run(context.Background(), examplePassages, queries, 3)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), examplePassages, queries, 3)
	require.NoError(t, err)

	assert.Equal(t, first.Rankings, second.Rankings)
	assert.Equal(t, first.Index.Fingerprint(), second.Index.Fingerprint())
}

func TestRunOutOfVocabularyQuery(t *testing.T) {
	queries := []corpus.Record{{ID: "q1", Text: "zebra giraffe", Line: 1}}
	res, err := newTestPipeline(t).Run(context.Background(), examplePassages, queries, 2)
	require.NoError(t, err)

	assert.Empty(t, res.Queries["q1"])
	assert.Equal(t, []string{"d1", "d2"}, res.Rankings["q1"].IDs())
	for _, entry := range res.Rankings["q1"] {
		assert.Zero(t, entry.Score)
	}
}

func TestRunRankDepth(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.Run(context.Background(), examplePassages, exampleQueries, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Rankings["q1"])

	res, err = p.Run(context.Background(), examplePassages, exampleQueries, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d3", "d1", "d2"}, res.Rankings["q1"].IDs())

	_, err = p.Run(context.Background(), examplePassages, exampleQueries, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestRunPropagatesStageErrors(t *testing.T) {
	p := newTestPipeline(t)
	queries := []corpus.Record{{ID: "q1", Text: "bad \xff", Line: 4}}
	_, err := p.Run(context.Background(), examplePassages, queries, 2)
	assert.ErrorIs(t, err, apperrors.ErrTokenization)
}

func TestRunSkipsScoringOnCacheHit(t *testing.T) {
	p := newTestPipeline(t)
	counting := &countingScorer{inner: p.Scorer}
	p.Scorer = counting
	p.Cache = NewMemoryCache(16)

	first, err := p.Run(context.Background(), examplePassages, exampleQueries, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.seen)

	second, err := p.Run(context.Background(), examplePassages, exampleQueries, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.seen)
	assert.Equal(t, 1, second.CacheHits)
	assert.Equal(t, first.Rankings, second.Rankings)

	// A different depth is a different key.
	_, err = p.Run(context.Background(), examplePassages, exampleQueries, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.seen)
}

func TestCacheKeyIgnoresQueryID(t *testing.T) {
	a := CacheKey("abcdef", encoder.QueryVector{1, 4}, 10)
	assert.Equal(t, a, CacheKey("abcdef", encoder.QueryVector{1, 4}, 10))
	assert.NotEqual(t, a, CacheKey("abcdef", encoder.QueryVector{1, 4}, 11))
	assert.NotEqual(t, a, CacheKey("abcdef", encoder.QueryVector{1, 5}, 10))
	assert.NotEqual(t, a, CacheKey("fedcba", encoder.QueryVector{1, 4}, 10))
	assert.Contains(t, a, keyPrefix)
}

func TestMemoryCacheGetOrCompute(t *testing.T) {
	c := NewMemoryCache(4)
	calls := 0
	compute := func() (ranker.RankedList, error) {
		calls++
		return ranker.RankedList{{PassageID: "d1"}}, nil
	}
	list, cached, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"d1"}, list.IDs())

	_, cached, err = c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, _, err = c.GetOrCompute(context.Background(), "other", func() (ranker.RankedList, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), "other")
	assert.False(t, ok)
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Tokenizer: tokenizer.Word{}}

	cfg := config.Default().Components
	cfg.Scorer = "cosine"
	_, err := reg.Resolve(cfg, deps)
	require.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), `"cosine"`)
	assert.Contains(t, err.Error(), "overlap")

	cfg = config.Default().Components
	cfg.Ranker = "sort"
	_, err = reg.Resolve(cfg, deps)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestRegistryCustomBinding(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterScorer("counting", func(d Deps) (scorer.Scorer, error) {
		return &countingScorer{inner: scorer.NewOverlap(d.Workers)}, nil
	})
	cfg := config.Default().Components
	cfg.Scorer = "counting"
	components, err := reg.Resolve(cfg, Deps{Tokenizer: tokenizer.Word{}})
	require.NoError(t, err)
	assert.IsType(t, &countingScorer{}, components.Scorer)
}

func TestWriteRankings(t *testing.T) {
	rankings := map[string]ranker.RankedList{
		"q2": {{PassageID: "d2", Position: 1, Score: 1}},
		"q1": {
			{PassageID: "d3", Position: 2, Score: 2},
			{PassageID: "d1", Position: 0, Score: 1},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteRankings(&buf, rankings, []string{"q1", "q2"}))
	assert.Equal(t, "q1\t1\td3\t2\nq1\t2\td1\t1\nq2\t1\td2\t1\n", buf.String())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunnerRunFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Retrieval.CorpusPath = writeFile(t, dir, "corpus.tsv", "d1\tthe cat sat\nd2\tthe dog ran\nd3\tcat and dog\n")
	cfg.Retrieval.QueryPath = writeFile(t, dir, "queries.tsv", "q1\tcat dog\n")
	cfg.Retrieval.RankDepth = 2
	cfg.Evaluation.LabelsPath = writeFile(t, dir, "labels.json", `{"q1": {"d3": 1, "d2": 1}}`)
	cfg.Evaluation.LogPath = filepath.Join(dir, "eval.log")

	pub := &recordingPublisher{}
	store := &recordingStore{}
	var out bytes.Buffer
	runner := &Runner{Pipeline: newTestPipeline(t), Publisher: pub, Store: store, Stdout: &out}

	summary, err := runner.RunFiles(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "q1\t1\td3\t2\nq1\t2\td1\t1\n", out.String())
	require.NotNil(t, summary.Report)
	assert.InDelta(t, 0.5, summary.Report.Recall, 1e-9)

	assert.Equal(t, summary.RunID, store.runID)
	assert.Equal(t, summary.Fingerprint, store.fingerprint)
	assert.Equal(t, 1, store.report.TotalRetrievedRelevant)
	assert.Nil(t, summary.PreviousRecall)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "q1", pub.events[0].QueryID)
	assert.Equal(t, summary.RunID, pub.events[0].RunID)
	assert.Equal(t, 2, pub.events[0].RankDepth)

	log, err := os.ReadFile(cfg.Evaluation.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "Retrieval Status: Success")
	assert.Contains(t, string(log), "Recall: 0.500000")
}

func TestRunnerComparesWithPreviousRecall(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Retrieval.CorpusPath = writeFile(t, dir, "corpus.tsv", "d1\tthe cat sat\nd2\tthe dog ran\nd3\tcat and dog\n")
	cfg.Retrieval.QueryPath = writeFile(t, dir, "queries.tsv", "q1\tcat dog\n")
	cfg.Retrieval.RankDepth = 2
	cfg.Evaluation.LabelsPath = writeFile(t, dir, "labels.json", `{"q1": {"d3": 1, "d2": 1}}`)

	store := &recordingStore{}
	runner := &Runner{Pipeline: newTestPipeline(t), Store: store, Stdout: &bytes.Buffer{}}

	first, err := runner.RunFiles(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, first.PreviousRecall)

	second, err := runner.RunFiles(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, second.PreviousRecall)
	assert.InDelta(t, 0.5, *second.PreviousRecall, 1e-9)

	store.lookupErr = errors.New("connection refused")
	third, err := runner.RunFiles(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, third.PreviousRecall)
	assert.Equal(t, third.RunID, store.runID)
}

func TestRunnerWritesOutputFileWithoutEvaluation(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Retrieval.CorpusPath = writeFile(t, dir, "corpus.tsv", "d1\tthe cat sat\nd2\tthe dog ran\nd3\tcat and dog\n")
	cfg.Retrieval.QueryPath = writeFile(t, dir, "queries.tsv", "q1\tcat dog\n")
	cfg.Retrieval.OutputPath = filepath.Join(dir, "rankings.tsv")
	cfg.Retrieval.RankDepth = 1

	runner := &Runner{Pipeline: newTestPipeline(t)}
	summary, err := runner.RunFiles(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, summary.Report)

	data, err := os.ReadFile(cfg.Retrieval.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "q1\t1\td3\t2\n", string(data))
}

func TestRunnerRejectsMalformedInput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Retrieval.CorpusPath = writeFile(t, dir, "corpus.tsv", "d1\tthe cat sat\nno tab here\n")
	cfg.Retrieval.QueryPath = writeFile(t, dir, "queries.tsv", "q1\tcat dog\n")
	cfg.Retrieval.OutputPath = filepath.Join(dir, "rankings.tsv")

	runner := &Runner{Pipeline: newTestPipeline(t)}
	_, err := runner.RunFiles(context.Background(), cfg)
	require.ErrorIs(t, err, apperrors.ErrCorpusFormat)

	var lineErr *apperrors.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 2, lineErr.Line)

	_, statErr := os.Stat(cfg.Retrieval.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunnerPublishFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Retrieval.CorpusPath = writeFile(t, dir, "corpus.tsv", "d1\tthe cat sat\n")
	cfg.Retrieval.QueryPath = writeFile(t, dir, "queries.tsv", "q1\tcat\n")

	boom := errors.New("broker down")
	runner := &Runner{
		Pipeline:  newTestPipeline(t),
		Publisher: &recordingPublisher{err: boom},
		Stdout:    &bytes.Buffer{},
	}
	_, err := runner.RunFiles(context.Background(), cfg)
	assert.ErrorIs(t, err, boom)
}

func TestEventsFollowQueryOrder(t *testing.T) {
	rankings := map[string]ranker.RankedList{
		"b": {{PassageID: "d1"}},
		"a": {},
	}
	events := Events("run", "fp", rankings, []string{"b", "missing", "a"}, 5)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].QueryID)
	assert.Equal(t, "a", events[1].QueryID)
	assert.Equal(t, "fp", events[1].Fingerprint)
}

func newTestWorker(t *testing.T, pub Publisher) *Worker {
	t.Helper()
	idx, err := index.Build(examplePassages, tokenizer.Word{})
	require.NoError(t, err)
	return NewWorker(idx, WorkerOptions{
		Tokenizer: tokenizer.Word{},
		Publisher: pub,
		RankDepth: 2,
	})
}

func TestWorkerHandlePublishesRanking(t *testing.T) {
	pub := &recordingPublisher{}
	w := newTestWorker(t, pub)

	payload, err := json.Marshal(QueryEvent{QueryID: "q1", Text: "cat dog"})
	require.NoError(t, err)
	require.NoError(t, w.Handle(context.Background(), []byte("q1"), payload))

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"d3", "d1"}, pub.events[0].Results.IDs())
	assert.Equal(t, w.Fingerprint(), pub.events[0].Fingerprint)
}

func TestWorkerRankUsesCacheAndDepthOverride(t *testing.T) {
	w := newTestWorker(t, nil)

	list, cached, err := w.Rank(context.Background(), QueryEvent{QueryID: "q1", Text: "Cat, DOG!"})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []string{"d3", "d1"}, list.IDs())

	// Different id, same tokens: served from the cache.
	_, cached, err = w.Rank(context.Background(), QueryEvent{QueryID: "q9", Text: "dog cat"})
	require.NoError(t, err)
	assert.True(t, cached)

	depth := 3
	list, _, err = w.Rank(context.Background(), QueryEvent{QueryID: "q1", Text: "cat dog", RankDepth: &depth})
	require.NoError(t, err)
	assert.Equal(t, []string{"d3", "d1", "d2"}, list.IDs())
}

func TestWorkerHandleSkipsBadEvents(t *testing.T) {
	w := newTestWorker(t, &recordingPublisher{})

	err := w.Handle(context.Background(), nil, []byte("{not json"))
	assert.ErrorIs(t, err, kafka.ErrSkip)

	err = w.Handle(context.Background(), nil, []byte(`{"text":"cat"}`))
	assert.ErrorIs(t, err, kafka.ErrSkip)

	negative := -1
	payload, _ := json.Marshal(QueryEvent{QueryID: "q1", Text: "cat", RankDepth: &negative})
	err = w.Handle(context.Background(), nil, payload)
	assert.ErrorIs(t, err, kafka.ErrSkip)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestWorkerRankRejectsNegativeDepth(t *testing.T) {
	w := newTestWorker(t, nil)
	negative := -3
	list, cached, err := w.Rank(context.Background(), QueryEvent{QueryID: "q1", Text: "cat", RankDepth: &negative})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	assert.Nil(t, list)
	assert.False(t, cached)
}

func TestWorkerHandleReturnsPublishErrors(t *testing.T) {
	boom := errors.New("broker down")
	w := newTestWorker(t, &recordingPublisher{err: boom})
	payload, _ := json.Marshal(QueryEvent{QueryID: "q1", Text: "cat"})
	err := w.Handle(context.Background(), nil, payload)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, kafka.ErrSkip)
}
