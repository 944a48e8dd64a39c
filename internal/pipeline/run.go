package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/resilience"
)

// sinkTimeout bounds each attempt against an external sink.
const sinkTimeout = 30 * time.Second

// ReportStore persists evaluation reports and answers the recall of the
// last stored run for an index.
type ReportStore interface {
	Save(ctx context.Context, runID, fingerprint string, report evaluation.Report) error
	LatestRecall(ctx context.Context, fingerprint string) (float64, bool, error)
}

// Runner executes a batch run from the files named in configuration.
// Publisher and Store are optional.
type Runner struct {
	Pipeline  *Pipeline
	Publisher Publisher
	Store     ReportStore
	// Stdout receives the rankings when no output path is configured.
	Stdout io.Writer
}

// Summary describes a completed batch run.
type Summary struct {
	RunID       string
	Fingerprint string
	Result      *Result
	// Report is nil when evaluation is disabled.
	Report *evaluation.Report
	// PreviousRecall is the recall last stored for the same index, if any.
	PreviousRecall *float64
}

// NewRunID returns a random 16-byte hex identifier.
func NewRunID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RunFiles reads the corpus, queries and (optionally) labels, runs the
// pipeline, writes the rankings and then feeds the optional sinks. Input
// errors abort the run before any output is written.
func (r *Runner) RunFiles(ctx context.Context, cfg *config.Config) (*Summary, error) {
	runID := logger.RunID(ctx)
	if runID == "" {
		runID = NewRunID()
		ctx = logger.WithRunID(ctx, runID)
	}
	log := logger.FromContext(ctx).With("component", "runner")
	start := time.Now()

	passages, err := corpus.ReadFile(cfg.Retrieval.CorpusPath, corpus.Passages)
	if err != nil {
		return nil, err
	}
	queries, err := corpus.ReadFile(cfg.Retrieval.QueryPath, corpus.Queries)
	if err != nil {
		return nil, err
	}
	var labels corpus.Labels
	if cfg.Evaluation.Enabled() {
		labels, err = corpus.LoadLabels(cfg.Evaluation.LabelsPath)
		if err != nil {
			return nil, err
		}
	}
	log.Info("inputs loaded",
		"passages", len(passages),
		"queries", len(queries),
		"labelled_queries", len(labels),
	)

	res, err := r.Pipeline.Run(ctx, passages, queries, cfg.Retrieval.RankDepth)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		RunID:       runID,
		Fingerprint: res.Fingerprint,
		Result:      res,
	}

	if err := r.writeRankings(cfg.Retrieval.OutputPath, res); err != nil {
		return nil, err
	}

	if cfg.Evaluation.Enabled() {
		report := evaluation.Evaluate(res.Rankings, res.QueryOrder, labels, cfg.Retrieval.RankDepth)
		summary.Report = &report
		if err := writeEvaluationLog(cfg.Evaluation.LogPath, report); err != nil {
			return nil, err
		}
		if r.Pipeline.Metrics != nil {
			r.Pipeline.Metrics.Recall.Set(report.Recall)
		}
		log.Info("evaluation complete",
			"recall", report.Recall,
			"relevant", report.TotalRelevant,
			"retrieved_relevant", report.TotalRetrievedRelevant,
		)
		if r.Store != nil {
			summary.PreviousRecall = r.previousRecall(ctx, summary.Fingerprint, report.Recall)
			err := resilience.Retry(ctx, "store-evaluation", resilience.DefaultRetryConfig(), func(ctx context.Context) error {
				return resilience.WithTimeout(ctx, "store-evaluation", sinkTimeout, func(ctx context.Context) error {
					return r.Store.Save(ctx, runID, summary.Fingerprint, report)
				})
			})
			if err != nil {
				return nil, fmt.Errorf("storing evaluation: %w", err)
			}
		}
	}

	if r.Publisher != nil {
		events := Events(runID, summary.Fingerprint, res.Rankings, res.QueryOrder, cfg.Retrieval.RankDepth)
		if err := r.Publisher.Publish(ctx, events); err != nil {
			return nil, fmt.Errorf("publishing rankings: %w", err)
		}
		log.Info("rankings published", "events", len(events))
	}

	log.Info("run complete", "duration", time.Since(start).Round(time.Millisecond))
	return summary, nil
}

// previousRecall looks up the last stored recall for the index. A failed
// lookup is logged and does not fail the run.
func (r *Runner) previousRecall(ctx context.Context, fingerprint string, recall float64) *float64 {
	log := logger.FromContext(ctx).With("component", "runner")
	var (
		prev float64
		ok   bool
	)
	err := resilience.WithTimeout(ctx, "latest-recall", sinkTimeout, func(ctx context.Context) error {
		var err error
		prev, ok, err = r.Store.LatestRecall(ctx, fingerprint)
		return err
	})
	if err != nil {
		log.Warn("previous recall unavailable", "error", err)
		return nil
	}
	if !ok {
		log.Info("no previous evaluation for index", "index_fingerprint", fingerprint)
		return nil
	}
	log.Info("recall compared with previous run",
		"previous_recall", prev,
		"recall", recall,
		"delta", recall-prev,
	)
	return &prev
}

func (r *Runner) writeRankings(path string, res *Result) error {
	if path == "" {
		out := r.Stdout
		if out == nil {
			out = os.Stdout
		}
		return WriteRankings(out, res.Rankings, res.QueryOrder)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating rankings output: %w", err)
	}
	if err := WriteRankings(f, res.Rankings, res.QueryOrder); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeEvaluationLog(path string, report evaluation.Report) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating evaluation log: %w", err)
	}
	if err := evaluation.WriteLog(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
