package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/resilience"
)

// RankingEvent is the payload published for every ranked query.
type RankingEvent struct {
	RunID       string            `json:"run_id"`
	QueryID     string            `json:"query_id"`
	RankDepth   int               `json:"rank_depth"`
	Fingerprint string            `json:"index_fingerprint"`
	Results     ranker.RankedList `json:"results"`
	RankedAt    time.Time         `json:"ranked_at"`
}

// Publisher delivers ranking events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, events []RankingEvent) error
}

const publishBatchSize = 500

// KafkaPublisher sends ranking events keyed by query id.
type KafkaPublisher struct {
	producer *kafka.Producer
	retry    resilience.RetryConfig
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		retry:    resilience.DefaultRetryConfig(),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events []RankingEvent) error {
	for start := 0; start < len(events); start += publishBatchSize {
		end := min(start+publishBatchSize, len(events))
		batch := make([]kafka.Event, 0, end-start)
		for _, e := range events[start:end] {
			batch = append(batch, kafka.Event{Key: e.QueryID, Value: e})
		}
		err := resilience.Retry(ctx, "publish-rankings", p.retry, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, "publish-rankings", sinkTimeout, func(ctx context.Context) error {
				return p.producer.Publish(ctx, batch...)
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Events converts rankings into events in query order.
func Events(runID, fingerprint string, rankings map[string]ranker.RankedList, order []string, r int) []RankingEvent {
	now := time.Now().UTC()
	events := make([]RankingEvent, 0, len(order))
	for _, qid := range order {
		list, ok := rankings[qid]
		if !ok {
			continue
		}
		events = append(events, RankingEvent{
			RunID:       runID,
			QueryID:     qid,
			RankDepth:   r,
			Fingerprint: fingerprint,
			Results:     list,
			RankedAt:    now,
		})
	}
	return events
}

// WriteRankings writes one line per ranked passage:
// query_id, 1-based rank, passage_id and score separated by tabs.
func WriteRankings(w io.Writer, rankings map[string]ranker.RankedList, order []string) error {
	bw := bufio.NewWriter(w)
	for _, qid := range order {
		for i, entry := range rankings[qid] {
			if _, err := fmt.Fprintf(bw, "%s\t%d\t%s\t%d\n", qid, i+1, entry.PassageID, entry.Score); err != nil {
				return fmt.Errorf("writing rankings: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing rankings: %w", err)
	}
	return nil
}
