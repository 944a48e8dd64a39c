// Package scorer computes the overlap score between every query and every
// passage: the number of vocabulary terms the two share.
package scorer

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"golang.org/x/sync/errgroup"
)

// ScoreVector holds one score per passage, aligned with the passage id list.
type ScoreVector []int32

// Scorer produces a ScoreVector for each query.
type Scorer interface {
	Score(ctx context.Context, queries map[string]encoder.QueryVector, m *index.IncidenceMatrix) (map[string]ScoreVector, error)
}

// Overlap is the default Scorer. Each query is scored independently by
// walking the postings of its terms, so the cost is proportional to the sum
// of those terms' document frequencies rather than to V x N.
type Overlap struct {
	Workers int
}

func NewOverlap(workers int) *Overlap {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Overlap{Workers: workers}
}

// ScoreOne returns the overlap of q with every column of m.
func ScoreOne(q encoder.QueryVector, m *index.IncidenceMatrix) ScoreVector {
	scores := make(ScoreVector, m.Cols())
	for _, t := range q {
		if t < 0 || t >= m.Rows() {
			continue
		}
		it := m.Postings(t).Iterator()
		for it.HasNext() {
			scores[it.Next()]++
		}
	}
	return scores
}

func (s *Overlap) Score(ctx context.Context, queries map[string]encoder.QueryVector, m *index.IncidenceMatrix) (map[string]ScoreVector, error) {
	ids := make([]string, 0, len(queries))
	for id := range queries {
		ids = append(ids, id)
	}
	results := make([]ScoreVector, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = ScoreOne(queries[id], m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]ScoreVector, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	slog.Default().With("component", "overlap-scorer").Debug("queries scored", "queries", len(out), "passages", m.Cols(), "workers", s.Workers)
	return out, nil
}
