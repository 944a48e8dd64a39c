// Package ranker selects the R highest-scoring passages per query.
//
// Ties are broken by corpus position: of two passages with equal score the
// one appearing earlier in the passage id list ranks first. Together with
// descending score this gives a total order, so rankings are reproducible.
package ranker

import (
	"container/heap"
	"context"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/scorer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
)

// Ranked is one entry of a RankedList.
type Ranked struct {
	PassageID string `json:"passage_id"`
	Position  int    `json:"position"`
	Score     int32  `json:"score"`
}

// RankedList is ordered by descending score, then ascending position.
type RankedList []Ranked

// IDs returns the passage identifiers in rank order.
func (l RankedList) IDs() []string {
	ids := make([]string, len(l))
	for i, r := range l {
		ids[i] = r.PassageID
	}
	return ids
}

// Ranker turns score vectors into ranked lists.
type Ranker interface {
	Rank(ctx context.Context, scores map[string]scorer.ScoreVector, passageIDs []string, r int) (map[string]RankedList, error)
}

// Heap is the default Ranker. It keeps a bounded min-heap of the best r
// candidates per query, which costs O(N log r) instead of a full sort.
type Heap struct{}

func NewHeap() *Heap { return &Heap{} }

func (h *Heap) Rank(ctx context.Context, scores map[string]scorer.ScoreVector, passageIDs []string, r int) (map[string]RankedList, error) {
	if r < 0 {
		return nil, apperrors.Invalidf("rank depth must be >= 0, got %d", r)
	}
	out := make(map[string]RankedList, len(scores))
	for qid, sv := range scores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := Top(sv, passageIDs, r)
		if err != nil {
			return nil, err
		}
		out[qid] = list
	}
	return out, nil
}

// Top returns the r best passages for one score vector. scores and
// passageIDs must have the same length.
func Top(scores scorer.ScoreVector, passageIDs []string, r int) (RankedList, error) {
	if r < 0 {
		return nil, apperrors.Invalidf("rank depth must be >= 0, got %d", r)
	}
	if len(scores) != len(passageIDs) {
		return nil, apperrors.Invalidf("score vector has %d entries for %d passages", len(scores), len(passageIDs))
	}
	if r == 0 || len(scores) == 0 {
		return RankedList{}, nil
	}
	limit := min(r, len(scores))

	h := make(candidateHeap, 0, limit)
	for p, s := range scores {
		c := candidate{position: p, score: s}
		if h.Len() < limit {
			heap.Push(&h, c)
			continue
		}
		if worse(h[0], c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	result := make(RankedList, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		c := heap.Pop(&h).(candidate)
		result[i] = Ranked{
			PassageID: passageIDs[c.position],
			Position:  c.position,
			Score:     c.score,
		}
	}
	return result, nil
}

type candidate struct {
	position int
	score    int32
}

// worse reports whether a ranks below b.
func worse(a, b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.position > b.position
}

// candidateHeap keeps the worst retained candidate at the root.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
