// Package evaluation measures recall of ranked lists against relevance
// labels and writes the per-query evaluation log.
package evaluation

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
)

// QueryOutcome is the evaluation of one query.
type QueryOutcome struct {
	QueryID           string   `json:"query_id"`
	Ranked            []string `json:"ranked"`
	Relevant          []string `json:"relevant"`
	RetrievedRelevant int      `json:"retrieved_relevant"`
	Success           bool     `json:"success"`
}

// Report aggregates all query outcomes.
type Report struct {
	RankDepth              int            `json:"rank_depth"`
	Queries                []QueryOutcome `json:"queries"`
	TotalRelevant          int            `json:"total_relevant"`
	TotalRetrievedRelevant int            `json:"total_retrieved_relevant"`
	Recall                 float64        `json:"recall"`
}

// Evaluate scores the top r entries of each ranked list. order fixes the
// iteration order of the report; queries missing from rankings are skipped.
// Recall is the retrieved-relevant total over the relevant total, or 0 when
// no query has labels.
func Evaluate(rankings map[string]ranker.RankedList, order []string, labels corpus.Labels, r int) Report {
	report := Report{
		RankDepth: r,
		Queries:   make([]QueryOutcome, 0, len(order)),
	}
	for _, qid := range order {
		list, ok := rankings[qid]
		if !ok {
			continue
		}
		ids := list.IDs()
		if r >= 0 && len(ids) > r {
			ids = ids[:r]
		}
		relevant := labels.Relevant(qid)
		hits := make(map[string]struct{})
		for _, id := range ids {
			if _, ok := relevant[id]; ok {
				hits[id] = struct{}{}
			}
		}
		outcome := QueryOutcome{
			QueryID:           qid,
			Ranked:            ids,
			Relevant:          labels.SortedRelevant(qid),
			RetrievedRelevant: len(hits),
			Success:           len(hits) > 0,
		}
		report.TotalRelevant += len(relevant)
		report.TotalRetrievedRelevant += len(hits)
		report.Queries = append(report.Queries, outcome)
	}
	if report.TotalRelevant > 0 {
		report.Recall = float64(report.TotalRetrievedRelevant) / float64(report.TotalRelevant)
	}
	return report
}

// WriteLog writes one block per query followed by the totals.
func WriteLog(w io.Writer, report Report) error {
	bw := bufio.NewWriter(w)
	for _, q := range report.Queries {
		status := "Failure"
		if q.Success {
			status = "Success"
		}
		fmt.Fprintf(bw, "Query ID: %s\n", q.QueryID)
		fmt.Fprintf(bw, "Top %d Ranked Document IDs: [%s]\n", report.RankDepth, strings.Join(q.Ranked, ", "))
		fmt.Fprintf(bw, "Actual Relevant Document IDs: [%s]\n", strings.Join(q.Relevant, ", "))
		fmt.Fprintf(bw, "Retrieval Status: %s\n\n", status)
	}
	fmt.Fprintf(bw, "Total Correct Retrievals: %d\n", report.TotalRetrievedRelevant)
	fmt.Fprintf(bw, "Total Relevant Labels: %d\n", report.TotalRelevant)
	fmt.Fprintf(bw, "Recall: %.6f\n", report.Recall)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing evaluation log: %w", err)
	}
	return nil
}
