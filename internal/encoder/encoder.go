// Package encoder turns corpus and query records into the index and the
// per-query term vectors consumed by scoring.
package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
)

// QueryVector is a sparse binary vector over the vocabulary: the ascending
// indices of the vocabulary terms present in a query.
type QueryVector []int

// Encoded is the output of an Encoder.
type Encoded struct {
	Index      *index.Index
	Queries    map[string]QueryVector
	QueryOrder []string
}

// Encoder builds the corpus index and encodes queries against it.
type Encoder interface {
	Encode(ctx context.Context, passages []corpus.Record, queries []corpus.Record) (*Encoded, error)
}

// EncodeQuery sets one bit per query token found in vocab. Tokens outside the
// vocabulary are dropped.
func EncodeQuery(tokens []string, vocab *index.Vocabulary) QueryVector {
	vec := make(QueryVector, 0, len(tokens))
	for _, t := range tokens {
		if i, ok := vocab.Lookup(t); ok {
			vec = append(vec, i)
		}
	}
	slices.Sort(vec)
	return slices.Compact(vec)
}

// BagOfWords is the default Encoder. Passages go through CorpusTokenizer and
// queries through QueryTokenizer; both are normally the same tokenizer, the
// query side wrapped in a cache.
type BagOfWords struct {
	CorpusTokenizer tokenizer.Tokenizer
	QueryTokenizer  tokenizer.Tokenizer
}

func NewBagOfWords(tok tokenizer.Tokenizer) *BagOfWords {
	return &BagOfWords{
		CorpusTokenizer: tokenizer.Uncached(tok),
		QueryTokenizer:  tok,
	}
}

func (e *BagOfWords) Encode(ctx context.Context, passages []corpus.Record, queries []corpus.Record) (*Encoded, error) {
	idx, err := index.Build(passages, e.CorpusTokenizer)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors, order, err := EncodeQueries(queries, idx.Vocabulary, e.QueryTokenizer)
	if err != nil {
		return nil, err
	}
	return &Encoded{
		Index:      idx,
		Queries:    vectors,
		QueryOrder: order,
	}, nil
}

// EncodeQueries encodes every query record. Query ids must be unique since
// results are keyed by id.
func EncodeQueries(queries []corpus.Record, vocab *index.Vocabulary, tok tokenizer.Tokenizer) (map[string]QueryVector, []string, error) {
	logger := slog.Default().With("component", "query-encoder")
	vectors := make(map[string]QueryVector, len(queries))
	order := make([]string, 0, len(queries))
	empty := 0
	for _, q := range queries {
		if _, dup := vectors[q.ID]; dup {
			return nil, nil, apperrors.AtLinef(apperrors.ErrQueryFormat, q.Line, "duplicate query id %q", q.ID)
		}
		tokens, err := tok.Tokenize(q.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d (query %q): %w", q.Line, q.ID, err)
		}
		vec := EncodeQuery(tokens, vocab)
		if len(vec) == 0 {
			empty++
		}
		vectors[q.ID] = vec
		order = append(order, q.ID)
	}
	logger.Info("queries encoded",
		"queries", len(order),
		"out_of_vocabulary", empty,
	)
	return vectors, order, nil
}
