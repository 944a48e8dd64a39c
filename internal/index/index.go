// Package index builds the vocabulary and the sparse term-passage incidence
// matrix for a corpus. Construction is a single-writer phase; the resulting
// Index is never mutated and may be shared by any number of scoring
// goroutines without locking.
package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
)

// Index bundles the passage id list, the vocabulary and the incidence
// matrix. PassageIDs[i] is column i of Matrix.
type Index struct {
	PassageIDs []string
	Vocabulary *Vocabulary
	Matrix     *IncidenceMatrix
}

// Stats summarises an Index for logging and metrics.
type Stats struct {
	Passages   int    `json:"passages"`
	Vocabulary int    `json:"vocabulary"`
	NonZeros   uint64 `json:"non_zeros"`
}

// Build tokenizes every passage, assigns vocabulary indices in sorted token
// order and marks each (term, passage) occurrence. A tokenization failure
// aborts the build and names the offending line.
func Build(records []corpus.Record, tok tokenizer.Tokenizer) (*Index, error) {
	logger := slog.Default().With("component", "index-builder")

	passageIDs := make([]string, len(records))
	passageTokens := make([][]string, len(records))
	all := make(map[string]struct{})
	for i, rec := range records {
		tokens, err := tok.Tokenize(rec.Text)
		if err != nil {
			return nil, fmt.Errorf("line %d (passage %q): %w", rec.Line, rec.ID, err)
		}
		passageIDs[i] = rec.ID
		passageTokens[i] = tokens
		for _, t := range tokens {
			all[t] = struct{}{}
		}
	}

	vocab := NewVocabulary(all)
	matrix := newIncidenceMatrix(vocab.Len(), len(records))
	for p, tokens := range passageTokens {
		for _, t := range tokens {
			row, _ := vocab.Lookup(t)
			matrix.set(row, p)
		}
	}
	matrix.optimize()

	idx := &Index{
		PassageIDs: passageIDs,
		Vocabulary: vocab,
		Matrix:     matrix,
	}
	stats := idx.Stats()
	logger.Info("index built",
		"passages", stats.Passages,
		"vocabulary", stats.Vocabulary,
		"non_zeros", stats.NonZeros,
		"tokenizer", tok.Name(),
	)
	return idx, nil
}

func (idx *Index) Stats() Stats {
	return Stats{
		Passages:   len(idx.PassageIDs),
		Vocabulary: idx.Vocabulary.Len(),
		NonZeros:   idx.Matrix.NNZ(),
	}
}

// Fingerprint hashes the passage ids, vocabulary and incidence rows. Two
// indexes built from identical input have identical fingerprints.
func (idx *Index) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	writeUint(uint64(len(idx.PassageIDs)))
	for _, id := range idx.PassageIDs {
		writeString(id)
	}
	writeUint(uint64(idx.Vocabulary.Len()))
	for t := 0; t < idx.Vocabulary.Len(); t++ {
		writeString(idx.Vocabulary.Term(t))
		row := idx.Matrix.Postings(t)
		writeUint(row.GetCardinality())
		it := row.Iterator()
		for it.HasNext() {
			writeUint(uint64(it.Next()))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
