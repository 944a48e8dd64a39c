// Package corpus reads the tab-separated line records that make up corpus and
// query files, and the relevance labels used for evaluation.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
)

// Kind selects which error a malformed line is reported as.
type Kind int

const (
	Passages Kind = iota
	Queries
)

func (k Kind) String() string {
	if k == Queries {
		return "query"
	}
	return "passage"
}

func (k Kind) sentinel() error {
	if k == Queries {
		return apperrors.ErrQueryFormat
	}
	return apperrors.ErrCorpusFormat
}

// Record is one line of a corpus or query file. Line is 1-based.
type Record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Line int    `json:"line"`
}

const maxLineSize = 64 << 20

// ReadRecords parses one record per line. The identifier and text are split
// on the first tab; the text may contain further tabs. Any malformed line
// aborts the read so that record positions stay aligned with line order.
func ReadRecords(r io.Reader, kind Kind) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	records := make([]Record, 0, 1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSuffix(scanner.Text(), "\r")
		id, text, ok := strings.Cut(raw, "\t")
		if !ok {
			return nil, apperrors.AtLinef(kind.sentinel(), line, "missing tab between %s id and text", kind)
		}
		if id == "" {
			return nil, apperrors.AtLinef(kind.sentinel(), line, "empty %s id", kind)
		}
		records = append(records, Record{
			ID:   id,
			Text: text,
			Line: line,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s records after line %d: %w", kind, line, err)
	}
	return records, nil
}

// ReadFile opens path and parses its records.
func ReadFile(path string, kind Kind) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s file: %w", kind, err)
	}
	defer f.Close()
	records, err := ReadRecords(f, kind)
	if err != nil {
		return nil, apperrors.WithPath(err, path)
	}
	return records, nil
}
