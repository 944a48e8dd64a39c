package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecords(t *testing.T) {
	input := "d1\tthe cat sat\r\nd2\tthe dog\tran\nd3\t\n"
	records, err := ReadRecords(strings.NewReader(input), Passages)
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{ID: "d1", Text: "the cat sat", Line: 1},
		{ID: "d2", Text: "the dog\tran", Line: 2},
		{ID: "d3", Text: "", Line: 3},
	}, records)
}

func TestReadRecordsEmpty(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(""), Passages)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadRecordsMalformed(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     Kind
		sentinel error
		line     int
	}{
		{"missing tab", "d1\tok\nd2 no tab\n", Passages, apperrors.ErrCorpusFormat, 2},
		{"empty id", "\tjust text\n", Passages, apperrors.ErrCorpusFormat, 1},
		{"blank line", "q1\tcat\n\nq2\tdog\n", Queries, apperrors.ErrQueryFormat, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(tt.input), tt.kind)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			var lineErr *apperrors.LineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestReadFileAttachesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.tsv")
	require.NoError(t, os.WriteFile(path, []byte("broken\n"), 0o644))

	_, err := ReadFile(path, Passages)
	var lineErr *apperrors.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, path, lineErr.Path)
	assert.Contains(t, err.Error(), path+":1")
}

func TestParseLabels(t *testing.T) {
	doc := `{"q1": {"d1": 1, "d3": 2}, "q2": ["d2"], "q3": "d4", "q4": {}}`
	labels, err := ParseLabels([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, labels.SortedRelevant("q1"))
	assert.Equal(t, []string{"d2"}, labels.SortedRelevant("q2"))
	assert.Equal(t, []string{"d4"}, labels.SortedRelevant("q3"))
	assert.Empty(t, labels.Relevant("q4"))
	assert.Empty(t, labels.Relevant("missing"))
}

func TestParseLabelsYAML(t *testing.T) {
	doc := "q1:\n  - d1\n  - d2\nq2:\n  d7: 1\n"
	labels, err := ParseLabels([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, labels.SortedRelevant("q1"))
	assert.Equal(t, []string{"d7"}, labels.SortedRelevant("q2"))
}

func TestParseLabelsMalformed(t *testing.T) {
	_, err := ParseLabels([]byte(`["not", "a", "mapping"]`))
	assert.ErrorIs(t, err, apperrors.ErrLabelsFormat)

	_, err = ParseLabels([]byte(`{"q1": [["nested"]]}`))
	assert.ErrorIs(t, err, apperrors.ErrLabelsFormat)
}
