package index

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// IncidenceMatrix is a binary term x passage table stored row-wise as one
// roaring bitmap of passage positions per vocabulary term. Cell (t, p) is 1
// iff passage p contains term t. It is read-only after Build and safe for
// concurrent readers.
type IncidenceMatrix struct {
	rows []*roaring.Bitmap
	cols int
}

func newIncidenceMatrix(rows, cols int) *IncidenceMatrix {
	m := &IncidenceMatrix{
		rows: make([]*roaring.Bitmap, rows),
		cols: cols,
	}
	for i := range m.rows {
		m.rows[i] = roaring.New()
	}
	return m
}

func (m *IncidenceMatrix) Rows() int { return len(m.rows) }

func (m *IncidenceMatrix) Cols() int { return m.cols }

// Get reports whether term t occurs in passage p.
func (m *IncidenceMatrix) Get(t, p int) bool {
	if t < 0 || t >= len(m.rows) || p < 0 || p >= m.cols {
		return false
	}
	return m.rows[t].Contains(uint32(p))
}

// Postings returns the row for term t. The bitmap is shared; callers must
// not modify it.
func (m *IncidenceMatrix) Postings(t int) *roaring.Bitmap {
	return m.rows[t]
}

// DocFreq returns the number of passages containing term t.
func (m *IncidenceMatrix) DocFreq(t int) int {
	return int(m.rows[t].GetCardinality())
}

// NNZ returns the number of set cells.
func (m *IncidenceMatrix) NNZ() uint64 {
	var total uint64
	for _, row := range m.rows {
		total += row.GetCardinality()
	}
	return total
}

// Column returns the term indices set for passage p in ascending order. It
// scans every row and is meant for tests and diagnostics, not scoring.
func (m *IncidenceMatrix) Column(p int) []int {
	terms := make([]int, 0)
	for t, row := range m.rows {
		if row.Contains(uint32(p)) {
			terms = append(terms, t)
		}
	}
	return terms
}

func (m *IncidenceMatrix) set(t, p int) {
	m.rows[t].Add(uint32(p))
}

func (m *IncidenceMatrix) optimize() {
	for _, row := range m.rows {
		row.RunOptimize()
	}
}
