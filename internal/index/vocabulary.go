package index

import "sort"

// Vocabulary assigns each distinct corpus token an index in [0, Len()).
// Indices follow lexicographic token order. It is immutable once built.
type Vocabulary struct {
	terms []string
	index map[string]int
}

// NewVocabulary builds a vocabulary from an arbitrary token set. Duplicates
// are collapsed.
func NewVocabulary(tokens map[string]struct{}) *Vocabulary {
	terms := make([]string, 0, len(tokens))
	for t := range tokens {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	v := &Vocabulary{
		terms: terms,
		index: make(map[string]int, len(terms)),
	}
	for i, t := range terms {
		v.index[t] = i
	}
	return v
}

func (v *Vocabulary) Len() int { return len(v.terms) }

func (v *Vocabulary) Lookup(token string) (int, bool) {
	i, ok := v.index[token]
	return i, ok
}

// Term returns the token at index i. It panics if i is out of range.
func (v *Vocabulary) Term(i int) string { return v.terms[i] }

// Terms returns a copy of the tokens in index order.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}
