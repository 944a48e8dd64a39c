// Package tokenizer turns passage and query text into token sets. A
// Tokenizer returns the distinct tokens of a text in sorted order, so the
// same text always yields the same slice.
package tokenizer

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
)

// Tokenizer maps a text to its set of tokens.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
	Name() string
}

// Options configures New.
type Options struct {
	Kind      string
	CacheSize int
}

// New returns a ready-to-use tokenizer handle. It is the single setup step;
// the handle is passed explicitly to the index builder and query encoder.
func New(opts Options) (Tokenizer, error) {
	var tok Tokenizer
	switch opts.Kind {
	case "", "word":
		tok = Word{}
	case "whitespace":
		tok = Whitespace{}
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q (known: word, whitespace)", apperrors.ErrConfig, opts.Kind)
	}
	if opts.CacheSize > 0 {
		return NewCached(tok, opts.CacheSize), nil
	}
	return tok, nil
}

// Word lower-cases text and splits it on every rune that is neither a letter
// nor a digit.
type Word struct{}

func (Word) Name() string { return "word" }

func (Word) Tokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", apperrors.ErrTokenization)
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return toSet(words), nil
}

// Whitespace splits text on Unicode white space and keeps case and
// punctuation.
type Whitespace struct{}

func (Whitespace) Name() string { return "whitespace" }

func (Whitespace) Tokenize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", apperrors.ErrTokenization)
	}
	return toSet(strings.Fields(text)), nil
}

func toSet(words []string) []string {
	if len(words) == 0 {
		return []string{}
	}
	slices.Sort(words)
	return slices.Compact(words)
}
