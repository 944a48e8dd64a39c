package tokenizer

import (
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCached is given a non-positive size.
const DefaultCacheSize = 4096

// Cached wraps a Tokenizer with an LRU of text -> tokens. Query files often
// repeat texts; corpus tokenization does not benefit and should use the
// inner tokenizer directly.
type Cached struct {
	inner Tokenizer
	cache *lru.Cache[string, []string]
}

func NewCached(inner Tokenizer, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []string](size)
	return &Cached{
		inner: inner,
		cache: cache,
	}
}

func (c *Cached) Name() string { return c.inner.Name() }

// Tokenize returns a copy of the cached tokens so callers may modify the
// result. Errors are not cached.
func (c *Cached) Tokenize(text string) ([]string, error) {
	if tokens, ok := c.cache.Get(text); ok {
		return slices.Clone(tokens), nil
	}
	tokens, err := c.inner.Tokenize(text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(tokens))
	return tokens, nil
}

// Len returns the number of cached texts.
func (c *Cached) Len() int { return c.cache.Len() }

// Uncached returns the tokenizer underneath any Cached wrapper.
func Uncached(tok Tokenizer) Tokenizer {
	if c, ok := tok.(*Cached); ok {
		return c.inner
	}
	return tok
}
