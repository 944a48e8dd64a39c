package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/scorer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
)

// Deps are the shared resources handed to component factories.
type Deps struct {
	Tokenizer tokenizer.Tokenizer
	Workers   int
}

type (
	EncoderFactory func(Deps) (encoder.Encoder, error)
	ScorerFactory  func(Deps) (scorer.Scorer, error)
	RankerFactory  func(Deps) (ranker.Ranker, error)
)

// Registry maps component names from configuration to factories. Bindings
// are resolved once at startup.
type Registry struct {
	encoders map[string]EncoderFactory
	scorers  map[string]ScorerFactory
	rankers  map[string]RankerFactory
}

// NewRegistry returns a registry holding the default components: "bow",
// "overlap" and "heap".
func NewRegistry() *Registry {
	r := &Registry{
		encoders: make(map[string]EncoderFactory),
		scorers:  make(map[string]ScorerFactory),
		rankers:  make(map[string]RankerFactory),
	}
	r.RegisterEncoder("bow", func(d Deps) (encoder.Encoder, error) {
		return encoder.NewBagOfWords(d.Tokenizer), nil
	})
	r.RegisterScorer("overlap", func(d Deps) (scorer.Scorer, error) {
		return scorer.NewOverlap(d.Workers), nil
	})
	r.RegisterRanker("heap", func(Deps) (ranker.Ranker, error) {
		return ranker.NewHeap(), nil
	})
	return r
}

func (r *Registry) RegisterEncoder(name string, f EncoderFactory) { r.encoders[name] = f }

func (r *Registry) RegisterScorer(name string, f ScorerFactory) { r.scorers[name] = f }

func (r *Registry) RegisterRanker(name string, f RankerFactory) { r.rankers[name] = f }

// Components is a resolved set of bindings.
type Components struct {
	Encoder encoder.Encoder
	Scorer  scorer.Scorer
	Ranker  ranker.Ranker
}

// Resolve binds the components named in cfg.
func (r *Registry) Resolve(cfg config.ComponentsConfig, deps Deps) (*Components, error) {
	ef, ok := r.encoders[cfg.Encoder]
	if !ok {
		return nil, unknown("encoder", cfg.Encoder, r.encoders)
	}
	sf, ok := r.scorers[cfg.Scorer]
	if !ok {
		return nil, unknown("scorer", cfg.Scorer, r.scorers)
	}
	rf, ok := r.rankers[cfg.Ranker]
	if !ok {
		return nil, unknown("ranker", cfg.Ranker, r.rankers)
	}

	enc, err := ef(deps)
	if err != nil {
		return nil, fmt.Errorf("creating encoder %q: %w", cfg.Encoder, err)
	}
	sc, err := sf(deps)
	if err != nil {
		return nil, fmt.Errorf("creating scorer %q: %w", cfg.Scorer, err)
	}
	rk, err := rf(deps)
	if err != nil {
		return nil, fmt.Errorf("creating ranker %q: %w", cfg.Ranker, err)
	}
	return &Components{Encoder: enc, Scorer: sc, Ranker: rk}, nil
}

func unknown[F any](kind, name string, known map[string]F) error {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("%w: unknown %s %q (known: %s)", apperrors.ErrConfig, kind, name, strings.Join(names, ", "))
}

// FromConfig builds a pipeline from the default registry and the configured
// tokenizer and worker count.
func FromConfig(cfg *config.Config) (*Pipeline, error) {
	tok, err := tokenizer.New(tokenizer.Options{
		Kind:      cfg.Components.Tokenizer,
		CacheSize: cfg.Components.QueryCacheSize,
	})
	if err != nil {
		return nil, err
	}
	components, err := NewRegistry().Resolve(cfg.Components, Deps{
		Tokenizer: tok,
		Workers:   cfg.Retrieval.Workers,
	})
	if err != nil {
		return nil, err
	}
	return New(components), nil
}
