// Package normalize maps free-text degree and eligibility values to canonical taxonomy
// keys. Lookups go through three tiers: the alias dictionary, embedding similarity
// against the canonical labels and a generative fallback whose answers are validated
// against the taxonomy.
package normalize

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/logger"
	"github.com/spigell/pds-matcher/internal/taxonomy"
	"github.com/spigell/pds-matcher/internal/textsim"
	"go.uber.org/zap"
)

const (
	DefaultMinInputLength         = 2
	DefaultEmbeddingThreshold     = 0.82
	DefaultLowConfidenceThreshold = 0.6
	DefaultProviderTimeout        = 8 * time.Second
	defaultMaxLogLength           = 200
)

// Options tunes the engine. Zero values fall back to the defaults.
type Options struct {
	MinInputLength         int           `mapstructure:"min-input-length"`
	EmbeddingThreshold     float64       `mapstructure:"embedding-threshold"`
	LowConfidenceThreshold float64       `mapstructure:"low-confidence-threshold"`
	ProviderTimeout        time.Duration `mapstructure:"provider-timeout"`
	IncludeAliases         bool          `mapstructure:"include-aliases"`
	MaxLogLength           int           `mapstructure:"max-log-length"`
}

// ApplyDefaults fills unset fields.
func (o *Options) ApplyDefaults() {
	if o.MinInputLength <= 0 {
		o.MinInputLength = DefaultMinInputLength
	}
	if o.EmbeddingThreshold <= 0 {
		o.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
	if o.LowConfidenceThreshold <= 0 {
		o.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = DefaultProviderTimeout
	}
	if o.MaxLogLength <= 0 {
		o.MaxLogLength = defaultMaxLogLength
	}
}

// Engine normalizes raw values. It is safe for concurrent use.
type Engine struct {
	taxonomies *taxonomy.Set
	embedder   ai.Embedder
	generator  ai.Generator
	opts       Options
	logger     *zap.Logger

	indexes map[taxonomy.Domain]*labelIndex
}

// New builds an engine over the given taxonomies. embedder and generator may be nil, in
// which case the corresponding tier is skipped.
func New(set *taxonomy.Set, embedder ai.Embedder, generator ai.Generator, opts Options, log *zap.Logger) *Engine {
	opts.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		taxonomies: set,
		embedder:   embedder,
		generator:  generator,
		opts:       opts,
		logger:     log,
		indexes:    make(map[taxonomy.Domain]*labelIndex),
	}
	for _, domain := range []taxonomy.Domain{taxonomy.DomainDegree, taxonomy.DomainEligibility} {
		if tax := set.For(domain); tax != nil {
			e.indexes[domain] = &labelIndex{}
		}
	}
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Normalize maps raw to a canonical key of the domain's taxonomy. It never fails: input
// problems and provider errors end in a fallback Result with an empty key.
func (e *Engine) Normalize(ctx context.Context, domain taxonomy.Domain, raw string) Result {
	tax := e.taxonomies.For(domain)
	if tax == nil {
		e.logger.Warn("no taxonomy loaded for domain", zap.String(logger.FieldDomain, string(domain)))
		return nullResult(domain, raw)
	}

	folded := textsim.Normalize(raw)
	if folded == "" || utf8.RuneCountInString(folded) < e.opts.MinInputLength {
		return nullResult(domain, raw)
	}

	if entry, ok := tax.Lookup(raw); ok {
		return entryResult(domain, raw, entry, MethodDictionary, 1.0)
	}

	if res, ok := e.byEmbedding(ctx, tax, raw); ok {
		return res
	}

	if res, ok := e.byGeneration(ctx, tax, raw); ok {
		return res
	}

	e.logger.Debug("value left unmapped",
		append(logger.TierFields(string(domain), string(MethodFallback)), zap.String("input", raw))...,
	)
	return nullResult(domain, raw)
}

// Warm builds the embedding label indexes up front. It is a no-op without an embedder.
func (e *Engine) Warm(ctx context.Context) error {
	if e.embedder == nil {
		return nil
	}
	for _, domain := range []taxonomy.Domain{taxonomy.DomainDegree, taxonomy.DomainEligibility} {
		tax := e.taxonomies.For(domain)
		if tax == nil {
			continue
		}
		if _, err := e.labelIndex(ctx, tax); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) tierLogger(domain taxonomy.Domain, method Method) *zap.Logger {
	return logger.WithFields(e.logger, logger.TierFields(string(domain), string(method))...)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.ProviderTimeout)
}

type indexedLabel struct {
	key string
	vec []float32
}

type labelIndex struct {
	mu     sync.Mutex
	ready  bool
	labels []indexedLabel
}
