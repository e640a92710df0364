package cache

import (
	"context"
	"fmt"

	"github.com/spigell/pds-matcher/internal/ai"
	"go.uber.org/zap"
)

// Embedder memoizes an ai.Embedder through a Store. Store failures are logged and bypassed.
type Embedder struct {
	inner  ai.Embedder
	store  Store
	model  string
	logger *zap.Logger
}

// NewEmbedder wraps inner. model scopes the cache keys so vectors of different models never mix.
func NewEmbedder(inner ai.Embedder, store Store, model string, logger *zap.Logger) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemory()
	}
	return &Embedder{inner: inner, store: store, model: model, logger: logger}
}

// Model reports the model of the wrapped embedder.
func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := Key(e.model, text)

	vec, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Warn("embedding cache read failed", zap.Error(err))
	}
	if ok {
		return vec, nil
	}

	vec, err = e.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.store.Set(ctx, key, vec); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

// EmbedTexts serves cached vectors and embeds the misses, in one batch when the wrapped
// embedder supports it.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		vec, ok, err := e.store.Get(ctx, Key(e.model, text))
		if err != nil {
			e.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		if ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}

	vectors, err := e.embedMissing(ctx, pending)
	if err != nil {
		return nil, err
	}

	for j, i := range missing {
		out[i] = vectors[j]
		if err := e.store.Set(ctx, Key(e.model, texts[i]), vectors[j]); err != nil {
			e.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (e *Embedder) embedMissing(ctx context.Context, texts []string) ([][]float32, error) {
	if batch, ok := e.inner.(ai.BatchEmbedder); ok {
		vectors, err := batch.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.inner.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}
