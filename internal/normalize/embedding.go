package normalize

import (
	"context"
	"fmt"

	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/logger"
	"github.com/spigell/pds-matcher/internal/taxonomy"
	"github.com/spigell/pds-matcher/internal/textsim"
	"go.uber.org/zap"
)

func (e *Engine) byEmbedding(ctx context.Context, tax *taxonomy.Taxonomy, raw string) (Result, bool) {
	if e.embedder == nil {
		return Result{}, false
	}
	log := e.tierLogger(tax.Domain(), MethodEmbedding)

	labels, err := e.labelIndex(ctx, tax)
	if err != nil {
		log.Warn("embedding index unavailable", zap.Error(err))
		return Result{}, false
	}

	vec, err := e.embed(ctx, raw)
	if err != nil {
		log.Warn("embedding lookup failed", zap.String("input", raw), zap.Error(err))
		return Result{}, false
	}

	bestKey, bestScore := "", 0.0
	for _, label := range labels {
		score := textsim.Cosine(vec, label.vec)
		if score > bestScore {
			bestKey, bestScore = label.key, score
		}
	}

	log.Debug("embedding candidate",
		zap.String("input", raw),
		zap.String("key", bestKey),
		zap.Float64("similarity", bestScore),
		zap.Float64("threshold", e.opts.EmbeddingThreshold),
	)

	if bestKey == "" || bestScore < e.opts.EmbeddingThreshold {
		return Result{}, false
	}
	entry, ok := tax.Entry(bestKey)
	if !ok {
		return Result{}, false
	}
	return entryResult(tax.Domain(), raw, entry, MethodEmbedding, ai.Clamp01(bestScore)), true
}

// labelIndex returns the label embeddings of tax, building them on first use. A failed
// build leaves the index empty so a later call retries.
func (e *Engine) labelIndex(ctx context.Context, tax *taxonomy.Taxonomy) ([]indexedLabel, error) {
	idx, ok := e.indexes[tax.Domain()]
	if !ok {
		return nil, fmt.Errorf("no label index for domain %s", tax.Domain())
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.ready {
		return idx.labels, nil
	}

	var keys, texts []string
	for _, entry := range tax.Entries() {
		keys = append(keys, entry.Key)
		texts = append(texts, entry.Canonical)
		if e.opts.IncludeAliases {
			for _, alias := range entry.Aliases {
				keys = append(keys, entry.Key)
				texts = append(texts, alias)
			}
		}
	}

	vectors, err := e.embedLabels(ctx, keys, texts)
	if err != nil {
		return nil, err
	}
	labels := make([]indexedLabel, len(texts))
	for i := range texts {
		labels[i] = indexedLabel{key: keys[i], vec: vectors[i]}
	}

	idx.labels = labels
	idx.ready = true
	e.logger.Info("embedding label index built",
		zap.String(logger.FieldDomain, string(tax.Domain())),
		zap.Int("labels", len(labels)),
	)
	return labels, nil
}

// embedLabels embeds the label texts in one request when the embedder batches.
func (e *Engine) embedLabels(ctx context.Context, keys, texts []string) ([][]float32, error) {
	if batch, ok := e.embedder.(ai.BatchEmbedder); ok {
		callCtx, cancel := e.withTimeout(ctx)
		defer cancel()
		vectors, err := batch.EmbedTexts(callCtx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d labels: %w", len(texts), err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed labels: got %d vectors for %d labels", len(vectors), len(texts))
		}
		return vectors, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed label %q of %s: %w", text, keys[i], err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.embedder.EmbedText(callCtx, text)
}
