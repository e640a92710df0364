package normalize

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"strings"

	"github.com/spigell/pds-matcher/internal/ai"
	"github.com/spigell/pds-matcher/internal/taxonomy"
	"github.com/spigell/pds-matcher/internal/utils"
	"go.uber.org/zap"
)

//go:embed prompts/normalize.md
var promptTemplate string

func (e *Engine) byGeneration(ctx context.Context, tax *taxonomy.Taxonomy, raw string) (Result, bool) {
	if e.generator == nil {
		return Result{}, false
	}
	log := e.tierLogger(tax.Domain(), MethodGenerative)

	prompt := buildPrompt(tax, raw)
	log.Debug("generative normalization request",
		zap.String("input", raw),
		zap.Int("prompt_length", len(prompt)),
	)

	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	response, err := e.generator.GenerateContent(callCtx, prompt)
	if err != nil {
		log.Warn("generative normalization failed", zap.String("input", raw), zap.Error(err))
		return Result{}, false
	}

	log.Debug("generative normalization response",
		zap.String("input", raw),
		zap.String("response_preview", utils.TruncateForLog(response, e.opts.MaxLogLength)),
	)

	res, err := e.validate(tax, raw, response)
	if err != nil {
		log.Warn("generative answer rejected", zap.String("input", raw), zap.Error(err))
		return Result{}, false
	}
	if !res.Matched() {
		return Result{}, false
	}

	if res.LowConfidence {
		log.Info("low-confidence normalization",
			zap.String("input", raw),
			zap.String("key", res.CanonicalKey),
			zap.Float64("confidence", res.Confidence),
		)
	}
	return res, true
}

// validate turns an untrusted model answer into a Result. The key must exist in tax; a
// label echoed back instead of a key is resolved through the alias dictionary.
func (e *Engine) validate(tax *taxonomy.Taxonomy, raw, response string) (Result, error) {
	data, err := ai.ParseObject(response)
	if err != nil {
		return Result{}, err
	}

	key := ai.CoerceString(data["key"])
	switch strings.ToUpper(key) {
	case "", "NONE", "NULL", "N/A":
		return nullResult(tax.Domain(), raw), nil
	}

	entry, ok := tax.Entry(key)
	if !ok {
		entry, ok = tax.Lookup(key)
	}
	if !ok {
		return Result{}, fmt.Errorf("unknown key %q", key)
	}

	confidence := ai.CoerceFloat(data["confidence"])
	if math.IsNaN(confidence) {
		confidence = 0
	}
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}
	confidence = ai.Clamp01(confidence)

	res := entryResult(tax.Domain(), raw, entry, MethodGenerative, confidence)
	res.LowConfidence = confidence < e.opts.LowConfidenceThreshold
	res.Reasoning = ai.CoerceString(data["reasoning"])
	return res, nil
}

func buildPrompt(tax *taxonomy.Taxonomy, raw string) string {
	var candidates strings.Builder
	for _, entry := range tax.Entries() {
		fmt.Fprintf(&candidates, "%s: %s\n", entry.Key, entry.Canonical)
	}

	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Domain: {{DOMAIN}}\nInput: {{INPUT}}\nCandidates:\n{{CANDIDATES}}\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{DOMAIN}}", string(tax.Domain()))
	prompt = strings.ReplaceAll(prompt, "{{INPUT}}", strings.TrimSpace(raw))
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATES}}", strings.TrimRight(candidates.String(), "\n"))
	return prompt
}
