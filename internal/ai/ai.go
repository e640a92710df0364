package ai

import (
	"context"
)

// Generator produces free text for a prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one provider round trip. Vectors follow the order
// of texts.
type BatchEmbedder interface {
	Embedder
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Modeler is implemented by providers that can report the model they call.
type Modeler interface {
	Model() string
}

// ModelOf returns the model name of p when it reports one.
func ModelOf(p any) string {
	if m, ok := p.(Modeler); ok {
		return m.Model()
	}
	return ""
}

// EmbeddingModelOf returns the embedding model of p. Providers serving both roles report it
// through EmbeddingModel; single-purpose embedders through Model.
func EmbeddingModelOf(p any) string {
	if m, ok := p.(interface{ EmbeddingModel() string }); ok {
		return m.EmbeddingModel()
	}
	return ModelOf(p)
}
