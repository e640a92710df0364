package ai

import "testing"

type namedModel string

func (n namedModel) Model() string { return string(n) }

type dualModel struct{}

func (dualModel) Model() string          { return "gen-model" }
func (dualModel) EmbeddingModel() string { return "embed-model" }

func TestModelOf(t *testing.T) {
	tests := []struct {
		name      string
		provider  any
		model     string
		embedding string
	}{
		{name: "nil", provider: nil},
		{name: "no model", provider: struct{}{}},
		{name: "single model", provider: namedModel("m1"), model: "m1", embedding: "m1"},
		{name: "dual model", provider: dualModel{}, model: "gen-model", embedding: "embed-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelOf(tt.provider); got != tt.model {
				t.Fatalf("ModelOf = %q, want %q", got, tt.model)
			}
			if got := EmbeddingModelOf(tt.provider); got != tt.embedding {
				t.Fatalf("EmbeddingModelOf = %q, want %q", got, tt.embedding)
			}
		})
	}
}
