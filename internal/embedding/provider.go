package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/statquery/statquery/internal/config"
)

// Provider generates embeddings for similarity ranking of few-shot examples.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// NewProvider resolves the configured embedding backend. A disabled
// configuration yields a nil Provider, which callers treat as "use lexical
// ranking".
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg)
	case "ollama":
		return newOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
