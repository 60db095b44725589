// Package embedders maps text to dense vectors behind a single
// capability interface. A corpus is bound to one model for its whole
// lifetime; vectors from different models are not comparable.
package embedders

import (
	"context"
	"fmt"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// Kind tells asymmetric models which side of retrieval a text is on.
type Kind string

const (
	// KindDocument marks corpus text being indexed.
	KindDocument Kind = "document"

	// KindQuery marks a retrieval query.
	KindQuery Kind = "query"
)

// Embedder is a single embedding model endpoint.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, kind Kind) ([][]float32, error)

	// Dimensions reports the vector width this model produces.
	Dimensions() int

	// Model returns the model identifier.
	Model() string
}

// New builds the embedder named by the config.
func New(cfg *config.EmbedderConfig) (Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}
	switch cfg.Provider {
	case config.EmbedderProviderOllama:
		return NewOllamaEmbedder(cfg)
	case config.EmbedderProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}

// checkDimensions rejects vectors that do not match the configured
// width. A silent mismatch would poison the index for every later
// query.
func checkDimensions(vec []float32, want int, model string) error {
	if len(vec) != want {
		return fmt.Errorf("model %s returned %d dimensions, expected %d (reindex after changing models)",
			model, len(vec), want)
	}
	return nil
}
