package embedder

import (
	"context"
	"fmt"

	"cortex/internal/config"
)

// Gateway turns text into embedding vectors. Implementations batch where the
// backend supports it and must return one vector per input, in input order.
type Gateway interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the model name that produced the vectors. It is stamped
	// onto every embedding so stores can refuse cross-model comparisons.
	Model() string
}

// New constructs a gateway from configuration.
func New(cfg config.EmbedderConfig) (Gateway, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaGateway(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder requires openai settings")
		}
		return NewOpenAIGateway(*cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}
