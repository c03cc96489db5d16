package embeddings

import (
	"fmt"
	"os"
)

// NewEmbedder creates an embedder for the given provider ("openai" or
// "ollama"). OPENAI_BASE_URL and OLLAMA_HOST redirect the respective client.
func NewEmbedder(provider, model string) (Embedder, error) {
	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		if model == "" {
			model = string(ModelTextEmbedding3Small)
		}
		return NewOpenAIEmbedderWithBaseURL(apiKey, os.Getenv("OPENAI_BASE_URL"), OpenAIModel(model)), nil

	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(model, 768, os.Getenv("OLLAMA_HOST")), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
