// Package embeddings turns entity descriptions and user mentions into
// vectors for the semantic entity index.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmbedding wraps every failure reported by an embedding backend.
var ErrEmbedding = errors.New("embedding failed")

// Embedder embeds texts. Implementations return one vector per input, in
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
