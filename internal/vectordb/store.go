package vectordb

import "context"

// VectorStore stores entity descriptions and searches them by embedding similarity.
type VectorStore interface {
	// AddDocuments adds or replaces documents in the store.
	AddDocuments(ctx context.Context, docs []Document) error

	// Search performs a semantic search using the query text.
	Search(ctx context.Context, query string, limit int, filter *SearchFilter) ([]SearchResult, error)

	// Delete removes the documents with the given ids.
	Delete(ctx context.Context, ids ...string) error

	// Persist saves the store's data to the given directory.
	Persist(ctx context.Context, dir string) error

	// Load restores the store's data from the given directory.
	Load(ctx context.Context, dir string) error

	// Count returns the total number of documents in the store.
	Count() int
}
