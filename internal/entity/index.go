package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/ziadkadry99/automind/internal/vectordb"
)

// BuildIndex loads every entity of the cached view into store for semantic
// matching. Re-indexing an entity replaces its previous document.
func BuildIndex(ctx context.Context, r *Resolver, cache *Cache, store vectordb.VectorStore) (int, error) {
	if err := r.Load(ctx, cache); err != nil {
		return 0, err
	}
	entities := cache.Entities()
	docs := make([]vectordb.Document, 0, len(entities))
	for _, e := range entities {
		docs = append(docs, vectordb.Document{
			ID:      e.ID,
			Content: describe(e),
			Metadata: vectordb.DocumentMetadata{
				Name:   e.Name,
				Domain: e.Domain,
				AreaID: e.AreaID,
			},
		})
	}
	if err := store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("indexing entities: %w", err)
	}
	return len(docs), nil
}

func describe(e Entity) string {
	parts := append([]string(nil), e.Aliases...)
	parts = append(parts, e.Domain)
	if e.AreaID != "" {
		parts = append(parts, strings.ReplaceAll(e.AreaID, "_", " "))
	}
	return strings.Join(parts, " ")
}
