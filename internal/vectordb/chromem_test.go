package vectordb

import (
	"context"
	"math"
	"strings"
	"testing"
)

// mockEmbedder returns deterministic embeddings based on text content.
// Texts sharing words produce similar vectors.
type mockEmbedder struct {
	dims int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims}
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = m.deterministicVector(text)
	}
	return results, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return "mock" }

func (m *mockEmbedder) deterministicVector(text string) []float32 {
	vec := make([]float32, m.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, ch := range word {
			h = (h*31 + int(ch)) % m.dims
		}
		vec[h] += 1.0
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	} else {
		vec[0] = 1
	}
	return vec
}

func testDocs() []Document {
	return []Document{
		{ID: "light.living_room_lamp", Content: "reading lamp living room light", Metadata: DocumentMetadata{Name: "Reading Lamp", Domain: "light", AreaID: "living_room"}},
		{ID: "light.kitchen", Content: "kitchen ceiling light", Metadata: DocumentMetadata{Name: "Kitchen Ceiling", Domain: "light", AreaID: "kitchen"}},
		{ID: "switch.coffee_maker", Content: "coffee maker kitchen switch", Metadata: DocumentMetadata{Name: "Coffee Maker", Domain: "switch", AreaID: "kitchen"}},
	}
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	store, err := NewChromemStore(newMockEmbedder(128))
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	if err := store.AddDocuments(ctx, testDocs()); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if store.Count() != 3 {
		t.Fatalf("Count = %d, want 3", store.Count())
	}

	results, err := store.Search(ctx, "reading lamp", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected limit clamped to collection size, got %d results", len(results))
	}
	if results[0].Document.ID != "light.living_room_lamp" {
		t.Errorf("top result = %s, want light.living_room_lamp", results[0].Document.ID)
	}
	if results[0].Document.Metadata.AreaID != "living_room" {
		t.Errorf("metadata lost: %+v", results[0].Document.Metadata)
	}
}

func TestChromemStore_SearchFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := NewChromemStore(newMockEmbedder(128))
	store.AddDocuments(ctx, testDocs())

	domain := "switch"
	results, err := store.Search(ctx, "kitchen", 5, &SearchFilter{Domain: &domain})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Document.Metadata.Domain != "switch" {
			t.Errorf("filter leaked %s", r.Document.ID)
		}
	}
}

func TestChromemStore_EmptySearch(t *testing.T) {
	store, _ := NewChromemStore(newMockEmbedder(16))
	results, err := store.Search(context.Background(), "anything", 5, nil)
	if err != nil || results != nil {
		t.Errorf("expected nil results on empty store, got %v, %v", results, err)
	}
}

func TestChromemStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, _ := NewChromemStore(newMockEmbedder(64))
	store.AddDocuments(ctx, testDocs())

	if err := store.Delete(ctx, "light.kitchen"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Count() != 2 {
		t.Errorf("Count after delete = %d, want 2", store.Count())
	}
	if err := store.Delete(ctx); err != nil {
		t.Errorf("Delete with no ids should be a no-op: %v", err)
	}
}

func TestChromemStore_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newMockEmbedder(64)

	store, _ := NewChromemStore(emb)
	store.AddDocuments(ctx, testDocs())
	if err := store.Persist(ctx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, _ := NewChromemStore(emb)
	if err := loaded.Load(ctx, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 3 {
		t.Errorf("loaded Count = %d, want 3", loaded.Count())
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(nil); got != "No matching entities." {
		t.Errorf("FormatResults(nil) = %q", got)
	}
	out := FormatResults([]SearchResult{{Document: testDocs()[0], Similarity: 0.91}})
	if !strings.Contains(out, "light.living_room_lamp (Reading Lamp) in living_room") {
		t.Errorf("unexpected output: %s", out)
	}
}
