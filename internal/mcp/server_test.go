package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/automind/internal/automation"
	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/db"
	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/registry"
	"github.com/ziadkadry99/automind/internal/suggest"
	"github.com/ziadkadry99/automind/internal/vectordb"
)

// mockStore implements vectordb.VectorStore for testing.
type mockStore struct {
	docs []vectordb.Document
}

func (m *mockStore) AddDocuments(_ context.Context, docs []vectordb.Document) error {
	m.docs = append(m.docs, docs...)
	return nil
}

func (m *mockStore) Search(_ context.Context, query string, limit int, filter *vectordb.SearchFilter) ([]vectordb.SearchResult, error) {
	var results []vectordb.SearchResult
	for _, doc := range m.docs {
		if filter != nil && filter.Domain != nil && doc.Metadata.Domain != *filter.Domain {
			continue
		}
		results = append(results, vectordb.SearchResult{
			Document:   doc,
			Similarity: 0.95,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *mockStore) Delete(_ context.Context, _ ...string) error { return nil }
func (m *mockStore) Persist(_ context.Context, _ string) error   { return nil }
func (m *mockStore) Load(_ context.Context, _ string) error      { return nil }
func (m *mockStore) Count() int                                  { return len(m.docs) }

func newTestServer(t *testing.T, index vectordb.VectorStore) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	static := registry.NewStatic([]registry.Entry{
		{EntityID: "switch.coffee_maker", Name: "Coffee Maker", AreaID: "kitchen"},
		{EntityID: "light.bedroom_lamp", Name: "Bedroom Lamp", AreaID: "bedroom"},
		{EntityID: "light.living_room_lamp", Name: "Living Room Lamp", AreaID: "living_room"},
	}, nil)
	resolver := entity.NewResolver(static)
	engine := suggest.NewEngine(
		intent.NewParser(nil, "", nil),
		resolver,
		automation.NewGenerator(resolver, nil),
		clarify.NewManager(10*time.Minute, time.Minute, nil),
		suggest.NewStore(database),
		nil,
	)
	return NewServer(engine, index)
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name     string
		tool     mcp.Tool
		wantName string
	}{
		{"request_automation", requestAutomationTool, "request_automation"},
		{"answer_clarification", answerClarificationTool, "answer_clarification"},
		{"list_suggestions", listSuggestionsTool, "list_suggestions"},
		{"accept_suggestion", acceptSuggestionTool, "accept_suggestion"},
		{"search_entities", searchEntitiesTool, "search_entities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description is empty")
			}
		})
	}
}

func TestRequestAutomationGenerates(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleRequestAutomation(context.Background(), callRequest(map[string]any{
		"text": "Turn on the coffee maker at 7:00 AM",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	text := resultText(t, result)
	if !strings.Contains(text, "switch.coffee_maker") || !strings.Contains(text, "07:00:00") {
		t.Errorf("expected YAML for the coffee maker, got:\n%s", text)
	}
}

func TestRequestAutomationMissingText(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleRequestAutomation(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing text")
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	result, err := s.handleRequestAutomation(ctx, callRequest(map[string]any{
		"text": "Turn on the lamp at 8:00 AM",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Clarification needed") || !strings.Contains(text, "light.bedroom_lamp") {
		t.Fatalf("expected a clarification with candidates, got:\n%s", text)
	}

	sessions := s.engine.Sessions().List()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	sessionID := sessions[0].ID

	t.Run("needs an answer", func(t *testing.T) {
		result, err := s.handleAnswerClarification(ctx, callRequest(map[string]any{
			"session_id":  sessionID,
			"question_id": "q1",
		}))
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if !result.IsError {
			t.Error("expected tool error without entity_id or text")
		}
	})

	t.Run("unknown question", func(t *testing.T) {
		result, err := s.handleAnswerClarification(ctx, callRequest(map[string]any{
			"session_id":  sessionID,
			"question_id": "q9",
			"entity_id":   "light.bedroom_lamp",
		}))
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if !result.IsError {
			t.Error("expected tool error for unknown question")
		}
	})

	result, err = s.handleAnswerClarification(ctx, callRequest(map[string]any{
		"session_id":  sessionID,
		"question_id": "q1",
		"entity_id":   "light.bedroom_lamp",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	text = resultText(t, result)
	if !strings.Contains(text, "generated") || !strings.Contains(text, "light.bedroom_lamp") {
		t.Errorf("expected generated automation, got:\n%s", text)
	}
}

func TestListSuggestionsBeforeDetection(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleListSuggestions(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "No detection run") {
		t.Errorf("unexpected text: %s", text)
	}
}

func TestAcceptUnknownSuggestion(t *testing.T) {
	s := newTestServer(t, nil)

	result, err := s.handleAcceptSuggestion(context.Background(), callRequest(map[string]any{
		"suggestion_id": "nope",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for unknown suggestion")
	}
}

func TestSearchEntities(t *testing.T) {
	store := &mockStore{}
	store.AddDocuments(context.Background(), []vectordb.Document{
		{ID: "light.porch", Content: "Porch Light", Metadata: vectordb.DocumentMetadata{Name: "Porch Light", Domain: "light", AreaID: "outside"}},
		{ID: "switch.coffee_maker", Content: "Coffee Maker", Metadata: vectordb.DocumentMetadata{Name: "Coffee Maker", Domain: "switch"}},
	})
	s := newTestServer(t, store)

	result, err := s.handleSearchEntities(context.Background(), callRequest(map[string]any{
		"query":  "driveway light",
		"domain": "light",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "light.porch") {
		t.Errorf("expected light.porch in results, got:\n%s", text)
	}
	if strings.Contains(text, "switch.coffee_maker") {
		t.Errorf("domain filter ignored:\n%s", text)
	}
}
