package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/suggest"
	"github.com/ziadkadry99/automind/internal/vectordb"
)

func (s *Server) handleRequestAutomation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	out, err := s.engine.Request(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("request failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOutcome(out)), nil
}

func (s *Server) handleAnswerClarification(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	questionID, err := request.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question_id"), nil
	}
	answer := clarify.Answer{
		QuestionID: questionID,
		EntityID:   request.GetString("entity_id", ""),
		Text:       request.GetString("text", ""),
	}
	if answer.EntityID == "" && answer.Text == "" {
		return mcp.NewToolResultError("provide entity_id or text"), nil
	}

	out, err := s.engine.Answer(ctx, sessionID, []clarify.Answer{answer})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("answer rejected: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOutcome(out)), nil
}

func (s *Server) handleListSuggestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	runID, ops, err := s.engine.Suggestions(ctx, request.GetFloat("min_confidence", 0), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing suggestions failed: %v", err)), nil
	}
	if runID == "" {
		return mcp.NewToolResultText("No detection run has completed yet. Run `automind detect` first."), nil
	}
	if len(ops) == 0 {
		return mcp.NewToolResultText("The latest detection run found no suggestions."), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d suggestion(s) from run %s:\n", len(ops), runID))
	for i, op := range ops {
		sb.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, op.ID))
		if op.Trigger != nil {
			sb.WriteString(fmt.Sprintf("   When: %s\n", op.Trigger))
		}
		for _, a := range op.Actions {
			sb.WriteString(fmt.Sprintf("   Do: %s on %s\n", a.Service, a.EntityID))
		}
		sb.WriteString(fmt.Sprintf("   Impact %.3f, confidence %.2f", op.AdvancedImpactScore, op.Confidence))
		if op.ConfidenceDefaulted {
			sb.WriteString(" (default)")
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleAcceptSuggestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("suggestion_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: suggestion_id"), nil
	}
	out, err := s.engine.Accept(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("accept failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatOutcome(out)), nil
}

func (s *Server) handleSearchEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 5)
	if limit <= 0 {
		limit = 5
	}
	var filter *vectordb.SearchFilter
	if domain := request.GetString("domain", ""); domain != "" {
		filter = &vectordb.SearchFilter{Domain: &domain}
	}

	results, err := s.index.Search(ctx, query, limit, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return mcp.NewToolResultText(vectordb.FormatResults(results)), nil
}

// formatOutcome renders an outcome for an AI agent: the automation YAML, or
// the open questions with their candidates.
func formatOutcome(out *suggest.Outcome) string {
	var sb strings.Builder
	if out.Status == suggest.OutcomeGenerated {
		sb.WriteString(fmt.Sprintf("Automation %s generated", out.Automation.ID))
		if out.Automation.Submitted {
			sb.WriteString(" and submitted to Home Assistant")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(out.Automation.YAML)
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Clarification needed (session %s). Answer with answer_clarification:\n", out.SessionID))
	for _, q := range out.Questions {
		sb.WriteString(fmt.Sprintf("\n[%s] %s\n", q.ID, q.Prompt))
		for i, c := range q.Candidates {
			sb.WriteString(fmt.Sprintf("  %d. %s (%s)", i+1, c.EntityID, c.Name))
			if c.AreaID != "" {
				sb.WriteString(fmt.Sprintf(" in %s", c.AreaID))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
