package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/automind/internal/suggest"
	"github.com/ziadkadry99/automind/internal/vectordb"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the automation engine as tools.
type Server struct {
	engine *suggest.Engine
	index  vectordb.VectorStore
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server. index may be nil, in which case
// search_entities is not offered.
func NewServer(engine *suggest.Engine, index vectordb.VectorStore) *Server {
	s := &Server{
		engine: engine,
		index:  index,
	}

	s.mcp = server.NewMCPServer(
		"automind",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(requestAutomationTool, s.handleRequestAutomation)
	s.mcp.AddTool(answerClarificationTool, s.handleAnswerClarification)
	s.mcp.AddTool(listSuggestionsTool, s.handleListSuggestions)
	s.mcp.AddTool(acceptSuggestionTool, s.handleAcceptSuggestion)
	if s.index != nil {
		s.mcp.AddTool(searchEntitiesTool, s.handleSearchEntities)
	}
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
