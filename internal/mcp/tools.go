package mcp

import "github.com/mark3labs/mcp-go/mcp"

var requestAutomationTool = mcp.NewTool("request_automation",
	mcp.WithDescription("Turn a plain-language request into a Home Assistant automation. Returns the automation YAML, or clarification questions with a session id when the request is ambiguous."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description(`The request, e.g. "turn on the porch light every day at 7 pm"`),
	),
)

var answerClarificationTool = mcp.NewTool("answer_clarification",
	mcp.WithDescription("Answer one clarification question of an open session. Entity questions take entity_id; parameter questions take text."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session id returned by request_automation"),
	),
	mcp.WithString("question_id",
		mcp.Required(),
		mcp.Description("Id of the question being answered, e.g. q1"),
	),
	mcp.WithString("entity_id",
		mcp.Description("Chosen entity id for an entity question"),
	),
	mcp.WithString("text",
		mcp.Description(`Free-text answer for a parameter question, e.g. "every 10 minutes"`),
	),
)

var listSuggestionsTool = mcp.NewTool("list_suggestions",
	mcp.WithDescription("List ranked automation suggestions found in the household's history by the latest detection run."),
	mcp.WithNumber("min_confidence",
		mcp.Description("Drop suggestions below this confidence, 0 to 1 (default 0)"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of suggestions to return (default 10)"),
	),
)

var acceptSuggestionTool = mcp.NewTool("accept_suggestion",
	mcp.WithDescription("Generate the automation for one suggestion from list_suggestions."),
	mcp.WithString("suggestion_id",
		mcp.Required(),
		mcp.Description("Suggestion id"),
	),
)

var searchEntitiesTool = mcp.NewTool("search_entities",
	mcp.WithDescription("Search the household's entities by meaning, e.g. \"something that lights the driveway\"."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language description of the entity"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results to return (default 5)"),
	),
	mcp.WithString("domain",
		mcp.Description("Only return entities of this domain, e.g. light"),
	),
)
