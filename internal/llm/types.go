package llm

import "strings"

// Role is the author of a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// defaultMaxTokens caps a completion when the caller leaves MaxTokens unset.
// Parsed intents are small JSON objects.
const defaultMaxTokens = 1024

// jsonInstruction is appended to the system prompt for providers without a
// native JSON response mode.
const jsonInstruction = "Respond with a single JSON object and nothing else."

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest asks a provider for one completion. Model and MaxTokens
// fall back to provider defaults when zero.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode asks for a single JSON object as the completion.
	JSONMode bool
}

// resolve fills in the provider's model and the default token cap.
func (r CompletionRequest) resolve(model string) CompletionRequest {
	if r.Model == "" {
		r.Model = model
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = defaultMaxTokens
	}
	return r
}

// splitSystem separates system text from the conversation turns, for APIs
// that take the system prompt as its own field.
func (r CompletionRequest) splitSystem() (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// CompletionResponse is a provider's answer with token accounting.
type CompletionResponse struct {
	Content      string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}
