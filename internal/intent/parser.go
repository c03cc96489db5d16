package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/llm"
)

// Parser parses requests with the rule-based grammar and, when that leaves
// gaps, with a completion provider.
type Parser struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewParser creates a parser. provider may be nil, in which case gaps go
// straight to clarification.
func NewParser(provider llm.Provider, model string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{provider: provider, model: model, logger: logger}
}

// Parse parses text. Provider failures are not returned: the intent comes
// back with its gaps listed in Missing and ProviderFailed set. Only caller
// cancellation is an error.
func (p *Parser) Parse(ctx context.Context, text string) (Intent, error) {
	in := ParseRules(text)
	if in.Complete() || p.provider == nil {
		return in, nil
	}

	p.logger.Debug("rule parser left gaps, asking completion provider",
		zap.Strings("missing", in.Missing),
		zap.String("provider", p.provider.Name()),
	)
	fromLLM, err := p.complete(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return Intent{}, ctx.Err()
		}
		p.logger.Warn("completion provider unavailable, falling back to clarification",
			zap.Error(err),
			zap.Strings("missing", in.Missing),
		)
		in.ProviderFailed = true
		return in, nil
	}
	return merge(in, fromLLM), nil
}

func (p *Parser) complete(ctx context.Context, text string) (Intent, error) {
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: "Request: " + text},
		},
		MaxTokens:   1024,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("parsing request: %w", err)
	}
	return parseCompletion(resp.Content)
}

// merge fills the gaps of the rule-based intent from the provider's.
func merge(rules, fromLLM Intent) Intent {
	out := rules.Clone()
	if out.Trigger == nil && fromLLM.Trigger != nil {
		t := *fromLLM.Trigger
		if t.Phrase == "" {
			t.Phrase = rules.Request
		}
		out.Trigger = &t
	}
	if len(out.Actions) == 0 {
		out.Actions = append(out.Actions, fromLLM.Actions...)
	}
	if len(out.Conditions) == 0 {
		out.Conditions = append(out.Conditions, fromLLM.Conditions...)
	}
	out.computeMissing()
	return out
}

const systemPrompt = `You convert smart-home automation requests into JSON. Respond with valid JSON matching this schema:
{
  "trigger": {
    "kind": "time|time_pattern|state|numeric_state",
    "phrase": "the words of the request that describe the trigger",
    "at": "HH:MM:SS clock time, or an input_datetime entity id the user named (time only)",
    "offset": "[-]HH:MM:SS shift of an entity-valued at, such as -00:10:00 for ten minutes before (time only)",
    "hours": "repetition such as /2 (time_pattern only)",
    "minutes": "repetition such as /10 (time_pattern only)",
    "seconds": "repetition such as /30 (time_pattern only)",
    "entity": "the device mentioned (state and numeric_state only)",
    "to": "target state (state only)",
    "above": 0,
    "below": 0
  },
  "actions": [{"verb": "turn_on|turn_off|toggle|open|close|lock|unlock|start|stop", "entity": "the device mentioned"}],
  "conditions": [{"entity": "the device mentioned", "state": "required state"}]
}

Rules:
- Use "time" only for a specific clock time. Any repetition ("every 10 minutes") is "time_pattern" with the cadence in hours, minutes or seconds. Never put a repetition in "at".
- Copy device names as the user wrote them. Do not invent entity ids.
- Omit fields that do not apply. Use null for the trigger or an empty actions list when the request does not say.`

type completion struct {
	Trigger *struct {
		Kind    string   `json:"kind"`
		Phrase  string   `json:"phrase"`
		At      string   `json:"at"`
		Offset  string   `json:"offset"`
		Hours   string   `json:"hours"`
		Minutes string   `json:"minutes"`
		Seconds string   `json:"seconds"`
		Entity  string   `json:"entity"`
		To      string   `json:"to"`
		From    string   `json:"from"`
		Above   *float64 `json:"above"`
		Below   *float64 `json:"below"`
	} `json:"trigger"`
	Actions    []Action    `json:"actions"`
	Conditions []Condition `json:"conditions"`
}

// parseCompletion decodes the provider's JSON, which may be wrapped in a
// markdown code block. A trigger that breaks the trigger grammar is dropped
// so that it is asked for instead of generated.
func parseCompletion(content string) (Intent, error) {
	jsonStr := content
	if idx := strings.Index(content, "{"); idx >= 0 {
		jsonStr = content[idx:]
	}
	if idx := strings.LastIndex(jsonStr, "}"); idx >= 0 {
		jsonStr = jsonStr[:idx+1]
	}

	var c completion
	if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
		return Intent{}, fmt.Errorf("%w: decoding completion: %v", llm.ErrProvider, err)
	}

	var in Intent
	if c.Trigger != nil {
		t := Trigger{
			Kind:    TriggerKind(c.Trigger.Kind),
			Phrase:  c.Trigger.Phrase,
			At:      c.Trigger.At,
			Offset:  c.Trigger.Offset,
			Hours:   c.Trigger.Hours,
			Minutes: c.Trigger.Minutes,
			Seconds: c.Trigger.Seconds,
			Entity:  cleanMention(strings.ToLower(c.Trigger.Entity)),
			To:      c.Trigger.To,
			From:    c.Trigger.From,
			Above:   c.Trigger.Above,
			Below:   c.Trigger.Below,
		}
		if t.Kind == KindTime && !strings.Contains(t.At, ".") {
			if d, ok := DeriveTrigger("at " + t.At); ok && d.Kind == KindTime {
				t.At = d.At
			}
		}
		if wellFormed(t) {
			in.Trigger = &t
		}
	}
	for _, a := range c.Actions {
		a.Entity = cleanMention(strings.ToLower(a.Entity))
		if a.Verb != "" && a.Entity != "" {
			in.Actions = append(in.Actions, a)
		}
	}
	for _, cond := range c.Conditions {
		cond.Entity = cleanMention(strings.ToLower(cond.Entity))
		if cond.Entity != "" && cond.State != "" {
			in.Conditions = append(in.Conditions, cond)
		}
	}
	return in, nil
}

// wellFormed rejects provider triggers that mix kinds, such as a repetition
// carried in the clock-time field.
func wellFormed(t Trigger) bool {
	if t.Offset != "" && (t.Kind != KindTime || IsClockTime(t.At)) {
		return false
	}
	switch t.Kind {
	case KindTime:
		return t.At != "" && !strings.Contains(t.At, "/") && t.Hours == "" && t.Minutes == "" && t.Seconds == ""
	case KindTimePattern:
		return t.At == "" && (t.Hours != "" || t.Minutes != "" || t.Seconds != "")
	case KindState:
		return t.Entity != ""
	case KindNumericState:
		return t.Entity != "" && (t.Above != nil || t.Below != nil)
	}
	return false
}
