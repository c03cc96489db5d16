package clarify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
)

// EntityResolver resolves entity references within one resolution pass.
type EntityResolver interface {
	Resolve(ctx context.Context, cache *entity.Cache, ref string) (*entity.Entity, error)
}

var parameterPrompts = map[string]string{
	intent.MissingTrigger: `When should this run? For example "at 7:00 AM", "every 10 minutes" or "when the front door opens".`,
	intent.MissingAction:  `What should happen? For example "turn on the porch light".`,
}

// Detect resolves every mention in draft and returns the draft with
// resolved mentions bound to entity ids, plus one question per remaining
// ambiguity: an ambiguous or unknown mention, or a missing parameter.
func Detect(ctx context.Context, r EntityResolver, cache *entity.Cache, draft intent.Intent) (intent.Intent, []Question, error) {
	out := draft.Clone()
	var questions []Question
	next := func() string { return "q" + strconv.Itoa(len(questions)+1) }

	for _, mention := range draft.Mentions() {
		e, err := r.Resolve(ctx, cache, mention)
		if err == nil {
			out = out.Bind(mention, e.ID)
			continue
		}
		var ambiguous *entity.AmbiguousReferenceError
		switch {
		case errors.As(err, &ambiguous):
			q := Question{
				ID:      next(),
				Kind:    QuestionEntity,
				Mention: mention,
				Prompt:  fmt.Sprintf("Which %q do you mean?", mention),
			}
			for _, c := range ambiguous.Candidates {
				q.Candidates = append(q.Candidates, Candidate{EntityID: c.ID, Name: c.Name, AreaID: c.AreaID})
			}
			questions = append(questions, q)
		case entity.IsNotFound(err):
			questions = append(questions, Question{
				ID:      next(),
				Kind:    QuestionEntity,
				Mention: mention,
				Prompt:  fmt.Sprintf("I could not find %q. Which entity id did you mean?", mention),
			})
		default:
			return draft, nil, fmt.Errorf("resolving %q: %w", mention, err)
		}
	}

	for _, missing := range draft.Missing {
		prompt := parameterPrompts[missing]
		if draft.ProviderFailed && missing == intent.MissingTrigger {
			prompt = "I could not work out when this should run. " + prompt
		}
		questions = append(questions, Question{
			ID:        next(),
			Kind:      QuestionParameter,
			Parameter: missing,
			Prompt:    prompt,
		})
	}
	return out, questions, nil
}

// Interpret maps a typed reply onto one of the question's candidates: a
// 1-based index, an entity id, or a name. It reports false when the reply
// matches no candidate or more than one.
func (q Question) Interpret(reply string) (string, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", false
	}
	if len(q.Candidates) == 0 {
		return reply, strings.Contains(reply, ".")
	}
	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(q.Candidates) {
			return q.Candidates[n-1].EntityID, true
		}
		return "", false
	}
	lower := strings.ToLower(reply)
	for _, c := range q.Candidates {
		if c.EntityID == lower || strings.ToLower(c.Name) == lower {
			return c.EntityID, true
		}
	}
	var found []string
	for _, c := range q.Candidates {
		if strings.Contains(strings.ToLower(c.Name), lower) || strings.Contains(c.EntityID, lower) ||
			(c.AreaID != "" && strings.Contains(lower, strings.ReplaceAll(c.AreaID, "_", " "))) {
			found = append(found, c.EntityID)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}
