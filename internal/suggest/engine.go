package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/automation"
	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/synergy"
)

var (
	// ErrEmptyRequest is returned for a blank automation request.
	ErrEmptyRequest = errors.New("request text is empty")
	// ErrOpportunityNotFound is returned when a suggestion id is not in the
	// latest detection run.
	ErrOpportunityNotFound = errors.New("suggestion not found")
)

// Engine turns requests into automations, asking clarification questions
// when a request is ambiguous.
type Engine struct {
	parser    *intent.Parser
	resolver  *entity.Resolver
	generator *automation.Generator
	sessions  *clarify.Manager
	store     *Store
	submitter automation.Submitter
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSubmitter submits every generated automation to the runtime.
func WithSubmitter(s automation.Submitter) EngineOption {
	return func(e *Engine) { e.submitter = s }
}

// NewEngine creates an engine.
func NewEngine(parser *intent.Parser, resolver *entity.Resolver, generator *automation.Generator, sessions *clarify.Manager, store *Store, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		parser:    parser,
		resolver:  resolver,
		generator: generator,
		sessions:  sessions,
		store:     store,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the clarification session manager.
func (e *Engine) Sessions() *clarify.Manager { return e.sessions }

// Request handles a free-text automation request. A request with no
// ambiguity yields an automation directly; otherwise a session is opened
// and its questions returned.
func (e *Engine) Request(ctx context.Context, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyRequest
	}
	in, err := e.parser.Parse(ctx, text)
	if err != nil {
		return nil, err
	}

	cache := entity.NewCache()
	draft, questions, err := clarify.Detect(ctx, e.resolver, cache, in)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return e.finish(ctx, cache, draft, Automation{Request: text})
	}

	s, eff, err := e.sessions.Open(ctx, text, draft, questions)
	if err != nil {
		return nil, err
	}
	e.logger.Info("request needs clarification",
		zap.String("session_id", s.ID),
		zap.Int("questions", len(eff.Pending)),
	)
	return &Outcome{Status: OutcomeNeedsAnswers, SessionID: s.ID, Questions: eff.Pending}, nil
}

// Answer applies a batch of answers to a session. Once every question is
// answered the automation is generated.
func (e *Engine) Answer(ctx context.Context, sessionID string, answers []clarify.Answer) (*Outcome, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	// Status is checked before binding so a dead session never reports a
	// binding error.
	switch s.Status {
	case clarify.StatusExpired:
		return nil, clarify.ErrSessionExpired
	case clarify.StatusOpen:
	default:
		return nil, fmt.Errorf("%w: session is %s", clarify.ErrSessionClosed, s.Status)
	}
	cache := entity.NewCache()
	bound, err := e.bindAnswers(ctx, cache, s, answers)
	if err != nil {
		return nil, err
	}

	s, eff, err := e.sessions.Answer(ctx, sessionID, bound)
	if err != nil {
		return nil, err
	}
	if eff.Kind != clarify.EffectGenerate {
		return &Outcome{Status: OutcomeNeedsAnswers, SessionID: s.ID, Questions: eff.Pending}, nil
	}
	return e.finish(ctx, cache, *eff.Intent, Automation{Request: s.Request, SessionID: s.ID})
}

// bindAnswers checks free-form entity answers against the entity view and
// resolves the entity mentions inside parameter answers, so that applying
// the answers needs no further lookups.
func (e *Engine) bindAnswers(ctx context.Context, cache *entity.Cache, s clarify.Session, answers []clarify.Answer) ([]clarify.Answer, error) {
	questions := make(map[string]clarify.Question, len(s.Questions))
	for _, q := range s.Questions {
		questions[q.ID] = q
	}

	out := make([]clarify.Answer, len(answers))
	for i, a := range answers {
		out[i] = a
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		switch q.Kind {
		case clarify.QuestionEntity:
			if len(q.Candidates) > 0 || a.EntityID == "" {
				continue
			}
			ent, err := e.resolver.Resolve(ctx, cache, a.EntityID)
			if err != nil {
				return nil, answerError(q, a.EntityID, err)
			}
			out[i].EntityID = ent.ID
		case clarify.QuestionParameter:
			var partial intent.Intent
			switch q.Parameter {
			case intent.MissingTrigger:
				t, ok := intent.DeriveTrigger(a.Text)
				if !ok {
					continue
				}
				partial.Trigger = &t
			case intent.MissingAction:
				partial.Actions = intent.ParseRules(a.Text).Actions
			}
			mentions := partial.Mentions()
			if len(mentions) == 0 {
				continue
			}
			bindings := make(map[string]string, len(mentions))
			for k, v := range a.Bindings {
				bindings[k] = v
			}
			for _, m := range mentions {
				if _, done := bindings[m]; done {
					continue
				}
				ent, err := e.resolver.Resolve(ctx, cache, m)
				if err != nil {
					return nil, answerError(q, m, err)
				}
				bindings[m] = ent.ID
			}
			out[i].Bindings = bindings
		}
	}
	return out, nil
}

func answerError(q clarify.Question, mention string, err error) error {
	var ambiguous *entity.AmbiguousReferenceError
	if errors.As(err, &ambiguous) || entity.IsNotFound(err) {
		return fmt.Errorf("%w: question %s: %w", clarify.ErrInvalidAnswer, q.ID, err)
	}
	return fmt.Errorf("resolving %q: %w", mention, err)
}

// Accept generates an automation from a suggestion of the latest
// detection run.
func (e *Engine) Accept(ctx context.Context, opportunityID string) (*Outcome, error) {
	run, err := e.store.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrOpportunityNotFound
	}
	for _, op := range run.Opportunities {
		if op.ID != opportunityID {
			continue
		}
		in, err := intentFor(op)
		if err != nil {
			return nil, err
		}
		return e.finish(ctx, entity.NewCache(), in, Automation{Request: in.Request, OpportunityID: op.ID})
	}
	return nil, fmt.Errorf("%w: %s", ErrOpportunityNotFound, opportunityID)
}

// intentFor turns an opportunity into a resolved intent: its trigger shape
// becomes a state or numeric trigger, and each action service becomes a
// verb.
func intentFor(op synergy.Opportunity) (intent.Intent, error) {
	if op.Trigger == nil {
		return intent.Intent{}, &automation.SpecError{Rule: automation.RuleRequiredField, Detail: "suggestion " + op.ID + " has no trigger"}
	}
	t := intent.Trigger{Entity: op.Trigger.EntityID, Phrase: "when " + op.Trigger.String()}
	switch op.Trigger.Kind {
	case patterns.ShapeTo:
		t.Kind = intent.KindState
		t.To = op.Trigger.State
	case patterns.ShapeAbove:
		v := op.Trigger.Threshold
		t.Kind = intent.KindNumericState
		t.Above = &v
	case patterns.ShapeBelow:
		v := op.Trigger.Threshold
		t.Kind = intent.KindNumericState
		t.Below = &v
	}

	in := intent.Intent{Request: "suggestion " + op.ID, Trigger: &t}
	for _, a := range op.Actions {
		verb := strings.TrimSuffix(strings.TrimSuffix(a.Service, "_cover"), "_valve")
		in.Actions = append(in.Actions, intent.Action{Verb: verb, Entity: a.EntityID})
	}
	return in, nil
}

// finish generates the automation, submits it when a submitter is set, and
// records it.
func (e *Engine) finish(ctx context.Context, cache *entity.Cache, in intent.Intent, rec Automation) (*Outcome, error) {
	var spec *automation.Spec
	var err error
	if e.submitter != nil {
		spec, err = e.generator.Deploy(ctx, cache, in, e.submitter)
	} else {
		spec, err = e.generator.Generate(ctx, cache, in)
	}
	if err != nil {
		e.logger.Warn("automation not generated", zap.String("request", rec.Request), zap.Error(err))
		return nil, err
	}

	out, err := automation.RenderYAML(spec)
	if err != nil {
		return nil, fmt.Errorf("rendering automation: %w", err)
	}
	rec.ID = spec.ID
	rec.TriggerKind = spec.Triggers[0].Kind
	rec.Entities = spec.Entities()
	rec.YAML = string(out)
	rec.Submitted = e.submitter != nil
	saved, err := e.store.SaveAutomation(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.logger.Info("automation generated",
		zap.String("automation_id", saved.ID),
		zap.String("trigger", string(saved.TriggerKind)),
		zap.Bool("submitted", saved.Submitted),
	)
	return &Outcome{Status: OutcomeGenerated, SessionID: rec.SessionID, Spec: spec, Automation: saved}, nil
}

// Suggestions returns the opportunities of the latest detection run with
// at least minConfidence, capped at limit when limit is positive. The run
// id is empty when no pass has completed.
func (e *Engine) Suggestions(ctx context.Context, minConfidence float64, limit int) (string, []synergy.Opportunity, error) {
	run, err := e.store.LatestRun(ctx)
	if err != nil || run == nil {
		return "", nil, err
	}
	ops := synergy.FilterByConfidence(run.Opportunities, minConfidence)
	if limit > 0 && limit < len(ops) {
		ops = ops[:limit]
	}
	return run.ID, ops, nil
}

// Automations lists recorded automations, newest first.
func (e *Engine) Automations(ctx context.Context, limit int) ([]Automation, error) {
	return e.store.ListAutomations(ctx, limit)
}
