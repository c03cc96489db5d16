package clarify

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ziadkadry99/automind/internal/intent"
)

// Event drives a session transition.
type Event interface{ event() }

// Open moves a created session to open with the given questions.
type Open struct{ Questions []Question }

// AnswerBatch applies answers atomically: all of them or none.
type AnswerBatch struct{ Answers []Answer }

// Resolve turns an answered session into a resolved intent.
type Resolve struct{}

// Tick expires an open session that has been idle past its timeout.
type Tick struct{}

func (Open) event()        {}
func (AnswerBatch) event() {}
func (Resolve) event()     {}
func (Tick) event()        {}

// EffectKind is what the caller should do after a transition.
type EffectKind string

const (
	EffectNone EffectKind = "none"
	// EffectAsk means questions are pending.
	EffectAsk EffectKind = "ask"
	// EffectReady means every question is answered and Resolve may run.
	EffectReady EffectKind = "ready"
	// EffectGenerate carries the resolved intent for the generator.
	EffectGenerate EffectKind = "generate"
	// EffectExpired means the session just expired.
	EffectExpired EffectKind = "expired"
)

// Effect is the side effect a transition asks for.
type Effect struct {
	Kind    EffectKind     `json:"kind"`
	Pending []Question     `json:"pending,omitempty"`
	Intent  *intent.Intent `json:"intent,omitempty"`
}

// Transition applies ev to s at time now. It never modifies s; on error the
// returned session is s unchanged.
func Transition(s Session, ev Event, now time.Time) (Session, Effect, error) {
	switch ev := ev.(type) {
	case Open:
		return open(s, ev, now)
	case AnswerBatch:
		return answer(s, ev, now)
	case Resolve:
		return resolve(s)
	case Tick:
		return tick(s, now)
	}
	return s, Effect{Kind: EffectNone}, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
}

func open(s Session, ev Open, now time.Time) (Session, Effect, error) {
	if s.Status != StatusCreated {
		return s, Effect{Kind: EffectNone}, fmt.Errorf("%w: open from %s", ErrInvalidTransition, s.Status)
	}
	if len(ev.Questions) == 0 {
		return s, Effect{Kind: EffectNone}, fmt.Errorf("%w: open needs at least one question", ErrInvalidTransition)
	}
	seen := map[string]bool{}
	for _, q := range ev.Questions {
		if q.ID == "" || seen[q.ID] {
			return s, Effect{Kind: EffectNone}, fmt.Errorf("%w: question ids must be unique and non-empty", ErrInvalidTransition)
		}
		seen[q.ID] = true
	}

	next := s.clone()
	next.Questions = cloneQuestions(ev.Questions)
	next.Status = StatusOpen
	next.LastActivity = now
	return next, Effect{Kind: EffectAsk, Pending: next.Pending()}, nil
}

func answer(s Session, ev AnswerBatch, now time.Time) (Session, Effect, error) {
	none := Effect{Kind: EffectNone}
	switch {
	case s.Status == StatusExpired:
		return s, none, ErrSessionExpired
	case s.Status == StatusOpen && idle(s, now):
		return s, none, ErrSessionExpired
	case s.Status != StatusOpen:
		return s, none, fmt.Errorf("%w: session is %s", ErrSessionClosed, s.Status)
	}
	if len(ev.Answers) == 0 {
		return s, none, fmt.Errorf("%w: empty answer batch", ErrInvalidAnswer)
	}

	answered := map[string]bool{}
	for _, a := range s.Answers {
		answered[a.QuestionID] = true
	}
	next := s.clone()
	for _, a := range ev.Answers {
		q, ok := s.question(a.QuestionID)
		if !ok {
			return s, none, fmt.Errorf("%w: %q", ErrUnknownQuestion, a.QuestionID)
		}
		if answered[a.QuestionID] {
			return s, none, fmt.Errorf("%w: %q", ErrDuplicateAnswer, a.QuestionID)
		}
		answered[a.QuestionID] = true

		draft, err := apply(next.Draft, q, a)
		if err != nil {
			return s, none, err
		}
		next.Draft = draft
		next.Answers = append(next.Answers, cloneAnswer(a))
	}
	next.LastActivity = now

	if pending := next.Pending(); len(pending) > 0 {
		return next, Effect{Kind: EffectAsk, Pending: pending}, nil
	}
	next.Status = StatusAnswered
	return next, Effect{Kind: EffectReady}, nil
}

// apply merges one answer into the draft intent.
func apply(draft intent.Intent, q Question, a Answer) (intent.Intent, error) {
	switch q.Kind {
	case QuestionEntity:
		id := strings.TrimSpace(a.EntityID)
		if id == "" {
			return draft, fmt.Errorf("%w: question %s needs an entity id", ErrInvalidAnswer, q.ID)
		}
		if len(q.Candidates) > 0 && !slices.ContainsFunc(q.Candidates, func(c Candidate) bool { return c.EntityID == id }) {
			return draft, fmt.Errorf("%w: %s is not one of the offered entities", ErrInvalidAnswer, id)
		}
		if len(q.Candidates) == 0 && !strings.Contains(id, ".") {
			return draft, fmt.Errorf("%w: %q is not an entity id", ErrInvalidAnswer, id)
		}
		return draft.Bind(q.Mention, id), nil

	case QuestionParameter:
		text := strings.TrimSpace(a.Text)
		if text == "" {
			return draft, fmt.Errorf("%w: question %s needs an answer", ErrInvalidAnswer, q.ID)
		}
		out := draft.Clone()
		switch q.Parameter {
		case intent.MissingTrigger:
			t, ok := intent.DeriveTrigger(text)
			if !ok {
				return draft, fmt.Errorf("%w: could not read a trigger from %q", ErrInvalidAnswer, text)
			}
			out.Trigger = &t
		case intent.MissingAction:
			parsed := intent.ParseRules(text)
			if len(parsed.Actions) == 0 {
				return draft, fmt.Errorf("%w: could not read an action from %q", ErrInvalidAnswer, text)
			}
			out.Actions = parsed.Actions
		default:
			return draft, fmt.Errorf("%w: unknown parameter %q", ErrInvalidAnswer, q.Parameter)
		}
		out.Missing = slices.DeleteFunc(out.Missing, func(m string) bool { return m == q.Parameter })
		if len(out.Missing) == 0 {
			out.Missing = nil
		}
		for mention, id := range a.Bindings {
			out = out.Bind(mention, id)
		}
		return out, nil
	}
	return draft, fmt.Errorf("%w: unknown question kind %q", ErrInvalidAnswer, q.Kind)
}

func resolve(s Session) (Session, Effect, error) {
	if s.Status != StatusAnswered {
		return s, Effect{Kind: EffectNone}, fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, s.Status)
	}
	next := s.clone()
	next.Status = StatusResolved
	in := next.Draft.Clone()
	return next, Effect{Kind: EffectGenerate, Intent: &in}, nil
}

func tick(s Session, now time.Time) (Session, Effect, error) {
	if s.Status != StatusOpen || !idle(s, now) {
		return s, Effect{Kind: EffectNone}, nil
	}
	next := s.clone()
	next.Status = StatusExpired
	return next, Effect{Kind: EffectExpired}, nil
}

func idle(s Session, now time.Time) bool {
	return s.Timeout > 0 && now.Sub(s.LastActivity) >= s.Timeout
}
