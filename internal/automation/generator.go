package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
)

// EntityResolver resolves entity references within one resolution pass.
type EntityResolver interface {
	Resolve(ctx context.Context, cache *entity.Cache, ref string) (*entity.Entity, error)
}

// Generator turns resolved intents into validated specs.
type Generator struct {
	resolver EntityResolver
	logger   *zap.Logger
	newID    func() string
}

// NewGenerator creates a generator.
func NewGenerator(resolver EntityResolver, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		resolver: resolver,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
	}
}

// Generate builds and validates the spec for in. Every failure other than
// cancellation is a *SpecError naming the violated rule.
func (g *Generator) Generate(ctx context.Context, cache *entity.Cache, in intent.Intent) (*Spec, error) {
	if !in.Complete() {
		return nil, specErr(RuleIncompleteIntent, "request is missing %s", strings.Join(in.Missing, ", "))
	}
	if in.Trigger == nil {
		return nil, specErr(RuleRequiredField, "request has no trigger")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := map[string]entity.Entity{}
	resolve := func(ref string) (entity.Entity, error) {
		e, err := g.resolver.Resolve(ctx, cache, ref)
		if err != nil {
			if ctx.Err() != nil {
				return entity.Entity{}, ctx.Err()
			}
			return entity.Entity{}, &SpecError{
				Rule:   RuleEntityResolvable,
				Detail: fmt.Sprintf("%q: %v", ref, err),
				Err:    err,
			}
		}
		view[e.ID] = *e
		return *e, nil
	}

	trig, err := g.trigger(in.Trigger, resolve)
	if err != nil {
		return nil, err
	}

	var actions []Action
	for _, a := range in.Actions {
		e, err := resolve(a.Entity)
		if err != nil {
			return nil, err
		}
		svc := ServiceFor(a.Verb, e.Domain)
		if svc == "" {
			return nil, specErr(RuleServiceSupported, "cannot %s %s", a.Verb, e.ID)
		}
		actions = append(actions, Action{Action: e.Domain + "." + svc, Target: Target{EntityID: e.ID}})
	}

	var conditions []Condition
	for _, c := range in.Conditions {
		e, err := resolve(c.Entity)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, Condition{Condition: "state", EntityID: e.ID, State: c.State})
	}

	spec := &Spec{
		ID:          g.newID(),
		Alias:       alias(in, actions, trig, view),
		Description: "Generated by automind from: " + in.Request,
		Mode:        "single",
		Triggers:    []Trigger{trig},
		Conditions:  conditions,
		Actions:     actions,
	}
	if err := Validate(spec, view); err != nil {
		return nil, err
	}
	g.logger.Debug("generated automation",
		zap.String("id", spec.ID),
		zap.String("trigger", string(trig.Kind)),
		zap.Strings("entities", spec.Entities()),
	)
	return spec, nil
}

// trigger maps the intent's trigger onto the runtime's grammar. Fields are
// copied as given so that Validate reports a contradictory intent instead of
// it being coerced into a different kind.
func (g *Generator) trigger(it *intent.Trigger, resolve func(string) (entity.Entity, error)) (Trigger, error) {
	t := Trigger{
		Kind:    it.Kind,
		Hours:   it.Hours,
		Minutes: it.Minutes,
		Seconds: it.Seconds,
		To:      it.To,
		From:    it.From,
		Offset:  it.Offset,
	}
	if it.Above != nil {
		v := *it.Above
		t.Above = &v
	}
	if it.Below != nil {
		v := *it.Below
		t.Below = &v
	}

	switch at := it.At; {
	case at == "":
	case intent.IsClockTime(at):
		if len(at) == len("15:04") {
			at += ":00"
		}
		t.At = at
	case strings.ContainsAny(at, "/*"):
		t.At = at
	default:
		e, err := resolve(at)
		if err != nil {
			return Trigger{}, err
		}
		t.At = e.ID
	}

	if it.Entity != "" {
		e, err := resolve(it.Entity)
		if err != nil {
			return Trigger{}, err
		}
		t.EntityID = e.ID
	}
	if !t.Kind.Valid() {
		return Trigger{}, specErr(RuleTriggerKind, "unknown trigger kind %q", it.Kind)
	}
	return t, nil
}

// Deploy generates the spec for in and submits it. When the runtime rejects
// the spec the trigger kind is derived once more from the raw trigger
// phrase; if that yields the same kind the rejection is returned as a
// *SpecError.
func (g *Generator) Deploy(ctx context.Context, cache *entity.Cache, in intent.Intent, sub Submitter) (*Spec, error) {
	spec, err := g.Generate(ctx, cache, in)
	if err != nil {
		return nil, err
	}
	err = sub.Submit(ctx, spec)
	if err == nil {
		return spec, nil
	}
	var rej *RuntimeRejection
	if !errors.As(err, &rej) {
		return nil, fmt.Errorf("submitting automation %s: %w", spec.ID, err)
	}

	g.logger.Warn("runtime rejected automation, re-deriving trigger",
		zap.String("id", spec.ID),
		zap.String("phrase", in.Trigger.Phrase),
		zap.String("message", rej.Message),
	)
	derived, ok := intent.DeriveTrigger(in.Trigger.Phrase)
	if !ok || derived.Kind == in.Trigger.Kind {
		return nil, &SpecError{Rule: RuleRuntimeRejected, Detail: rej.Message, Err: rej}
	}

	retry := in.Clone()
	derived.Phrase = in.Trigger.Phrase
	retry.Trigger = &derived
	spec, err = g.Generate(ctx, cache, retry)
	if err != nil {
		return nil, err
	}
	if err := sub.Submit(ctx, spec); err != nil {
		if errors.As(err, &rej) {
			return nil, &SpecError{Rule: RuleRuntimeRejected, Detail: rej.Message, Err: rej}
		}
		return nil, fmt.Errorf("submitting automation %s: %w", spec.ID, err)
	}
	return spec, nil
}

// ServiceFor maps a request verb onto the service an entity of domain uses
// for it, or "" when the domain has no such service.
func ServiceFor(verb, domain string) string {
	switch verb {
	case "turn_on", "turn_off":
		if domain == "cover" {
			if verb == "turn_on" {
				return "open_cover"
			}
			return "close_cover"
		}
		return verb
	case "toggle", "lock", "unlock":
		return verb
	case "open":
		switch domain {
		case "cover":
			return "open_cover"
		case "valve":
			return "open_valve"
		case "lock":
			return "open"
		}
	case "close":
		switch domain {
		case "cover":
			return "close_cover"
		case "valve":
			return "close_valve"
		}
	case "start":
		if domain == "vacuum" {
			return "start"
		}
		return "turn_on"
	case "stop":
		switch domain {
		case "vacuum":
			return "stop"
		case "cover":
			return "stop_cover"
		}
		return "turn_off"
	}
	return ""
}

var verbPhrases = map[string]string{
	"turn_on":  "Turn on",
	"turn_off": "Turn off",
	"toggle":   "Toggle",
	"open":     "Open",
	"close":    "Close",
	"lock":     "Lock",
	"unlock":   "Unlock",
	"start":    "Start",
	"stop":     "Stop",
}

func alias(in intent.Intent, actions []Action, t Trigger, view map[string]entity.Entity) string {
	name := func(id string) string {
		if e, ok := view[id]; ok && e.Name != "" {
			return e.Name
		}
		return id
	}

	var b strings.Builder
	for i, a := range actions {
		phrase := verbPhrases[in.Actions[i].Verb]
		if phrase == "" {
			phrase = in.Actions[i].Verb
		}
		if i > 0 {
			b.WriteString(", ")
			phrase = strings.ToLower(phrase)
		}
		b.WriteString(phrase + " " + name(a.Target.EntityID))
	}

	switch t.Kind {
	case intent.KindTime:
		if intent.IsClockTime(t.At) {
			b.WriteString(" at " + t.At)
		} else {
			b.WriteString(" at " + name(t.At))
		}
	case intent.KindTimePattern:
		b.WriteString(" " + describeCadence(t))
	case intent.KindState:
		if t.To != "" {
			fmt.Fprintf(&b, " when %s changes to %s", name(t.EntityID), t.To)
		} else {
			fmt.Fprintf(&b, " when %s changes", name(t.EntityID))
		}
	case intent.KindNumericState:
		if t.Above != nil {
			fmt.Fprintf(&b, " when %s rises above %v", name(t.EntityID), *t.Above)
		} else if t.Below != nil {
			fmt.Fprintf(&b, " when %s drops below %v", name(t.EntityID), *t.Below)
		}
	}
	return b.String()
}

func describeCadence(t Trigger) string {
	for _, f := range []struct{ value, unit string }{
		{t.Seconds, "second"}, {t.Minutes, "minute"}, {t.Hours, "hour"},
	} {
		if n, ok := strings.CutPrefix(f.value, "/"); ok {
			if n == "1" {
				return "every " + f.unit
			}
			return "every " + n + " " + f.unit + "s"
		}
	}
	return "on a schedule"
}
