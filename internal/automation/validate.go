package automation

import (
	"strconv"
	"strings"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/registry"
)

// Validate checks spec against the runtime's trigger grammar and the given
// entity view. It returns the first violation as a *SpecError.
func Validate(spec *Spec, view map[string]entity.Entity) error {
	if len(spec.Triggers) == 0 {
		return specErr(RuleRequiredField, "automation has no trigger")
	}
	for i, t := range spec.Triggers {
		if err := validateTrigger(t, view); err != nil {
			err.Detail = "trigger " + strconv.Itoa(i) + ": " + err.Detail
			return err
		}
	}

	for _, c := range spec.Conditions {
		if c.EntityID == "" || c.State == "" {
			return specErr(RuleRequiredField, "state condition needs entity_id and state")
		}
		if _, ok := view[c.EntityID]; !ok {
			return specErr(RuleEntityResolvable, "condition entity %s does not resolve", c.EntityID)
		}
	}

	if len(spec.Actions) == 0 {
		return specErr(RuleActionRequired, "automation has no action")
	}
	for _, a := range spec.Actions {
		id := a.Target.EntityID
		e, ok := view[id]
		if !ok {
			return specErr(RuleEntityResolvable, "action entity %s does not resolve", id)
		}
		domain, service, found := strings.Cut(a.Action, ".")
		if !found || domain != registry.Domain(id) {
			return specErr(RuleServiceSupported, "action %q does not belong to the %s domain", a.Action, registry.Domain(id))
		}
		if !e.Supports(service) {
			return specErr(RuleServiceSupported, "%s does not support %s (supports %s)",
				id, service, strings.Join(e.Capabilities, ", "))
		}
	}
	return nil
}

func validateTrigger(t Trigger, view map[string]entity.Entity) *SpecError {
	hasRepetition := t.Hours != "" || t.Minutes != "" || t.Seconds != ""
	hasEntity := t.EntityID != "" || t.To != "" || t.From != "" || t.Above != nil || t.Below != nil

	switch t.Kind {
	case intent.KindTime:
		if t.At == "" {
			return specErr(RuleRequiredField, "time trigger needs at")
		}
		if hasRepetition {
			return specErr(RuleExclusiveFields, "time trigger cannot also set hours, minutes or seconds")
		}
		if hasEntity {
			return specErr(RuleExclusiveFields, "time trigger cannot set entity_id or state fields")
		}
		return validateAt(t, view)

	case intent.KindTimePattern:
		if t.At != "" || t.Offset != "" {
			return specErr(RuleExclusiveFields, "time_pattern trigger cannot also set at")
		}
		if !hasRepetition {
			return specErr(RuleRequiredField, "time_pattern trigger needs hours, minutes or seconds")
		}
		if hasEntity {
			return specErr(RuleExclusiveFields, "time_pattern trigger cannot set entity_id or state fields")
		}
		for _, f := range []struct {
			name, value string
			max         int
		}{{"hours", t.Hours, 23}, {"minutes", t.Minutes, 59}, {"seconds", t.Seconds, 59}} {
			if f.value != "" && !validRepetition(f.value, f.max) {
				return specErr(RuleRepetitionValue, "%s %q must be *, 0-%d or /1-/%d", f.name, f.value, f.max, f.max)
			}
		}
		return nil

	case intent.KindState, intent.KindNumericState:
		if t.At != "" || t.Offset != "" || hasRepetition {
			return specErr(RuleExclusiveFields, "%s trigger cannot set at, hours, minutes or seconds", t.Kind)
		}
		if t.EntityID == "" {
			return specErr(RuleRequiredField, "%s trigger needs entity_id", t.Kind)
		}
		if _, ok := view[t.EntityID]; !ok {
			return specErr(RuleEntityResolvable, "trigger entity %s does not resolve", t.EntityID)
		}
		if t.Kind == intent.KindState {
			if t.Above != nil || t.Below != nil {
				return specErr(RuleExclusiveFields, "state trigger cannot set above or below")
			}
			return nil
		}
		if t.To != "" || t.From != "" {
			return specErr(RuleExclusiveFields, "numeric_state trigger cannot set to or from")
		}
		if t.Above == nil && t.Below == nil {
			return specErr(RuleRequiredField, "numeric_state trigger needs above or below")
		}
		if t.Above != nil && t.Below != nil && *t.Above >= *t.Below {
			return specErr(RuleThresholdRange, "above %v must be lower than below %v", *t.Above, *t.Below)
		}
		return nil
	}
	return specErr(RuleTriggerKind, "unknown trigger kind %q", t.Kind)
}

// validateAt accepts a literal clock time, or an input_datetime or sensor
// entity optionally shifted by an offset. Repetition expressions never pass.
func validateAt(t Trigger, view map[string]entity.Entity) *SpecError {
	if strings.ContainsAny(t.At, "/*") {
		return specErr(RuleAtLiteral, "at %q holds a repetition; use a time_pattern trigger", t.At)
	}
	if intent.IsClockTime(t.At) {
		if t.Offset != "" {
			return specErr(RuleExclusiveFields, "offset needs an entity-valued at")
		}
		return nil
	}
	domain := registry.Domain(t.At)
	if domain != "input_datetime" && domain != "sensor" {
		return specErr(RuleAtLiteral, "at %q must be HH:MM:SS or an input_datetime/sensor entity", t.At)
	}
	if _, ok := view[t.At]; !ok {
		return specErr(RuleEntityResolvable, "at entity %s does not resolve", t.At)
	}
	if t.Offset != "" && !validOffset(t.Offset) {
		return specErr(RuleAtLiteral, "offset %q must be [-]HH:MM:SS", t.Offset)
	}
	return nil
}

func validRepetition(v string, max int) bool {
	if v == "*" {
		return true
	}
	every := strings.HasPrefix(v, "/")
	n, err := strconv.Atoi(strings.TrimPrefix(v, "/"))
	if err != nil {
		return false
	}
	if every {
		return n >= 1 && n <= max
	}
	return n >= 0 && n <= max
}

func validOffset(v string) bool {
	v = strings.TrimPrefix(v, "-")
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil || len(p) != 2 {
			return false
		}
	}
	return true
}
