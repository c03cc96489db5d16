package automation

import (
	"errors"
	"fmt"
)

// ErrSpecGeneration matches every *SpecError.
var ErrSpecGeneration = errors.New("spec generation failed")

// Rules a spec can violate.
const (
	RuleIncompleteIntent = "intent_complete"
	RuleEntityResolvable = "entity_resolvable"
	RuleServiceSupported = "service_supported"
	RuleRequiredField    = "required_field"
	RuleExclusiveFields  = "exclusive_fields"
	RuleAtLiteral        = "at_literal"
	RuleRepetitionValue  = "repetition_value"
	RuleThresholdRange   = "threshold_range"
	RuleTriggerKind      = "trigger_kind"
	RuleActionRequired   = "action_required"
	RuleRuntimeRejected  = "runtime_rejected"
)

// SpecError reports the rule a generated spec would break.
type SpecError struct {
	Rule   string
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrSpecGeneration, e.Rule, e.Detail)
}

// Is makes errors.Is(err, ErrSpecGeneration) hold.
func (e *SpecError) Is(target error) bool { return target == ErrSpecGeneration }

func (e *SpecError) Unwrap() error { return e.Err }

func specErr(rule, format string, args ...any) *SpecError {
	return &SpecError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// RuntimeRejection is the runtime refusing a submitted spec.
type RuntimeRejection struct {
	Status  int
	Message string
}

func (e *RuntimeRejection) Error() string {
	return fmt.Sprintf("automation rejected by runtime (HTTP %d): %s", e.Status, e.Message)
}
