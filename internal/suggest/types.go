// Package suggest ties the engine together: request handling over the
// clarification protocol, background detection passes, and the SQLite
// history of runs and generated automations.
package suggest

import (
	"time"

	"github.com/ziadkadry99/automind/internal/automation"
	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/synergy"
)

// Run is the stored output of one detection pass.
type Run struct {
	ID              string                `json:"id"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
	WindowStart     time.Time             `json:"window_start"`
	WindowEnd       time.Time             `json:"window_end"`
	EntityCount     int                   `json:"entity_count"`
	TransitionCount int                   `json:"transition_count"`
	SkippedCount    int                   `json:"skipped_count"`
	Patterns        []patterns.Pattern    `json:"patterns"`
	Opportunities   []synergy.Opportunity `json:"opportunities"`
}

// Automation is a generated automation as recorded in the history.
type Automation struct {
	ID            string             `json:"id"`
	Request       string             `json:"request"`
	SessionID     string             `json:"session_id,omitempty"`
	OpportunityID string             `json:"opportunity_id,omitempty"`
	TriggerKind   intent.TriggerKind `json:"trigger_kind"`
	Entities      []string           `json:"entities"`
	YAML          string             `json:"yaml"`
	Submitted     bool               `json:"submitted"`
	CreatedAt     time.Time          `json:"created_at"`
}

// OutcomeStatus says how a request or answer ended.
type OutcomeStatus string

const (
	OutcomeGenerated    OutcomeStatus = "generated"
	OutcomeNeedsAnswers OutcomeStatus = "needs_clarification"
)

// Outcome is the result of a request or an answer batch: either a
// generated automation or the questions still open.
type Outcome struct {
	Status     OutcomeStatus      `json:"status"`
	SessionID  string             `json:"session_id,omitempty"`
	Questions  []clarify.Question `json:"questions,omitempty"`
	Spec       *automation.Spec   `json:"spec,omitempty"`
	Automation *Automation        `json:"automation,omitempty"`
}
