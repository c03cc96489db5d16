// Package telemetry supplies historical state transitions: a SQLite store,
// a Home Assistant history client and an MQTT statestream ingester.
package telemetry

import (
	"context"
	"time"
)

// StateTransition is one observed change of an entity's state.
type StateTransition struct {
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"at"`
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// LastWindow returns the window of length d ending at now.
func LastWindow(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// History returns an entity's transitions within a window, ordered by time.
type History interface {
	GetStateHistory(ctx context.Context, entityID string, window Window) ([]StateTransition, error)
}
