// Package automation generates, validates and submits Home Assistant
// automations.
package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/automind/internal/intent"
)

// Spec is one automation in the shape Home Assistant stores it.
type Spec struct {
	ID          string      `yaml:"id" json:"id"`
	Alias       string      `yaml:"alias" json:"alias"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        string      `yaml:"mode" json:"mode"`
	Triggers    []Trigger   `yaml:"triggers" json:"triggers"`
	Conditions  []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions     []Action    `yaml:"actions" json:"actions"`
}

// Trigger is one automation trigger. Which fields may be set depends on
// Kind; Validate enforces the combinations.
type Trigger struct {
	Kind intent.TriggerKind

	// At is a literal clock time or an input_datetime/sensor entity id.
	At string
	// Offset shifts an entity-valued At, e.g. "-00:10:00".
	Offset string

	// Hours, Minutes and Seconds each hold a literal value or "/N".
	Hours   string
	Minutes string
	Seconds string

	EntityID string
	To       string
	From     string
	Above    *float64
	Below    *float64
}

type wireTrigger struct {
	Trigger  string   `yaml:"trigger" json:"trigger"`
	At       any      `yaml:"at,omitempty" json:"at,omitempty"`
	Hours    string   `yaml:"hours,omitempty" json:"hours,omitempty"`
	Minutes  string   `yaml:"minutes,omitempty" json:"minutes,omitempty"`
	Seconds  string   `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	EntityID string   `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	From     string   `yaml:"from,omitempty" json:"from,omitempty"`
	To       string   `yaml:"to,omitempty" json:"to,omitempty"`
	Above    *float64 `yaml:"above,omitempty" json:"above,omitempty"`
	Below    *float64 `yaml:"below,omitempty" json:"below,omitempty"`
}

type offsetAt struct {
	EntityID string `yaml:"entity_id" json:"entity_id"`
	Offset   string `yaml:"offset" json:"offset"`
}

func (t Trigger) wire() wireTrigger {
	w := wireTrigger{
		Trigger:  string(t.Kind),
		Hours:    t.Hours,
		Minutes:  t.Minutes,
		Seconds:  t.Seconds,
		EntityID: t.EntityID,
		From:     t.From,
		To:       t.To,
		Above:    t.Above,
		Below:    t.Below,
	}
	switch {
	case t.At != "" && t.Offset != "":
		w.At = offsetAt{EntityID: t.At, Offset: t.Offset}
	case t.At != "":
		w.At = t.At
	}
	return w
}

// MarshalYAML implements yaml.Marshaler.
func (t Trigger) MarshalYAML() (any, error) { return t.wire(), nil }

// MarshalJSON implements json.Marshaler.
func (t Trigger) MarshalJSON() ([]byte, error) { return json.Marshal(t.wire()) }

// Condition is a state condition.
type Condition struct {
	Condition string `yaml:"condition" json:"condition"`
	EntityID  string `yaml:"entity_id" json:"entity_id"`
	State     string `yaml:"state" json:"state"`
}

// Action is one service call.
type Action struct {
	Action string `yaml:"action" json:"action"`
	Target Target `yaml:"target" json:"target"`
}

// Target addresses the entity a service acts on.
type Target struct {
	EntityID string `yaml:"entity_id" json:"entity_id"`
}

// Service returns the service part of "domain.service".
func (a Action) Service() string {
	if _, svc, ok := strings.Cut(a.Action, "."); ok {
		return svc
	}
	return a.Action
}

// Entities lists every entity the spec references, triggers first.
func (s *Spec) Entities() []string {
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, t := range s.Triggers {
		add(t.EntityID)
		if t.At != "" && !intent.IsClockTime(t.At) {
			add(t.At)
		}
	}
	for _, c := range s.Conditions {
		add(c.EntityID)
	}
	for _, a := range s.Actions {
		add(a.Target.EntityID)
	}
	return out
}

// RenderYAML renders the spec as Home Assistant automation YAML.
func RenderYAML(s *Spec) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("rendering automation %s: %w", s.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("rendering automation %s: %w", s.ID, err)
	}
	return buf.Bytes(), nil
}
