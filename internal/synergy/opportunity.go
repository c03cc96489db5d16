// Package synergy finds multi-entity automation opportunities and ranks them.
package synergy

import (
	"fmt"
	"math"

	"github.com/ziadkadry99/automind/internal/patterns"
)

// Source says how a candidate was found.
type Source string

const (
	SourceCorrelation Source = "behavioral_correlation"
	SourceArea        Source = "area"
	SourceExternal    Source = "external"
)

// Action is one service call on one entity.
type Action struct {
	EntityID string `json:"entity_id"`
	Service  string `json:"service"`
}

// Candidate is an unscored joint automation as produced upstream. Upstream
// producers may leave Confidence unset.
type Candidate struct {
	Entities []string        `json:"entities"`
	AreaID   string          `json:"area_id,omitempty"`
	Trigger  *patterns.Shape `json:"trigger,omitempty"`
	Actions  []Action        `json:"actions"`
	// Frequency is the expected number of firings per day.
	Frequency float64 `json:"frequency"`
	// TimingCorrelation in [0,1] says how tightly the entities move together.
	TimingCorrelation float64  `json:"timing_correlation"`
	Confidence        *float64 `json:"confidence,omitempty"`
	Source            Source   `json:"source"`
}

// Opportunity is a scored candidate. Confidence is always set.
type Opportunity struct {
	ID                  string          `json:"id"`
	Entities            []string        `json:"entities"`
	AreaID              string          `json:"area_id,omitempty"`
	Trigger             *patterns.Shape `json:"trigger,omitempty"`
	Actions             []Action        `json:"actions"`
	Capabilities        []string        `json:"capabilities"`
	Frequency           float64         `json:"frequency"`
	TimingCorrelation   float64         `json:"timing_correlation"`
	ImpactScore         float64         `json:"impact_score"`
	AdvancedImpactScore float64         `json:"advanced_impact_score"`
	Confidence          float64         `json:"confidence"`
	ConfidenceDefaulted bool            `json:"confidence_defaulted"`
	Source              Source          `json:"source"`
}

// Validate checks the opportunity's invariants.
func (o Opportunity) Validate() error {
	if len(o.Entities) < 2 {
		return fmt.Errorf("opportunity %s: needs at least 2 entities, has %d", o.ID, len(o.Entities))
	}
	if math.IsNaN(o.Confidence) || o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("opportunity %s: confidence %v outside [0,1]", o.ID, o.Confidence)
	}
	if math.IsNaN(o.AdvancedImpactScore) || math.IsNaN(o.ImpactScore) {
		return fmt.Errorf("opportunity %s: impact score is NaN", o.ID)
	}
	return nil
}

// DefaultPolicy supplies a confidence for candidates that arrive without one.
type DefaultPolicy struct {
	WithArea    float64
	WithoutArea float64
}

// ConfidenceOf returns the candidate's confidence, or the policy default when
// it is missing or not a number. Values outside [0,1] are clamped. The second
// result reports whether the default was used.
func ConfidenceOf(c Candidate, p DefaultPolicy) (float64, bool) {
	if c.Confidence == nil || math.IsNaN(*c.Confidence) {
		if c.AreaID != "" {
			return clamp01(p.WithArea), true
		}
		return clamp01(p.WithoutArea), true
	}
	return clamp01(*c.Confidence), false
}

// FilterByConfidence keeps opportunities whose confidence is at least min.
// It never mutates its input.
func FilterByConfidence(ops []Opportunity, min float64) []Opportunity {
	out := make([]Opportunity, 0, len(ops))
	for _, o := range ops {
		if o.Confidence >= min {
			out = append(out, o)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FilterCandidates keeps candidates whose confidence, defaulted where
// missing, is at least min.
func FilterCandidates(cands []Candidate, min float64, p DefaultPolicy) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if conf, _ := ConfidenceOf(c, p); conf >= min {
			out = append(out, c)
		}
	}
	return out
}
