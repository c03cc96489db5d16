// Package patterns mines state-transition history for recurring
// trigger-then-consequent behaviour.
package patterns

import (
	"fmt"
	"strconv"
	"time"
)

// ShapeKind is the kind of change a shape describes.
type ShapeKind string

const (
	// ShapeTo is a discrete change into a state ("turns on").
	ShapeTo ShapeKind = "to"
	// ShapeAbove is a numeric value rising past a threshold.
	ShapeAbove ShapeKind = "above"
	// ShapeBelow is a numeric value falling past a threshold.
	ShapeBelow ShapeKind = "below"
)

// Shape is one entity's transition shape.
type Shape struct {
	EntityID  string    `json:"entity_id"`
	Kind      ShapeKind `json:"kind"`
	State     string    `json:"state,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
}

// Key identifies the shape: "light.kitchen|to:on", "sensor.t|above:21.5".
func (s Shape) Key() string {
	if s.Kind == ShapeTo {
		return fmt.Sprintf("%s|to:%s", s.EntityID, s.State)
	}
	return fmt.Sprintf("%s|%s:%s", s.EntityID, s.Kind, strconv.FormatFloat(s.Threshold, 'f', -1, 64))
}

func (s Shape) String() string {
	switch s.Kind {
	case ShapeAbove:
		return fmt.Sprintf("%s rises above %g", s.EntityID, s.Threshold)
	case ShapeBelow:
		return fmt.Sprintf("%s drops below %g", s.EntityID, s.Threshold)
	default:
		return fmt.Sprintf("%s turns %s", s.EntityID, s.State)
	}
}

// TimeWindow is an hour-of-day band [StartHour, EndHour).
type TimeWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Pattern is a recurring trigger followed by a consequent on another entity.
// Patterns are never mutated; a later detection run supersedes them.
type Pattern struct {
	ID             string        `json:"id"`
	Trigger        Shape         `json:"trigger"`
	Consequent     Shape         `json:"consequent"`
	Window         *TimeWindow   `json:"window,omitempty"`
	Support        int           `json:"support"`
	TriggerSupport int           `json:"trigger_support"`
	Confidence     float64       `json:"confidence"`
	MeanOffset     time.Duration `json:"mean_offset"`
	RunID          string        `json:"run_id"`
	DetectedAt     time.Time     `json:"detected_at"`
}
