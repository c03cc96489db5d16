package entity

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter limits which entities are visible, by glob over entity ids.
type Filter struct {
	Include []string
	Exclude []string
}

// NewFilter validates the patterns and returns a filter.
func NewFilter(include, exclude []string) (*Filter, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid entity pattern %q", p)
		}
	}
	return &Filter{Include: include, Exclude: exclude}, nil
}

// Allowed reports whether id passes the filter. A nil filter allows everything.
func (f *Filter) Allowed(id string) bool {
	if f == nil {
		return true
	}
	if len(f.Include) > 0 && !matchAny(f.Include, id) {
		return false
	}
	return !matchAny(f.Exclude, id)
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, id) {
			return true
		}
	}
	return false
}
