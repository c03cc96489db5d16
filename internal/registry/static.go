package registry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static is a fixed registry loaded from a YAML fixture. It serves offline
// runs and tests.
type Static struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	states      []State
	unavailable bool
}

type staticFile struct {
	Entities []Entry `yaml:"entities"`
	States   []State `yaml:"states"`
}

// NewStatic builds a registry from in-memory entries and states.
func NewStatic(entries []Entry, states []State) *Static {
	s := &Static{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		s.entries[e.EntityID] = withCapabilities(e)
	}
	s.states = append(s.states, states...)
	return s
}

// LoadStatic reads a registry fixture:
//
//	entities:
//	  - entity_id: light.kitchen
//	    name: Kitchen Light
//	    area_id: kitchen
//	states:
//	  - entity_id: light.kitchen
//	    state: "off"
//	    attributes: {friendly_name: Kitchen}
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry file %s: %w", path, err)
	}
	for i, e := range f.Entities {
		if e.EntityID == "" {
			return nil, fmt.Errorf("registry file %s: entity %d has no entity_id", path, i)
		}
	}
	return NewStatic(f.Entities, f.States), nil
}

// SetUnavailable makes every lookup fail with ErrUnavailable until reset.
func (s *Static) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *Static) GetEntity(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, ErrUnavailable
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &e, nil
}

func (s *Static) GetEntityRegistry(ctx context.Context) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, ErrUnavailable
	}
	out := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out, nil
}

func (s *Static) GetStates(ctx context.Context) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, ErrUnavailable
	}
	out := make([]State, len(s.states))
	copy(out, s.states)
	return out, nil
}
