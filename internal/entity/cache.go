package entity

import (
	"sort"
	"sync"
)

// Cache holds the registry view for one top-level request. It is loaded at
// most once and only ever invalidated as a whole.
type Cache struct {
	mu     sync.Mutex
	loaded bool
	view   map[string]Entity
	// registryDown is set when the registry could not be read.
	registryDown bool
	// statesDown is set when the live-state view could not be read either.
	statesDown bool
	loads      int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Invalidate drops the whole view; the next lookup reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.view = nil
	c.registryDown = false
	c.statesDown = false
}

// Degraded reports whether the current view was built without the registry.
func (c *Cache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registryDown
}

// Loads returns how many times the view has been fetched.
func (c *Cache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Get returns the cached entity for id.
func (c *Cache) Get(id string) (Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.view[id]
	return e, ok
}

// Entities returns the cached view sorted by id.
func (c *Cache) Entities() []Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entity, 0, len(c.view))
	for _, e := range c.view {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remember adds a synthesised entity so repeated lookups stay identical.
func (c *Cache) remember(e Entity) Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.view[e.ID]; ok {
		return existing
	}
	if c.view == nil {
		c.view = make(map[string]Entity)
	}
	c.view[e.ID] = e
	return e
}
