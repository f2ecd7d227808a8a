package tool

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Tool from a manifest. Factories are the only way a
// manifest on disk can produce a tool; there is no code loading.
type Factory func(m *Manifest) (Tool, error)

// Catalog is the explicit list of tool implementations known to this binary
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
	}
}

// Add registers a factory under kind, replacing any previous one
func (c *Catalog) Add(kind string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[kind] = factory
}

// Build instantiates the tool a manifest asks for
func (c *Catalog) Build(m *Manifest) (Tool, error) {
	c.mu.RLock()
	factory, ok := c.factories[m.Kind]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool kind: %s", m.Kind)
	}

	t, err := factory(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s tool: %w", m.Kind, err)
	}
	if t == nil {
		return nil, fmt.Errorf("factory for %s returned no tool", m.Kind)
	}
	return t, nil
}

// Kinds returns the known kinds in sorted order
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.factories))
	for kind := range c.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
