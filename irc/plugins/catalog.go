package plugins

import (
	"sort"
	"strings"
	"sync"
)

// Catalog maps plugin names to their constructors. It is filled once at
// startup and shared by every network.
type Catalog struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewCatalog() *Catalog {
	return &Catalog{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for name.
func (c *Catalog) Register(name string, ctor Constructor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constructors[strings.ToLower(name)] = ctor
}

func (c *Catalog) Lookup(name string) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctor, ok := c.constructors[strings.ToLower(name)]
	return ctor, ok
}

// Names returns the sorted list of known plugins.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.constructors))
	for name := range c.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
