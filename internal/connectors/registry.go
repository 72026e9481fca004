// Package connectors holds the registry of configured repository connections.
package connectors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

// Registry maps connection names to connectors.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]crawler.Connector
}

// NewRegistry registers the given connectors.
func NewRegistry(conns ...crawler.Connector) (*Registry, error) {
	r := &Registry{byName: make(map[string]crawler.Connector, len(conns))}
	for _, c := range conns {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c under its name. Names must be unique.
func (r *Registry) Register(c crawler.Connector) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("connector name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[c.Name()]; ok {
		return fmt.Errorf("duplicate connection %q", c.Name())
	}
	r.byName[c.Name()] = c
	return nil
}

// Connector returns the connector named name.
func (r *Registry) Connector(name string) (crawler.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", crawler.ErrUnknownConnection, name)
	}
	return c, nil
}

// Names lists the registered connections in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
