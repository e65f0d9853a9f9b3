package ocr

import (
	"fmt"
	"sort"
	"strings"
)

// Registry manages all available engines
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates a new engine registry
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
	}
}

// Register adds an engine to the registry
func (r *Registry) Register(engine Engine) {
	r.engines[strings.ToLower(engine.Name())] = engine
}

// Get retrieves an engine by name
func (r *Registry) Get(name string) (Engine, error) {
	engine, exists := r.engines[strings.ToLower(name)]
	if !exists {
		return nil, NotAvailable(name, fmt.Sprintf("engine %s not found", name))
	}
	return engine, nil
}

// List returns all registered engine names in sorted order
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if an engine is registered
func (r *Registry) Has(name string) bool {
	_, exists := r.engines[strings.ToLower(name)]
	return exists
}
