package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a fresh driver instance for one broker.
type Constructor func() (Driver, error)

// Registry maps broker names to driver constructors. It is an explicit
// constructed-once object rather than ambient package state; the package
// default is pre-populated with the built-in drivers.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty broker registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register installs a constructor under a case-insensitive broker name.
func (r *Registry) Register(name string, fn Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strings.ToLower(name)] = fn
}

// Create builds a fresh driver for the named broker.
func (r *Registry) Create(name string) (Driver, error) {
	r.mu.RLock()
	fn, ok := r.constructors[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown broker %q, registered: %v", name, r.Names())
	}
	return fn()
}

// Names returns the registered broker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry holds the built-in drivers. The simulated driver is
// registered without a seed gateway; callers wanting seeded simulation
// construct SimDriver directly.
var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register("sim", func() (Driver, error) {
		return NewSimDriver(SimConfig{}), nil
	})
	return r
}()

// DefaultRegistry returns the process-default broker registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
