package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/miladsoleymani/replymux/core"
)

// Factory creates a Broker from the given Config.
type Factory func(cfg Config) (core.Broker, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named broker factory. Plugins call this from init().
// It panics on a nil factory or a duplicate name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if factory == nil {
		panic("replymux: Register factory is nil for " + name)
	}
	if _, dup := factories[name]; dup {
		panic("replymux: Register called twice for broker " + name)
	}
	factories[name] = factory
}

// Create instantiates a broker by name using the registered factory.
func Create(name string, cfg Config) (core.Broker, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("replymux: unknown broker %q (registered: %v)", name, Names())
	}
	return f(cfg)
}

// Names lists the registered broker names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
