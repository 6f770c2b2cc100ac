package provider

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry maps gateway names to the factories that build them.
// Adapters register themselves from their package init, so importing an
// adapter package is all it takes to make its gateway available.
type ProviderRegistry struct {
	providers map[string]ProviderFactory
	mu        sync.RWMutex
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderFactory),
	}
}

// Register records a factory under the given gateway name. A later
// registration under the same name replaces the earlier one.
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = factory
}

// Get looks up the factory registered under name.
func (r *ProviderRegistry) Get(name string) (ProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider '%s' is not registered", name)
	}
	return factory, nil
}

// CreateProvider builds a fresh, unconfigured instance of the named
// gateway. Each call returns a new instance; callers own its Initialize.
func (r *ProviderRegistry) CreateProvider(name string) (PaymentProvider, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

// GetProviderNames returns the registered gateway names in sorted order.
func (r *ProviderRegistry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the registry adapter packages register into.
var DefaultRegistry = NewProviderRegistry()

// Register records a factory in the default registry.
func Register(name string, factory ProviderFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get looks up a factory in the default registry.
func Get(name string) (ProviderFactory, error) {
	return DefaultRegistry.Get(name)
}

// CreateProvider builds a gateway instance from the default registry.
func CreateProvider(name string) (PaymentProvider, error) {
	return DefaultRegistry.CreateProvider(name)
}
