// Package provider hosts the built-in provider adapters and their
// registry. Providers are external LLM transports behind the core.Provider
// contract; everything above them is transport-agnostic.
package provider

import (
	"fmt"
	"sync"

	"github.com/yoshihiko555/takt/internal/core"
	"github.com/yoshihiko555/takt/internal/logging"
)

// Factory creates a provider from its option map.
type Factory func(options map[string]interface{}, logger *logging.Logger) (core.Provider, error)

// Registry manages available providers.
type Registry struct {
	factories map[string]Factory
	providers map[string]core.Provider
	options   map[string]map[string]interface{}
	logger    *logging.Logger
	mu        sync.RWMutex
}

// NewRegistry creates a provider registry with the built-ins registered.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]core.Provider),
		options:   make(map[string]map[string]interface{}),
		logger:    logger,
	}
	r.RegisterFactory("claude", NewClaudeProvider)
	r.RegisterFactory("mock", NewMockProvider)
	return r
}

// RegisterFactory registers a factory for a provider name.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Register adds a provider instance directly.
func (r *Registry) Register(name string, p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Configure sets the option map for a provider. Clears any cached instance
// so the next Get rebuilds it.
func (r *Registry) Configure(name string, options map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options[name] = options
	delete(r.providers, name)
	r.logger.Debug("provider configured", "provider", name,
		"options", r.logger.SanitizeOptions(options))
}

// Get returns a provider by name, creating it on first use.
func (r *Registry) Get(name string) (core.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, core.ErrNotFound("provider", name)
	}
	p, err := factory(r.options[name], r.logger)
	if err != nil {
		return nil, fmt.Errorf("creating provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// List returns the registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
