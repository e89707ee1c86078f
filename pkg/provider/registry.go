package provider

import (
	"fmt"
	"sync"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Factory builds a StorageProvider from a populated ProviderConfig variant.
// Each concrete provider package registers its own factory in an init().
type Factory func(cfg ProviderConfig) (StorageProvider, error)

// Registry maps a ProviderConfig's Kind() to the Factory that builds it.
// Concrete provider packages call Register from init() so importing them
// for side effect is enough to make them available to New.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var defaultRegistry = &Registry{factories: make(map[string]Factory)}

// Register adds a factory under kind to the process-wide default registry.
func Register(kind string, f Factory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.factories[kind] = f
}

// New builds a StorageProvider from cfg using the default registry.
func New(cfg ProviderConfig) (StorageProvider, error) {
	return defaultRegistry.New(cfg)
}

// New builds a StorageProvider from cfg using r's factories.
func (r *Registry) New(cfg ProviderConfig) (StorageProvider, error) {
	kind := cfg.Kind()
	if kind == "" {
		return nil, providererr.New(providererr.Other, "", "ProviderConfig must have exactly one variant set")
	}
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, providererr.New(providererr.NotSupported, kind, fmt.Sprintf("no provider registered for kind %q", kind))
	}
	return f(cfg)
}

// NewRegistry builds an independent registry (mainly for tests that want
// isolation from process-wide init() registrations).
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f under kind to r.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}
