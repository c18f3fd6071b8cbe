package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/saytext/saytext/pkg/asr"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a recognition provider from its config entry.
type Factory func(ProviderEntry) (asr.Provider, error)

// Registry maps provider names to their constructor functions. The binary
// registers all compiled-in providers at startup; config then selects among
// them by name. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Create instantiates the provider registered under name with entry.
// Returns [ErrProviderNotRegistered] if no factory has been registered.
func (r *Registry) Create(name string, entry ProviderEntry) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	return factory(entry)
}

// Entry returns the config block for a known provider name.
func (p ProvidersConfig) Entry(name string) (ProviderEntry, bool) {
	switch name {
	case "volc":
		return p.Volc, true
	case "deepgram":
		return p.Deepgram, true
	case "openai":
		return p.OpenAI, true
	case "proxy":
		return p.Proxy, true
	}
	return ProviderEntry{}, false
}
