package plugins

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Factory constructs an in-process plugin from its descriptor.
type Factory func(cfg pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error)

// Factories maps descriptor kinds to plugin constructors.
// Kinds are registered by explicit calls during start-up.
// NOTE: Use NewFactories to create Factories.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates an empty factory table.
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]Factory)}
}

// Register adds a constructor for kind.
func (f *Factories) Register(kind string, fn Factory) error {
	if kind == "" {
		return fmt.Errorf("factory kind is required")
	}
	if fn == nil {
		return fmt.Errorf("factory for kind %q is nil", kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.factories[kind]; exists {
		return fmt.Errorf("factory already registered for kind %q", kind)
	}
	f.factories[kind] = fn

	return nil
}

// Has reports whether kind is registered.
func (f *Factories) Has(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.factories[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (f *Factories) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]string, 0, len(f.factories))
	for k := range f.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New constructs the plugin described by cfg.
func (f *Factories) New(cfg pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	f.mu.RLock()
	fn, ok := f.factories[cfg.Kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no factory registered for kind %q", cfg.Kind)
	}

	p, err := fn(cfg, logger)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("factory for kind %q returned nil plugin", cfg.Kind)
	}

	return p, nil
}
