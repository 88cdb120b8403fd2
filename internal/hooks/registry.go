// Package hooks holds the process-wide table of hook types and the schemas
// their payloads and results are validated against.
//
// Hook types are registered during start-up (single writer); after that the
// table is only read. Reads load an immutable snapshot and take no lock.
package hooks

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

var (
	// ErrUnknownHookType is returned when resolving a hook type that was never registered.
	ErrUnknownHookType = errors.New("unknown hook type")

	// ErrDuplicateHookType is returned when a hook type is re-registered with different schemas.
	ErrDuplicateHookType = errors.New("hook type already registered with different schemas")

	// ErrSchema is returned when a value fails its schema.
	ErrSchema = errors.New("schema validation failed")
)

// Default is the process-wide hook type registry.
var Default = NewRegistry()

// HookType is a named extension point with its payload and result schemas.
type HookType struct {
	Name    string
	Payload pkg.Schema
	Result  pkg.Schema
}

// sameSchemas reports whether two hook types bind identical schema pairs.
func (h HookType) sameSchemas(other HookType) bool {
	return h.Payload.Type() == other.Payload.Type() && h.Result.Type() == other.Result.Type()
}

// Registry maps hook type names to their schemas.
// NOTE: Use NewRegistry to create a Registry.
type Registry struct {
	mu    sync.Mutex // serializes writers
	types atomic.Pointer[map[string]HookType]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]HookType)
	r.types.Store(&empty)
	return r
}

// Register binds name to a payload/result schema pair.
// Registering an identical pair again is a no-op.
func (r *Registry) Register(name string, payload pkg.Schema, result pkg.Schema) error {
	if name == "" {
		return fmt.Errorf("hook type name is required")
	}
	if payload == nil || result == nil {
		return fmt.Errorf("hook type %q: payload and result schemas are required", name)
	}

	ht := HookType{Name: name, Payload: payload, Result: result}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.types.Load()
	if existing, ok := current[name]; ok {
		if existing.sameSchemas(ht) {
			return nil
		}
		return fmt.Errorf(
			"%w: %q is bound to (%s, %s), got (%s, %s)",
			ErrDuplicateHookType,
			name,
			existing.Payload.Name(), existing.Result.Name(),
			payload.Name(), result.Name(),
		)
	}

	next := make(map[string]HookType, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = ht
	r.types.Store(&next)

	return nil
}

// MustRegister is like Register but panics on error. Intended for start-up code.
func (r *Registry) MustRegister(name string, payload pkg.Schema, result pkg.Schema) {
	if err := r.Register(name, payload, result); err != nil {
		panic(err)
	}
}

// Resolve returns the hook type registered under name.
func (r *Registry) Resolve(name string) (HookType, error) {
	ht, ok := (*r.types.Load())[name]
	if !ok {
		return HookType{}, fmt.Errorf("%w: %q", ErrUnknownHookType, name)
	}
	return ht, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := (*r.types.Load())[name]
	return ok
}

// Names returns the registered hook type names, sorted.
func (r *Registry) Names() []string {
	current := *r.types.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register binds name in the Default registry.
func Register(name string, payload pkg.Schema, result pkg.Schema) error {
	return Default.Register(name, payload, result)
}

// MustRegister binds name in the Default registry, panicking on error.
func MustRegister(name string, payload pkg.Schema, result pkg.Schema) {
	Default.MustRegister(name, payload, result)
}

// Resolve looks name up in the Default registry.
func Resolve(name string) (HookType, error) {
	return Default.Resolve(name)
}
