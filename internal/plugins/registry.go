package plugins

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Registry holds the plugins of one manager session, indexed by name and by hook type.
// It is read-only once built, so lookups take no lock.
type Registry struct {
	plugins []*PluginInstance
	byName  map[string]*PluginInstance
	byHook  map[string][]*PluginInstance
}

// BuildRegistry validates descs and indexes them.
// Every problem is collected into a single *ConfigError.
// Disabled plugins are indexed by name but never appear in a hook list.
func BuildRegistry(descs []pkg.PluginConfig, hookTypes *hooks.Registry, factories *Factories) (*Registry, error) {
	if err := validateDescriptors(descs, hookTypes, factories); err != nil {
		return nil, err
	}

	instances := make([]*PluginInstance, 0, len(descs))
	for i, d := range descs {
		cfg := d.Clone()
		conditions, _ := compileConditions(cfg.Conditions)
		instances = append(instances, &PluginInstance{
			config:     cfg,
			index:      i,
			conditions: conditions,
		})
	}

	return newRegistry(instances, nil), nil
}

// newRegistry indexes instances, leaving out of hook lists any plugin that is
// disabled or named in unavailable.
func newRegistry(instances []*PluginInstance, unavailable map[string]error) *Registry {
	r := &Registry{
		plugins: instances,
		byName:  make(map[string]*PluginInstance, len(instances)),
		byHook:  make(map[string][]*PluginInstance),
	}

	for _, pi := range instances {
		r.byName[pi.Name()] = pi

		if pi.Mode() == pkg.ModeDisabled {
			continue
		}
		if _, down := unavailable[pi.Name()]; down {
			continue
		}

		for _, h := range pi.config.Hooks {
			r.byHook[h] = append(r.byHook[h], pi)
		}
	}

	for h := range r.byHook {
		slices.SortStableFunc(r.byHook[h], comparePlugins)
	}

	return r
}

// comparePlugins orders by priority, then declaration order.
func comparePlugins(a, b *PluginInstance) int {
	return cmp.Or(
		cmp.Compare(a.Priority(), b.Priority()),
		cmp.Compare(a.index, b.index),
	)
}

// withoutUnavailable returns a registry whose hook lists exclude the named plugins.
func (r *Registry) withoutUnavailable(unavailable map[string]error) *Registry {
	if len(unavailable) == 0 {
		return r
	}
	return newRegistry(r.plugins, unavailable)
}

// PluginsFor returns the ordered plugins for a hook type.
// The returned slice is a copy and may be modified by the caller.
func (r *Registry) PluginsFor(hookType string) []*PluginInstance {
	return slices.Clone(r.byHook[hookType])
}

// ByName returns the plugin registered under name, including disabled ones.
func (r *Registry) ByName(name string) (*PluginInstance, error) {
	pi, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}
	return pi, nil
}

// Plugins returns every plugin in declaration order.
func (r *Registry) Plugins() []*PluginInstance {
	return slices.Clone(r.plugins)
}

// Hooks returns the hook types with at least one active plugin, sorted.
func (r *Registry) Hooks() []string {
	hs := make([]string, 0, len(r.byHook))
	for h := range r.byHook {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// active reports whether pi appears in at least one hook list.
func (r *Registry) active(pi *PluginInstance) bool {
	for _, h := range pi.config.Hooks {
		if slices.Contains(r.byHook[h], pi) {
			return true
		}
	}
	return false
}

// Names returns every plugin name in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for _, pi := range r.plugins {
		names = append(names, pi.Name())
	}
	return names
}
