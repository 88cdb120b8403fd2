package plugin

import (
	"maps"
)

// GlobalContext carries immutable, per-request identifying data.
// It is created by the host for each inbound request and read by the engine
// and every plugin invoked for that request. Do not mutate it after creation.
type GlobalContext struct {
	RequestID string `json:"request_id"`
	User      string `json:"user,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	ServerID  string `json:"server_id,omitempty"`

	// Attributes holds additional host-defined request data.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attribute returns a host-defined attribute.
func (g GlobalContext) Attribute(key string) string {
	return g.Attributes[key]
}

// PluginContext is mutable state owned by a single plugin for the duration of
// one chain invocation. A host that passes the same PluginContext to a later
// invocation (e.g. a post hook paired with a pre hook) continues the chain.
// A PluginContext is never shared between concurrent requests, so it is not
// synchronized.
// NOTE: Use NewPluginContext to create a PluginContext.
type PluginContext struct {
	pluginName string
	global     GlobalContext
	state      map[string]any
	metadata   map[string]any
}

// NewPluginContext creates an empty PluginContext for the named plugin.
func NewPluginContext(pluginName string, global GlobalContext) *PluginContext {
	return &PluginContext{
		pluginName: pluginName,
		global:     global,
		state:      make(map[string]any),
		metadata:   make(map[string]any),
	}
}

// PluginName returns the name of the plugin owning this context.
func (c *PluginContext) PluginName() string {
	return c.pluginName
}

// Global returns the request's global context.
func (c *PluginContext) Global() GlobalContext {
	return c.global
}

// Get returns a state value.
func (c *PluginContext) Get(key string) (any, bool) {
	v, ok := c.state[key]
	return v, ok
}

// Set stores a state value.
func (c *PluginContext) Set(key string, value any) {
	c.state[key] = value
}

// Delete removes a state value.
func (c *PluginContext) Delete(key string) {
	delete(c.state, key)
}

// State returns a copy of the state map.
func (c *PluginContext) State() map[string]any {
	return maps.Clone(c.state)
}

// SetMetadata stores a metadata value describing this plugin's run.
func (c *PluginContext) SetMetadata(key string, value any) {
	c.metadata[key] = value
}

// Metadata returns a copy of the metadata map.
func (c *PluginContext) Metadata() map[string]any {
	return maps.Clone(c.metadata)
}

// ReplaceState swaps the state map wholesale, used when state comes back from a remote plugin.
func (c *PluginContext) ReplaceState(state map[string]any) {
	if state == nil {
		state = make(map[string]any)
	}
	c.state = state
}

// Clone returns a copy of c with its own state and metadata maps.
func (c *PluginContext) Clone() *PluginContext {
	return &PluginContext{
		pluginName: c.pluginName,
		global:     c.global,
		state:      maps.Clone(c.state),
		metadata:   maps.Clone(c.metadata),
	}
}

// Adopt takes over the state and metadata of other, typically a clone that a
// finished invocation worked on. other must not be used afterwards.
func (c *PluginContext) Adopt(other *PluginContext) {
	c.state = other.state
	c.metadata = other.metadata
}

// ContextTable maps plugin names to the contexts they ran with.
// Hosts keep it to continue a chain across a paired pre/post invocation.
type ContextTable map[string]*PluginContext
