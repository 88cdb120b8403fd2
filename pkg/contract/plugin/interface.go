package plugin

import (
	"context"
)

// Plugin defines the invocation capability shared by in-process plugins and
// proxies for externally hosted plugins.
//
// A single Plugin value serves every concurrent request, so any mutable state it
// holds must be synchronized, or live in the PluginContext handed to Invoke.
type Plugin interface {
	// Invoke runs the plugin for one hook invocation.
	// The payload has already passed the hook's payload schema.
	// A nil Result is treated as "continue, no changes".
	Invoke(ctx context.Context, hookType string, payload any, pctx *PluginContext) (*Result, error)

	// Start prepares the plugin to receive traffic (connect, warm caches, etc.).
	// Implementations must tolerate repeated calls.
	Start(ctx context.Context) error

	// Stop releases resources held by the plugin.
	// Implementations must tolerate repeated calls and calls without a prior Start.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by plugins that can report their health.
type HealthChecker interface {
	// Health returns an error if the plugin is unhealthy.
	Health(ctx context.Context) error
}

// Func adapts an ordinary function to the Plugin interface.
// Start and Stop are no-ops.
type Func func(ctx context.Context, hookType string, payload any, pctx *PluginContext) (*Result, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, hookType string, payload any, pctx *PluginContext) (*Result, error) {
	return f(ctx, hookType, payload, pctx)
}

// Start implements Plugin.
func (f Func) Start(context.Context) error { return nil }

// Stop implements Plugin.
func (f Func) Stop(context.Context) error { return nil }
