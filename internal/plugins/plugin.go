package plugins

import (
	"context"
	"sync"
	"time"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// PluginInstance represents a configured plugin to the Manager.
// This encapsulates the descriptor, its compiled conditions, its position in
// the declaration order, and (once initialized) the invocation capability.
// NOTE: Instances are created by BuildRegistry.
type PluginInstance struct {
	pkg.Plugin

	config     pkg.PluginConfig
	index      int
	conditions conditionSet
}

// Name returns the plugin's unique name.
func (pi *PluginInstance) Name() string { return pi.config.Name }

// Config returns a copy of the plugin's descriptor.
func (pi *PluginInstance) Config() pkg.PluginConfig { return pi.config.Clone() }

// Mode returns the enforcement mode.
func (pi *PluginInstance) Mode() pkg.Mode { return pi.config.Mode }

// Priority returns the plugin's priority.
func (pi *PluginInstance) Priority() int { return pi.config.Priority }

// Required reports whether start-up failures of this plugin are fatal.
func (pi *PluginInstance) Required() bool { return pi.config.Required }

// Remote reports whether the plugin is externally hosted.
func (pi *PluginInstance) Remote() bool { return pi.config.IsRemote() }

// CanHandle reports whether the plugin is configured for the hook type.
func (pi *PluginInstance) CanHandle(hookType string) bool {
	return pi.config.HandlesHook(hookType)
}

// Eligible evaluates the plugin's conditions against a request.
func (pi *PluginInstance) Eligible(gctx pkg.GlobalContext) bool {
	return pi.conditions.eligible(gctx)
}

// Timeout returns the plugin's deadline, falling back to def.
func (pi *PluginInstance) Timeout(def time.Duration) time.Duration {
	if pi.config.Timeout > 0 {
		return pi.config.Timeout
	}
	return def
}

// Ensure localPlugin implements pkg.Plugin.
var _ pkg.Plugin = (*localPlugin)(nil)

// localPlugin wraps an in-process plugin so Start and Stop are idempotent.
type localPlugin struct {
	pkg.Plugin

	mu      sync.Mutex
	started bool
}

func (l *localPlugin) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}
	if err := l.Plugin.Start(ctx); err != nil {
		return err
	}
	l.started = true

	return nil
}

func (l *localPlugin) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}
	l.started = false

	return l.Plugin.Stop(ctx)
}

// Health forwards to the wrapped plugin when it can report health.
func (l *localPlugin) Health(ctx context.Context) error {
	if hc, ok := l.Plugin.(pkg.HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}
