package plugins

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	phaseInitialize = "initialize"
	phaseShutdown   = "shutdown"
)

const (
	// StatusActive is a plugin that runs for its hooks.
	StatusActive PluginStatus = "active"

	// StatusDisabled is a plugin configured with the disabled mode.
	StatusDisabled PluginStatus = "disabled"

	// StatusUnavailable is a plugin that failed to initialize this session.
	StatusUnavailable PluginStatus = "unavailable"
)

// PluginStatus describes whether a configured plugin takes part in hook chains.
type PluginStatus string

// PluginInfo is the introspection view of one configured plugin.
type PluginInfo struct {
	Name        string       `json:"name"`
	Kind        string       `json:"kind,omitempty"`
	Version     string       `json:"version,omitempty"`
	Description string       `json:"description,omitempty"`
	Hooks       []string     `json:"hooks"`
	Mode        pkg.Mode     `json:"mode"`
	Priority    int          `json:"priority"`
	Remote      bool         `json:"remote"`
	Required    bool         `json:"required"`
	Status      PluginStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// Manager is the dispatch engine. It owns the plugin registry and every
// plugin's lifecycle, and runs hook chains for concurrent callers.
// NOTE: Use NewManager to create a Manager.
type Manager struct {
	logger      hclog.Logger
	settings    Settings
	descriptors []pkg.PluginConfig
	hookTypes   *hooks.Registry
	factories   *Factories
	telemetry   *telemetry

	// mu serializes Initialize and Shutdown. Invocations never take it.
	mu          sync.Mutex
	registry    atomic.Pointer[Registry]
	started     []*PluginInstance
	unavailable map[string]error
	initialized bool
}

type managerOptions struct {
	hookTypes      *hooks.Registry
	factories      *Factories
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithHookRegistry sets the hook type registry. The default is hooks.Default.
func WithHookRegistry(r *hooks.Registry) Option {
	return func(o *managerOptions) {
		o.hookTypes = r
	}
}

// WithFactories sets the table used to construct in-process plugins.
func WithFactories(f *Factories) Option {
	return func(o *managerOptions) {
		o.factories = f
	}
}

// WithTracerProvider sets the provider for chain and plugin spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *managerOptions) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the provider for plugin metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *managerOptions) {
		o.meterProvider = mp
	}
}

// NewManager creates a Manager for the given descriptors.
// Nothing is validated or started until Initialize.
//
// Start settings from DefaultSettings. A zero Settings value leaves
// EnablePluginAPI false, so every hook passes through without running any
// plugin; zero timeouts fall back to their defaults.
func NewManager(logger hclog.Logger, settings Settings, descriptors []pkg.PluginConfig, opts ...Option) (*Manager, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plugin settings: %w", err)
	}

	o := managerOptions{
		hookTypes: hooks.Default,
		factories: NewFactories(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	descs := make([]pkg.PluginConfig, 0, len(descriptors))
	for _, d := range descriptors {
		descs = append(descs, d.Clone())
	}

	return &Manager{
		logger:      logger.Named("plugin-manager"),
		settings:    settings,
		descriptors: descs,
		hookTypes:   o.hookTypes,
		factories:   o.factories,
		telemetry:   newTelemetry(o.tracerProvider, o.meterProvider),
	}, nil
}

// Settings returns the manager-wide settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

// HookTypes returns the hook type registry the manager resolves against.
func (m *Manager) HookTypes() *hooks.Registry {
	return m.hookTypes
}

// Initialize builds the registry and starts every plugin.
// A plugin that fails to construct or start is marked unavailable and left
// out of every hook list; see Unavailable. When that plugin is required the
// plugins already started are stopped again and the failure is returned.
// Calling Initialize on an initialized Manager does nothing.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	if !m.settings.EnablePluginAPI {
		m.logger.Warn("plugin API disabled, hooks pass through", "configured_plugins", len(m.descriptors))
		m.registry.Store(newRegistry(nil, nil))
		m.initialized = true
		return nil
	}

	reg, err := BuildRegistry(m.descriptors, m.hookTypes, m.factories)
	if err != nil {
		return err
	}

	unavailable := make(map[string]error)
	var failures []*PluginError

	candidates := make([]*PluginInstance, 0, len(reg.plugins))
	for _, pi := range reg.plugins {
		if pi.Mode() == pkg.ModeDisabled {
			m.logger.Debug("plugin disabled", "plugin", pi.Name())
			continue
		}

		p, err := m.construct(pi)
		if err != nil {
			failures = append(failures, initFailure(pi, err))
			unavailable[pi.Name()] = err
			continue
		}
		pi.Plugin = p
		candidates = append(candidates, pi)
	}

	startErrs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, pi := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startErrs[i] = pi.Start(ctx)
		}()
	}
	wg.Wait()

	started := make([]*PluginInstance, 0, len(candidates))
	for i, pi := range candidates {
		if startErrs[i] != nil {
			failures = append(failures, initFailure(pi, startErrs[i]))
			unavailable[pi.Name()] = startErrs[i]
			continue
		}
		started = append(started, pi)
		m.logger.Info("plugin started", "plugin", pi.Name(), "remote", pi.Remote(), "hooks", pi.config.Hooks)
	}

	for _, f := range failures {
		m.logger.Error("plugin failed to initialize", "plugin", f.Plugin, "error", f.Err)
	}

	if escalated := requiredFailures(reg, failures); len(escalated) > 0 {
		if err := m.stopAll(ctx, started); err != nil {
			m.logger.Warn("failed to stop plugins after required plugin failure", "error", err)
		}
		return &LifecycleError{Phase: phaseInitialize, Failures: escalated}
	}

	m.started = started
	m.unavailable = unavailable
	m.registry.Store(reg.withoutUnavailable(unavailable))
	m.initialized = true

	m.logger.Info("plugin manager initialized",
		"plugins", len(reg.plugins),
		"started", len(started),
		"unavailable", len(unavailable))

	return nil
}

// construct creates the invocation capability for pi.
func (m *Manager) construct(pi *PluginInstance) (pkg.Plugin, error) {
	logger := m.logger.Named(pi.Name())

	if pi.Remote() {
		return NewGRPCPluginAdapter(pi.config, m.hookTypes, m.settings, logger)
	}

	p, err := m.factories.New(pi.config, logger)
	if err != nil {
		return nil, err
	}

	return &localPlugin{Plugin: p}, nil
}

func initFailure(pi *PluginInstance, err error) *PluginError {
	return &PluginError{Plugin: pi.Name(), Err: fmt.Errorf("%w: %w", ErrPluginInitialization, err)}
}

// requiredFailures returns the failures of required plugins, marked as escalated.
func requiredFailures(reg *Registry, failures []*PluginError) []*PluginError {
	var out []*PluginError
	for _, f := range failures {
		pi, err := reg.ByName(f.Plugin)
		if err != nil || !pi.Required() {
			continue
		}
		out = append(out, &PluginError{
			Plugin: f.Plugin,
			Err:    fmt.Errorf("%w: %w", ErrRequiredPluginFailed, f.Err),
		})
	}
	return out
}

// Shutdown stops every started plugin, each bounded by Settings.ShutdownTimeout.
// Failures are isolated per plugin and returned together as a *LifecycleError.
// Calling Shutdown on a Manager that is not initialized does nothing.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}

	started := m.started
	m.registry.Store(nil)
	m.started = nil
	m.unavailable = nil
	m.initialized = false

	err := m.stopAll(ctx, started)
	m.logger.Info("plugin manager shut down", "plugins", len(started))

	return err
}

// stopAll stops plugins concurrently.
func (m *Manager) stopAll(ctx context.Context, plugins []*PluginInstance) error {
	errs := make([]error, len(plugins))

	var wg sync.WaitGroup
	for i, pi := range plugins {
		wg.Add(1)
		go func() {
			defer wg.Done()

			stopCtx := ctx
			if m.settings.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				stopCtx, cancel = context.WithTimeout(ctx, m.settings.ShutdownTimeout)
				defer cancel()
			}

			errs[i] = pi.Stop(stopCtx)
		}()
	}
	wg.Wait()

	var failures []*PluginError
	for i, pi := range plugins {
		if errs[i] == nil {
			m.logger.Debug("plugin stopped", "plugin", pi.Name())
			continue
		}
		m.logger.Error("error stopping plugin", "plugin", pi.Name(), "error", errs[i])
		failures = append(failures, &PluginError{
			Plugin: pi.Name(),
			Err:    fmt.Errorf("%w: %w", ErrPluginShutdown, errs[i]),
		})
	}

	if len(failures) > 0 {
		return &LifecycleError{Phase: phaseShutdown, Failures: failures}
	}

	return nil
}

// InvokeOption configures a single Invoke call.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	contexts pkg.ContextTable
}

// WithContexts continues the Plugin Contexts of an earlier chain, such as the
// pre-request half of a request/response pair. Plugins without an entry get a
// new context.
func WithContexts(table pkg.ContextTable) InvokeOption {
	return func(o *invokeOptions) {
		o.contexts = table
	}
}

// Invoke runs the chain of plugins registered for hookType.
// Plugin violations and faults are reported through the returned ChainResult.
// An error is returned only for an uninitialized Manager, an unknown hook
// type, or a payload that fails the hook's schema.
func (m *Manager) Invoke(
	ctx context.Context,
	hookType string,
	payload any,
	gctx pkg.GlobalContext,
	opts ...InvokeOption,
) (*ChainResult, error) {
	reg := m.registry.Load()
	if reg == nil {
		return nil, ErrNotInitialized
	}

	ht, validated, err := m.resolve(hookType, payload)
	if err != nil {
		return nil, err
	}

	var o invokeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := m.telemetry.startChain(ctx, hookType, gctx.RequestID)
	res := newChain(ht, m.settings, m.logger, m.telemetry, gctx, o.contexts, validated).
		run(ctx, reg.PluginsFor(hookType))
	m.telemetry.endChain(span, res.State, res.Err)

	return res, nil
}

// InvokeFor runs exactly one named plugin for hookType, under the same timeout
// and mode rules as a chain of one. The plugin's conditions are evaluated
// against pctx's Global Context. When raiseOnViolation is set a blocking
// violation is returned as a *ViolationError.
func (m *Manager) InvokeFor(
	ctx context.Context,
	name string,
	hookType string,
	payload any,
	pctx *pkg.PluginContext,
	raiseOnViolation bool,
) (*ChainResult, error) {
	reg := m.registry.Load()
	if reg == nil {
		return nil, ErrNotInitialized
	}

	pi, err := reg.ByName(name)
	if err != nil {
		return nil, err
	}
	if !pi.CanHandle(hookType) {
		return nil, fmt.Errorf("%w: %q does not handle %q", ErrHookMismatch, name, hookType)
	}
	if !reg.active(pi) {
		return nil, fmt.Errorf("%w: %q", ErrPluginUnavailable, name)
	}
	if pctx != nil && pctx.PluginName() != name {
		return nil, fmt.Errorf("%w: %q was given the context of %q", ErrContextMismatch, name, pctx.PluginName())
	}

	ht, validated, err := m.resolve(hookType, payload)
	if err != nil {
		return nil, err
	}

	var gctx pkg.GlobalContext
	var continued pkg.ContextTable
	if pctx != nil {
		gctx = pctx.Global()
		continued = pkg.ContextTable{name: pctx}
	}

	ctx, span := m.telemetry.startChain(ctx, hookType, gctx.RequestID)
	res := newChain(ht, m.settings, m.logger, m.telemetry, gctx, continued, validated).
		run(ctx, []*PluginInstance{pi})
	m.telemetry.endChain(span, res.State, res.Err)

	if raiseOnViolation && res.State == StateBlocked {
		return nil, &ViolationError{Violation: res.Result.Violation}
	}

	return res, nil
}

// resolve looks up the hook type and validates payload against its schema.
func (m *Manager) resolve(hookType string, payload any) (hooks.HookType, any, error) {
	ht, err := m.hookTypes.Resolve(hookType)
	if err != nil {
		return hooks.HookType{}, nil, err
	}

	validated, err := ht.Payload.Validate(payload)
	if err != nil {
		return hooks.HookType{}, nil, fmt.Errorf("hook %q payload: %w", hookType, err)
	}

	return ht, validated, nil
}

// Plugins describes every configured plugin in declaration order.
func (m *Manager) Plugins() []PluginInfo {
	m.mu.Lock()
	unavailable := maps.Clone(m.unavailable)
	m.mu.Unlock()

	reg := m.registry.Load()
	if reg == nil {
		return nil
	}

	infos := make([]PluginInfo, 0, len(reg.plugins))
	for _, pi := range reg.plugins {
		infos = append(infos, pluginInfo(pi, unavailable[pi.Name()]))
	}

	return infos
}

// Plugin describes the named plugin.
func (m *Manager) Plugin(name string) (PluginInfo, error) {
	reg := m.registry.Load()
	if reg == nil {
		return PluginInfo{}, ErrNotInitialized
	}

	pi, err := reg.ByName(name)
	if err != nil {
		return PluginInfo{}, err
	}

	m.mu.Lock()
	initErr := m.unavailable[name]
	m.mu.Unlock()

	return pluginInfo(pi, initErr), nil
}

func pluginInfo(pi *PluginInstance, initErr error) PluginInfo {
	info := PluginInfo{
		Name:        pi.config.Name,
		Kind:        pi.config.Kind,
		Version:     pi.config.Version,
		Description: pi.config.Description,
		Hooks:       pi.Config().Hooks,
		Mode:        pi.Mode(),
		Priority:    pi.Priority(),
		Remote:      pi.Remote(),
		Required:    pi.Required(),
		Status:      StatusActive,
	}

	switch {
	case pi.Mode() == pkg.ModeDisabled:
		info.Status = StatusDisabled
	case initErr != nil:
		info.Status = StatusUnavailable
		info.Error = initErr.Error()
	}

	return info
}

// Unavailable returns the plugins that failed to initialize, with their errors.
func (m *Manager) Unavailable() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.unavailable)
}

// Health checks every active plugin that can report its health.
// Unavailable plugins report their initialization error.
func (m *Manager) Health(ctx context.Context) map[string]error {
	reg := m.registry.Load()
	if reg == nil {
		return nil
	}

	unavailable := m.Unavailable()
	out := make(map[string]error, len(reg.plugins))

	for _, pi := range reg.plugins {
		if err, down := unavailable[pi.Name()]; down {
			out[pi.Name()] = fmt.Errorf("%w: %w", ErrPluginUnavailable, err)
			continue
		}
		if !reg.active(pi) {
			continue
		}
		if hc, ok := pi.Plugin.(pkg.HealthChecker); ok {
			out[pi.Name()] = hc.Health(ctx)
			continue
		}
		out[pi.Name()] = nil
	}

	return out
}
