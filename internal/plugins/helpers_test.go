package plugins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	testHook = "my_custom_hook"
	testKind = "test"
)

type behaviorFunc func(ctx context.Context, payload *hooks.DataPayload, pctx *pkg.PluginContext) (*pkg.Result, error)

// callLog records which plugins ran, in order, and what they saw.
type callLog struct {
	mu    sync.Mutex
	names []string
	seen  map[string][]string
}

func (l *callLog) add(name string, payload any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen == nil {
		l.seen = make(map[string][]string)
	}
	l.names = append(l.names, name)
	if p, ok := payload.(*hooks.DataPayload); ok {
		l.seen[name] = append(l.seen[name], p.Data)
	}
}

func (l *callLog) order() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (l *callLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, v := range l.names {
		if v == name {
			n++
		}
	}
	return n
}

func (l *callLog) payloads(name string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen[name]...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = nil
	l.seen = nil
}

// lifecyclePlugin is a pass-through plugin with scripted Start and Stop.
type lifecyclePlugin struct {
	startErr error
	stopErr  error

	mu     sync.Mutex
	starts int
	stops  int
}

func (p *lifecyclePlugin) Invoke(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
	return pkg.Continue(), nil
}

func (p *lifecyclePlugin) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return p.startErr
}

func (p *lifecyclePlugin) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return p.stopErr
}

func (p *lifecyclePlugin) counts() (starts int, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.stops
}

// harness wires a hook registry and a factory table whose "test" kind builds
// recording plugins. Behaviors and fixed plugins must be set before manager.
type harness struct {
	t         *testing.T
	hookTypes *hooks.Registry
	factories *Factories
	log       *callLog
	behaviors map[string]behaviorFunc
	fixed     map[string]pkg.Plugin
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		hookTypes: hooks.NewRegistry(),
		factories: NewFactories(),
		log:       &callLog{},
		behaviors: make(map[string]behaviorFunc),
		fixed:     make(map[string]pkg.Plugin),
	}

	require.NoError(t, hooks.RegisterDataHook(h.hookTypes, testHook))
	require.NoError(t, hooks.RegisterDataHook(h.hookTypes, "other_hook"))
	require.NoError(t, hooks.RegisterHTTPHooks(h.hookTypes))

	require.NoError(t, h.factories.Register(testKind, func(cfg pkg.PluginConfig, _ hclog.Logger) (pkg.Plugin, error) {
		if p, ok := h.fixed[cfg.Name]; ok {
			return p, nil
		}
		name := cfg.Name
		behave := h.behaviors[name]
		return pkg.Func(func(ctx context.Context, _ string, payload any, pctx *pkg.PluginContext) (*pkg.Result, error) {
			h.log.add(name, payload)
			if behave == nil {
				return pkg.Continue(), nil
			}
			return behave(ctx, payload.(*hooks.DataPayload), pctx)
		}), nil
	}))

	return h
}

func (h *harness) behave(name string, fn behaviorFunc) {
	h.behaviors[name] = fn
}

// newManager builds a Manager without initializing it.
func (h *harness) newManager(settings Settings, descs ...pkg.PluginConfig) *Manager {
	h.t.Helper()

	m, err := NewManager(hclog.NewNullLogger(), settings, descs,
		WithHookRegistry(h.hookTypes),
		WithFactories(h.factories),
	)
	require.NoError(h.t, err)

	return m
}

// manager builds and initializes a Manager that is shut down with the test.
func (h *harness) manager(settings Settings, descs ...pkg.PluginConfig) *Manager {
	h.t.Helper()

	m := h.newManager(settings, descs...)
	require.NoError(h.t, m.Initialize(context.Background()))
	h.t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	return m
}

func testSettings() Settings {
	s := DefaultSettings()
	s.PluginTimeout = time.Second
	s.ShutdownTimeout = time.Second
	return s
}

func desc(name string, priority int, mode pkg.Mode) pkg.PluginConfig {
	return pkg.PluginConfig{
		Name:     name,
		Kind:     testKind,
		Hooks:    []string{testHook},
		Mode:     mode,
		Priority: priority,
	}
}

func data(s string) *hooks.DataPayload {
	return &hooks.DataPayload{Data: s}
}

func gctx() pkg.GlobalContext {
	return pkg.GlobalContext{RequestID: "req-1"}
}

func blockWith(code string) behaviorFunc {
	return func(context.Context, *hooks.DataPayload, *pkg.PluginContext) (*pkg.Result, error) {
		return pkg.Block(&pkg.Violation{Reason: "blocked in test", Code: code}), nil
	}
}

func appendText(suffix string) behaviorFunc {
	return func(_ context.Context, p *hooks.DataPayload, _ *pkg.PluginContext) (*pkg.Result, error) {
		return pkg.Modify(data(p.Data + suffix)), nil
	}
}

func failWith(err error) behaviorFunc {
	return func(context.Context, *hooks.DataPayload, *pkg.PluginContext) (*pkg.Result, error) {
		return nil, err
	}
}

// hang blocks until the plugin's deadline passes.
func hang(ctx context.Context, _ *hooks.DataPayload, _ *pkg.PluginContext) (*pkg.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
