package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const customHook = "my_custom_hook"

func newFactories(t *testing.T) *plugins.Factories {
	t.Helper()

	f := plugins.NewFactories()
	require.NoError(t, Register(f))

	return f
}

func newPlugin(t *testing.T, kind string, config map[string]any) pkg.Plugin {
	t.Helper()

	p, err := newFactories(t).New(pkg.PluginConfig{Name: "under-test", Kind: kind, Config: config}, hclog.NewNullLogger())
	require.NoError(t, err)

	return p
}

func invoke(t *testing.T, p pkg.Plugin, hookType string, payload any, pctx *pkg.PluginContext) *pkg.Result {
	t.Helper()

	if pctx == nil {
		pctx = pkg.NewPluginContext("under-test", pkg.GlobalContext{RequestID: "r"})
	}
	res, err := p.Invoke(context.Background(), hookType, payload, pctx)
	require.NoError(t, err)
	require.NotNil(t, res)

	return res
}

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newFactories(t)
	assert.Equal(t, []string{
		KindDenyList,
		KindHeaderInjector,
		KindLengthValidator,
		KindRequestTimer,
		KindUppercase,
	}, f.Kinds())

	require.Error(t, Register(f))
}

func TestFactories_RejectBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		kind   string
		config map[string]any
	}{
		{name: "length without max", kind: KindLengthValidator},
		{name: "length min above max", kind: KindLengthValidator, config: map[string]any{"max_length": 5, "min_length": 6}},
		{name: "length wrong type", kind: KindLengthValidator, config: map[string]any{"max_length": "lots"}},
		{name: "deny list empty", kind: KindDenyList, config: map[string]any{"words": []any{}}},
		{name: "header injector empty", kind: KindHeaderInjector},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := newFactories(t).New(pkg.PluginConfig{Name: "bad", Kind: tc.kind, Config: tc.config}, hclog.NewNullLogger())
			require.ErrorContains(t, err, `plugin "bad" config`)
		})
	}
}

func TestLengthValidator(t *testing.T) {
	t.Parallel()

	p := newPlugin(t, KindLengthValidator, map[string]any{"max_length": 10, "min_length": 2})

	res := invoke(t, p, customHook, &hooks.DataPayload{Data: "héllo"}, nil)
	assert.True(t, res.ContinueProcessing)
	assert.Equal(t, map[string]any{"length": 5}, res.Metadata)

	res = invoke(t, p, customHook, &hooks.DataPayload{Data: "this is too long"}, nil)
	assert.False(t, res.ContinueProcessing)
	require.NotNil(t, res.Violation)
	assert.Equal(t, CodeDataTooLong, res.Violation.Code)
	assert.Equal(t, 16, res.Violation.Details["length"])
	assert.Equal(t, 10, res.Violation.Details["max_length"])

	res = invoke(t, p, customHook, &hooks.DataPayload{Data: "x"}, nil)
	assert.False(t, res.ContinueProcessing)
	assert.Equal(t, CodeDataTooShort, res.Violation.Code)

	res = invoke(t, p, customHook, struct{}{}, nil)
	assert.True(t, res.ContinueProcessing)
}

func TestUppercase(t *testing.T) {
	t.Parallel()

	p := newPlugin(t, KindUppercase, nil)

	res := invoke(t, p, customHook, &hooks.DataPayload{Data: "ok"}, nil)
	assert.Equal(t, &hooks.DataPayload{Data: "OK"}, res.ModifiedPayload)

	res = invoke(t, p, customHook, &hooks.DataPayload{Data: "ALREADY"}, nil)
	assert.True(t, res.ContinueProcessing)
	assert.Nil(t, res.ModifiedPayload)

	in := &hooks.HTTPRequestPayload{Method: "POST", Path: "/", Body: "body", Headers: map[string]string{"A": "1"}}
	res = invoke(t, p, hooks.HTTPPreRequest, in, nil)
	out, ok := res.ModifiedPayload.(*hooks.HTTPRequestPayload)
	require.True(t, ok)
	assert.Equal(t, "BODY", out.Body)
	assert.Equal(t, "body", in.Body)
}

func TestDenyList(t *testing.T) {
	t.Parallel()

	p := newPlugin(t, KindDenyList, map[string]any{"words": []any{"Secret", "password"}})

	res := invoke(t, p, customHook, &hooks.DataPayload{Data: "my SECRET plan"}, nil)
	assert.False(t, res.ContinueProcessing)
	assert.Equal(t, CodeDeniedContent, res.Violation.Code)
	assert.Equal(t, "secret", res.Violation.Details["word"])

	res = invoke(t, p, customHook, &hooks.DataPayload{Data: "harmless"}, nil)
	assert.True(t, res.ContinueProcessing)
	assert.Nil(t, res.Violation)
}

func TestHeaderInjector(t *testing.T) {
	t.Parallel()

	in := &hooks.HTTPRequestPayload{Method: "GET", Path: "/", Headers: map[string]string{"X-Env": "dev"}}

	p := newPlugin(t, KindHeaderInjector, map[string]any{
		"headers": map[string]any{"X-Env": "prod", "X-Gateway": "hooks"},
	})
	res := invoke(t, p, hooks.HTTPPreRequest, in, nil)
	out := res.ModifiedPayload.(*hooks.HTTPRequestPayload)
	assert.Equal(t, map[string]string{"X-Env": "dev", "X-Gateway": "hooks"}, out.Headers)
	assert.Equal(t, map[string]string{"X-Env": "dev"}, in.Headers)

	p = newPlugin(t, KindHeaderInjector, map[string]any{
		"headers":   map[string]any{"X-Env": "prod"},
		"overwrite": true,
	})
	res = invoke(t, p, hooks.HTTPPreRequest, in, nil)
	assert.Equal(t, map[string]string{"X-Env": "prod"}, res.ModifiedPayload.(*hooks.HTTPRequestPayload).Headers)

	p = newPlugin(t, KindHeaderInjector, map[string]any{"headers": map[string]any{"X-Env": "prod"}})
	res = invoke(t, p, hooks.HTTPPreRequest, in, nil)
	assert.Nil(t, res.ModifiedPayload)

	res = invoke(t, p, customHook, &hooks.DataPayload{Data: "x"}, nil)
	assert.Nil(t, res.ModifiedPayload)
}

func TestRequestTimer(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := start

	p := newPlugin(t, KindRequestTimer, nil).(*RequestTimer)
	p.now = func() time.Time { return clock }

	pctx := pkg.NewPluginContext("under-test", pkg.GlobalContext{RequestID: "r"})

	res := invoke(t, p, hooks.HTTPPreRequest, &hooks.HTTPRequestPayload{Method: "GET", Path: "/"}, pctx)
	assert.True(t, res.ContinueProcessing)

	clock = start.Add(250 * time.Millisecond)
	res = invoke(t, p, hooks.HTTPPostResponse, &hooks.HTTPResponsePayload{StatusCode: 200}, pctx)

	assert.Equal(t, map[string]any{"elapsed_ms": int64(250)}, res.Metadata)
	out := res.ModifiedPayload.(*hooks.HTTPResponsePayload)
	assert.Equal(t, "250", out.Headers[HeaderRequestDuration])
	assert.Equal(t, int64(250), pctx.Metadata()["elapsed_ms"])
}

func TestRequestTimer_StateFromJSON(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	p := newPlugin(t, KindRequestTimer, nil).(*RequestTimer)
	p.now = func() time.Time { return start.Add(time.Second) }

	pctx := pkg.NewPluginContext("under-test", pkg.GlobalContext{RequestID: "r"})
	pctx.ReplaceState(map[string]any{stateStartedAt: float64(start.UnixNano())})

	res := invoke(t, p, hooks.HTTPPostResponse, &hooks.HTTPResponsePayload{StatusCode: 204}, pctx)
	assert.Equal(t, int64(1000), res.Metadata["elapsed_ms"])
}

func TestRequestTimer_WithoutStart(t *testing.T) {
	t.Parallel()

	p := newPlugin(t, KindRequestTimer, nil)

	res := invoke(t, p, hooks.HTTPPostResponse, &hooks.HTTPResponsePayload{StatusCode: 200}, nil)
	assert.True(t, res.ContinueProcessing)
	assert.Nil(t, res.ModifiedPayload)
}

// TestBuiltinChain runs a length check ahead of an upper-casing transformer
// on a host-defined hook.
func TestBuiltinChain(t *testing.T) {
	t.Parallel()

	hookTypes := hooks.NewRegistry()
	require.NoError(t, hooks.RegisterDataHook(hookTypes, customHook))

	m, err := plugins.NewManager(hclog.NewNullLogger(), plugins.DefaultSettings(), []pkg.PluginConfig{
		{
			Name:     "length_check",
			Kind:     KindLengthValidator,
			Hooks:    []string{customHook},
			Mode:     pkg.ModeEnforce,
			Priority: 10,
			Config:   map[string]any{"max_length": 10},
		},
		{
			Name:     "transformer",
			Kind:     KindUppercase,
			Hooks:    []string{customHook},
			Mode:     pkg.ModePermissive,
			Priority: 50,
		},
	}, plugins.WithHookRegistry(hookTypes), plugins.WithFactories(newFactories(t)))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	gctx := pkg.GlobalContext{RequestID: "req-1"}

	res, err := m.Invoke(ctx, customHook, &hooks.DataPayload{Data: "this is too long"}, gctx)
	require.NoError(t, err)
	assert.Equal(t, plugins.StateBlocked, res.State)
	assert.False(t, res.Result.ContinueProcessing)
	assert.Equal(t, CodeDataTooLong, res.Result.Violation.Code)
	assert.Equal(t, "length_check", res.Result.Violation.PluginName)
	require.Len(t, res.Contexts, 1)

	res, err = m.Invoke(ctx, customHook, &hooks.DataPayload{Data: "ok"}, gctx)
	require.NoError(t, err)
	assert.Equal(t, plugins.StateCompleted, res.State)
	assert.True(t, res.Result.ContinueProcessing)
	assert.Equal(t, &hooks.DataPayload{Data: "OK"}, res.Result.ModifiedPayload)
	assert.Equal(t, map[string]any{"length": 2}, res.Result.Metadata["length_check"])
}
