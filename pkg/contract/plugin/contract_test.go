package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{
		"enforce":               ModeEnforce,
		" Enforce_Ignore_Error": ModeEnforceIgnoreError,
		"PERMISSIVE":            ModePermissive,
		"disabled":              ModeDisabled,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("audit")
	require.ErrorContains(t, err, `unknown plugin mode: "audit"`)

	assert.True(t, ModeEnforce.HaltsOnViolation())
	assert.True(t, ModeEnforceIgnoreError.HaltsOnViolation())
	assert.False(t, ModePermissive.HaltsOnViolation())
	assert.False(t, ModeDisabled.HaltsOnViolation())
}

func TestPluginContext(t *testing.T) {
	t.Parallel()

	pctx := NewPluginContext("timer", GlobalContext{RequestID: "r1", Attributes: map[string]string{"region": "eu"}})
	assert.Equal(t, "timer", pctx.PluginName())
	assert.Equal(t, "eu", pctx.Global().Attribute("region"))

	pctx.Set("k", 1)
	v, ok := pctx.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	state := pctx.State()
	state["k"] = 2
	v, _ = pctx.Get("k")
	assert.Equal(t, 1, v)

	pctx.Delete("k")
	_, ok = pctx.Get("k")
	assert.False(t, ok)

	pctx.SetMetadata("m", "x")
	assert.Equal(t, map[string]any{"m": "x"}, pctx.Metadata())

	work := pctx.Clone()
	work.Set("cloned", 1)
	work.SetMetadata("m", "y")
	_, ok = pctx.Get("cloned")
	assert.False(t, ok)
	assert.Equal(t, "timer", work.PluginName())

	pctx.Adopt(work)
	v, ok = pctx.Get("cloned")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, map[string]any{"m": "y"}, pctx.Metadata())

	pctx.ReplaceState(nil)
	assert.Empty(t, pctx.State())
	pctx.Set("after", true)
	assert.Equal(t, map[string]any{"after": true}, pctx.State())
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, &Result{ContinueProcessing: true}, Continue())
	assert.Equal(t, &Result{ContinueProcessing: true, ModifiedPayload: "p"}, Modify("p"))

	v := &Violation{Reason: "too long", Code: "DATA_TOO_LONG", Details: map[string]any{"n": 1}, PluginName: "lc"}
	assert.Equal(t, &Result{Violation: v}, Block(v))
	assert.Equal(t, "DATA_TOO_LONG: too long (lc)", v.String())

	var nilViolation *Violation
	assert.Equal(t, "<nil>", nilViolation.String())
	assert.Nil(t, nilViolation.Clone())

	c := v.Clone()
	c.Details["n"] = 2
	assert.Equal(t, 1, v.Details["n"])
}

func TestPluginConfigClone(t *testing.T) {
	t.Parallel()

	verify := false
	orig := PluginConfig{
		Name:       "remote",
		Hooks:      []string{"a"},
		Conditions: []Conditions{{Users: []string{"alice"}}},
		Config:     map[string]any{"k": "v"},
		Remote: &RemoteConfig{
			Transport: TransportProcess,
			Command:   "/bin/plugin",
			Args:      []string{"--x"},
			TLS:       &TLSConfig{Verify: &verify},
		},
	}

	c := orig.Clone()
	c.Hooks[0] = "b"
	c.Conditions[0].Users[0] = "bob"
	c.Config["k"] = "changed"
	c.Remote.Args[0] = "--y"
	c.Remote.TLS.ServerName = "other"

	assert.Equal(t, []string{"a"}, orig.Hooks)
	assert.Equal(t, []string{"alice"}, orig.Conditions[0].Users)
	assert.Equal(t, "v", orig.Config["k"])
	assert.Equal(t, []string{"--x"}, orig.Remote.Args)
	assert.Empty(t, orig.Remote.TLS.ServerName)

	assert.True(t, orig.IsRemote())
	assert.True(t, orig.HandlesHook("a"))
	assert.False(t, orig.HandlesHook("b"))
	assert.False(t, orig.Remote.TLS.VerifyServer())
	assert.True(t, TLSConfig{}.VerifyServer())
	assert.True(t, Conditions{}.Empty())
	assert.Nil(t, PluginConfig{}.Clone().Conditions)
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var p Plugin = Func(func(_ context.Context, hookType string, _ any, _ *PluginContext) (*Result, error) {
		return Modify(hookType), nil
	})

	require.NoError(t, p.Start(context.Background()))
	res, err := p.Invoke(context.Background(), "h", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "h", res.ModifiedPayload)
	require.NoError(t, p.Stop(context.Background()))
}
