package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	"github.com/peteski22/plugin-hooks/internal/plugins/builtin"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	customHook  = "my_custom_hook"
	kindFailing = "test/failing"
	kindStrip   = "test/strip_secret"
)

func newManager(t *testing.T, settings plugins.Settings, descs ...pkg.PluginConfig) *plugins.Manager {
	t.Helper()

	hookTypes := hooks.NewRegistry()
	require.NoError(t, hooks.RegisterHTTPHooks(hookTypes))
	require.NoError(t, hooks.RegisterDataHook(hookTypes, customHook))

	factories := plugins.NewFactories()
	require.NoError(t, builtin.Register(factories))
	require.NoError(t, factories.Register(kindFailing, func(pkg.PluginConfig, hclog.Logger) (pkg.Plugin, error) {
		return pkg.Func(func(context.Context, string, any, *pkg.PluginContext) (*pkg.Result, error) {
			return nil, errors.New("backend down")
		}), nil
	}))
	require.NoError(t, factories.Register(kindStrip, func(pkg.PluginConfig, hclog.Logger) (pkg.Plugin, error) {
		return pkg.Func(func(_ context.Context, _ string, payload any, _ *pkg.PluginContext) (*pkg.Result, error) {
			out := *payload.(*hooks.HTTPRequestPayload)
			out.Headers = maps.Clone(out.Headers)
			delete(out.Headers, "X-Secret")
			return pkg.Modify(&out), nil
		}), nil
	}))

	m, err := plugins.NewManager(hclog.NewNullLogger(), settings, descs,
		plugins.WithHookRegistry(hookTypes),
		plugins.WithFactories(factories),
	)
	require.NoError(t, err)

	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	return m
}

func plugin(name, kind string, priority int, config map[string]any, hookTypes ...string) pkg.PluginConfig {
	return pkg.PluginConfig{
		Name:     name,
		Kind:     kind,
		Hooks:    hookTypes,
		Mode:     pkg.ModeEnforce,
		Priority: priority,
		Config:   config,
	}
}

// echoHandler writes back the request body and the X-Injected header.
func echoHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Seen-Injected", r.Header.Get("X-Injected"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})
}

func serve(t *testing.T, m *plugins.Manager, req *http.Request, called *bool) *httptest.ResponseRecorder {
	t.Helper()

	handler := NewPipeline(hclog.NewNullLogger(), m).Middleware()(echoHandler(called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestMiddleware_PassThrough(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings())

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("hello")), &called)

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestMiddleware_BlockedRequest(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(),
		plugin("deny", builtin.KindDenyList, 0, map[string]any{"words": []any{"forbidden"}}, hooks.HTTPPreRequest),
	)

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("this is forbidden")), &called)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body violationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "request blocked by plugin", body.Error)
	require.NotNil(t, body.Violation)
	assert.Equal(t, builtin.CodeDeniedContent, body.Violation.Code)
	assert.Equal(t, "deny", body.Violation.PluginName)
}

func TestMiddleware_BlockedResponse(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(),
		plugin("deny", builtin.KindDenyList, 0, map[string]any{"words": []any{"leak"}}, hooks.HTTPPostResponse),
	)

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("a leak")), &called)

	assert.True(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "a leak")
}

func TestMiddleware_ModifiesRequestAndResponse(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(),
		plugin("inject", builtin.KindHeaderInjector, 0, map[string]any{"headers": map[string]any{"X-Injected": "yes"}}, hooks.HTTPPreRequest),
		plugin("shout", builtin.KindUppercase, 10, nil, hooks.HTTPPostResponse),
	)

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("hello")), &called)

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Seen-Injected"))
	assert.Equal(t, "HELLO", rec.Body.String())
}

func TestMiddleware_RemovesDroppedRequestHeaders(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(), plugin("strip", kindStrip, 0, nil, hooks.HTTPPreRequest))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/echo", strings.NewReader("hello"))
	req.Header.Set("X-Secret", "hunter2")
	req.Header.Add("Accept", "text/plain")
	req.Header.Add("Accept", "application/json")

	var called bool
	var seen http.Header
	handler := NewPipeline(hclog.NewNullLogger(), m).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, called)
	assert.Empty(t, seen.Values("X-Secret"))
	assert.Equal(t, []string{"text/plain", "application/json"}, seen.Values("Accept"))
}

func TestMiddleware_ContinuesContextsIntoResponse(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(),
		plugin("timer", builtin.KindRequestTimer, 0, nil, hooks.HTTPPreRequest, hooks.HTTPPostResponse),
	)

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/v1/example", nil), &called)

	assert.True(t, called)
	assert.NotEmpty(t, rec.Header().Get(builtin.HeaderRequestDuration))
}

func TestMiddleware_FailedChain(t *testing.T) {
	t.Parallel()

	settings := plugins.DefaultSettings()
	settings.FailOnPluginError = true
	m := newManager(t, settings, plugin("flaky", kindFailing, 0, nil, hooks.HTTPPreRequest))

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/v1/example", nil), &called)

	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddleware_SwallowedFailure(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(), plugin("flaky", kindFailing, 0, nil, hooks.HTTPPreRequest))

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/v1/example", nil), &called)

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMiddleware_ManagerNotInitialized(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings())
	require.NoError(t, m.Shutdown(context.Background()))

	var called bool
	rec := serve(t, m, httptest.NewRequest(http.MethodGet, "/api/v1/example", nil), &called)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGlobalContextFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "from-header")
	req.Header.Set(HeaderUser, "alice")
	req.Header.Set(HeaderTenantID, "acme")
	req.Header.Set(HeaderServerID, "edge-1")

	gctx := GlobalContextFromRequest(req)
	assert.Equal(t, pkg.GlobalContext{RequestID: "from-header", User: "alice", TenantID: "acme", ServerID: "edge-1"}, gctx)

	ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "from-chi")
	assert.Equal(t, "from-chi", GlobalContextFromRequest(req.WithContext(ctx)).RequestID)

	generated := GlobalContextFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, generated.RequestID, 36)
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings(),
		plugin("upper", builtin.KindUppercase, 0, nil, customHook),
		plugin("broken", kindFailing, 10, nil, customHook),
	)

	r := chi.NewRouter()
	RegisterAdminRoutes(r, hclog.NewNullLogger(), m)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(http.MethodGet, "/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []plugins.PluginInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "upper", infos[0].Name)
	assert.Equal(t, plugins.StatusActive, infos[0].Status)

	rec = do(http.MethodGet, "/plugins/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/hooks/"+customHook, `{"data":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res HookResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, customHook, res.HookType)
	assert.Equal(t, string(plugins.StateCompleted), res.State)
	assert.True(t, res.ContinueProcessing)
	assert.Equal(t, map[string]any{"data": "HI"}, res.ModifiedPayload)
	assert.Equal(t, []string{"upper", "broken"}, res.Plugins)

	rec = do(http.MethodPost, "/hooks/no_such_hook", `{"data":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/hooks/"+customHook, `{"data":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/hooks/"+customHook, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_NotInitialized(t *testing.T) {
	t.Parallel()

	m := newManager(t, plugins.DefaultSettings())
	require.NoError(t, m.Shutdown(context.Background()))

	r := chi.NewRouter()
	RegisterAdminRoutes(r, hclog.NewNullLogger(), m)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/"+customHook, strings.NewReader(`{"data":"hi"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
