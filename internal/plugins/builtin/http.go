package builtin

import (
	"context"
	"maps"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// HeaderRequestDuration is set on responses by the request timer.
const HeaderRequestDuration = "X-Request-Duration-Ms"

const stateStartedAt = "started_at"

var (
	_ pkg.Plugin = (*HeaderInjector)(nil)
	_ pkg.Plugin = (*RequestTimer)(nil)
)

// HeaderInjectorConfig lists headers to set on a payload.
type HeaderInjectorConfig struct {
	Headers   map[string]string `yaml:"headers" validate:"required,min=1"`
	Overwrite bool              `yaml:"overwrite"`
}

// HeaderInjector adds fixed headers to HTTP payloads.
type HeaderInjector struct {
	base
	cfg HeaderInjectorConfig
}

// NewHeaderInjector is the factory for KindHeaderInjector.
func NewHeaderInjector(cfg pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	var c HeaderInjectorConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	return &HeaderInjector{base: base{logger: logger}, cfg: c}, nil
}

// Invoke returns the payload with the configured headers added.
// Existing headers are kept unless Overwrite is set.
func (h *HeaderInjector) Invoke(_ context.Context, _ string, payload any, _ *pkg.PluginContext) (*pkg.Result, error) {
	hp, ok := payload.(hooks.HeaderPayload)
	if !ok {
		return pkg.Continue(), nil
	}

	headers := hp.HeaderMap()
	if headers == nil {
		headers = make(map[string]string, len(h.cfg.Headers))
	}

	changed := false
	for k, v := range h.cfg.Headers {
		if _, exists := headers[k]; exists && !h.cfg.Overwrite {
			continue
		}
		headers[k] = v
		changed = true
	}

	if !changed {
		return pkg.Continue(), nil
	}

	return pkg.Modify(hp.WithHeaders(headers)), nil
}

// RequestTimer measures the time between http_pre_request and
// http_post_response of one request. The start time lives in the plugin's
// context, so it only works when the host continues the pre-request contexts.
type RequestTimer struct {
	base
	now func() time.Time
}

// NewRequestTimer is the factory for KindRequestTimer.
func NewRequestTimer(_ pkg.PluginConfig, logger hclog.Logger) (pkg.Plugin, error) {
	return &RequestTimer{base: base{logger: logger}, now: time.Now}, nil
}

// Invoke records the start on the request and reports the duration on the response.
func (r *RequestTimer) Invoke(_ context.Context, hookType string, payload any, pctx *pkg.PluginContext) (*pkg.Result, error) {
	switch hookType {
	case hooks.HTTPPreRequest:
		pctx.Set(stateStartedAt, r.now().UnixNano())
		return pkg.Continue(), nil

	case hooks.HTTPPostResponse:
		started, ok := startedAt(pctx)
		if !ok {
			r.logger.Debug("no start time in context", "request_id", pctx.Global().RequestID)
			return pkg.Continue(), nil
		}

		elapsed := r.now().Sub(started)
		ms := elapsed.Milliseconds()
		pctx.SetMetadata("elapsed_ms", ms)

		res := &pkg.Result{
			ContinueProcessing: true,
			Metadata:           map[string]any{"elapsed_ms": ms},
		}
		if resp, ok := payload.(*hooks.HTTPResponsePayload); ok {
			headers := maps.Clone(resp.Headers)
			if headers == nil {
				headers = make(map[string]string, 1)
			}
			headers[HeaderRequestDuration] = strconv.FormatInt(ms, 10)
			res.ModifiedPayload = resp.WithHeaders(headers)
		}
		return res, nil
	}

	return pkg.Continue(), nil
}

// startedAt reads the start time, which may have round-tripped through JSON.
func startedAt(pctx *pkg.PluginContext) (time.Time, bool) {
	v, ok := pctx.Get(stateStartedAt)
	if !ok {
		return time.Time{}, false
	}

	switch n := v.(type) {
	case int64:
		return time.Unix(0, n), true
	case float64:
		return time.Unix(0, int64(n)), true
	default:
		return time.Time{}, false
	}
}
