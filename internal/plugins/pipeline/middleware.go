package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Request headers that populate the Global Context.
const (
	HeaderRequestID = "X-Request-Id"
	HeaderUser      = "X-User"
	HeaderTenantID  = "X-Tenant-Id"
	HeaderServerID  = "X-Server-Id"
)

// Middleware returns a Chi-compatible middleware that runs every request
// through http_pre_request and its response through http_post_response.
func (p *Pipeline) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			gctx := GlobalContextFromRequest(r)

			req, err := requestPayload(r)
			if err != nil {
				http.Error(w, "Failed to process request", http.StatusInternalServerError)
				p.logger.Error("failed to read request", "error", err)
				return
			}

			modified, preRes, err := p.RunRequest(ctx, req, gctx)
			if err != nil {
				http.Error(w, "Failed to process request", http.StatusInternalServerError)
				p.logger.Error("request hooks failed", "request_id", gctx.RequestID, "error", err)
				return
			}
			if p.halted(w, preRes) {
				return
			}

			applyRequest(r, modified)

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			resp := &hooks.HTTPResponsePayload{
				StatusCode: recorder.statusCode,
				Headers:    convertHeadersToMap(recorder.Header()),
				Body:       recorder.body.String(),
			}

			final, postRes, err := p.RunResponse(ctx, resp, gctx, preRes.ContextTable())
			if err != nil {
				http.Error(w, "Failed to process response", http.StatusInternalServerError)
				p.logger.Error("response hooks failed", "request_id", gctx.RequestID, "error", err)
				return
			}
			if p.halted(w, postRes) {
				return
			}

			writeResponse(w, final)
		})
	}
}

// halted writes the error response for a chain that did not complete.
func (p *Pipeline) halted(w http.ResponseWriter, res *plugins.ChainResult) bool {
	switch res.State {
	case plugins.StateBlocked:
		p.logger.Info("request blocked by plugin",
			"hook", res.HookType,
			"plugin", res.Result.Violation.PluginName,
			"code", res.Result.Violation.Code)
		writeJSON(w, http.StatusForbidden, violationBody{
			Error:     "request blocked by plugin",
			Violation: res.Result.Violation,
		})
		return true
	case plugins.StateFailed:
		p.logger.Error("plugin chain failed", "hook", res.HookType, "error", res.Err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return true
	default:
		return false
	}
}

type violationBody struct {
	Error     string         `json:"error"`
	Violation *pkg.Violation `json:"violation,omitempty"`
}

// GlobalContextFromRequest builds the Global Context for an inbound request.
// The request id comes from chi's RequestID middleware, then the
// X-Request-Id header, and is generated when neither is present.
func GlobalContextFromRequest(r *http.Request) pkg.GlobalContext {
	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get(HeaderRequestID)
	}
	if id == "" {
		id = uuid.NewString()
	}

	return pkg.GlobalContext{
		RequestID: id,
		User:      r.Header.Get(HeaderUser),
		TenantID:  r.Header.Get(HeaderTenantID),
		ServerID:  r.Header.Get(HeaderServerID),
	}
}

// requestPayload converts *http.Request to the http_pre_request payload.
func requestPayload(r *http.Request) (*hooks.HTTPRequestPayload, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return &hooks.HTTPRequestPayload{
		Method:     r.Method,
		Path:       r.URL.Path,
		URL:        r.URL.String(),
		Headers:    convertHeadersToMap(r.Header),
		Body:       string(body),
		RemoteAddr: r.RemoteAddr,
	}, nil
}

// applyRequest copies a plugin's modifications back onto r.
// Headers missing from req are removed; unchanged ones keep all their values.
func applyRequest(r *http.Request, req *hooks.HTTPRequestPayload) {
	keep := make(map[string]struct{}, len(req.Headers))
	for k, v := range req.Headers {
		keep[http.CanonicalHeaderKey(k)] = struct{}{}
		if r.Header.Get(k) != v {
			r.Header.Set(k, v)
		}
	}
	for k := range r.Header {
		if _, ok := keep[http.CanonicalHeaderKey(k)]; !ok {
			r.Header.Del(k)
		}
	}

	body := []byte(req.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
}

// writeResponse writes the http_post_response payload to w.
func writeResponse(w http.ResponseWriter, resp *hooks.HTTPResponsePayload) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(resp.StatusCode)

	if len(resp.Body) > 0 {
		_, _ = io.WriteString(w, resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// convertHeadersToMap converts http.Header to map[string]string (first value only).
func convertHeadersToMap(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

// responseRecorder buffers the response from the next handler so that
// response hooks can replace it before anything reaches the client.
type responseRecorder struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
	wrote      bool
}

// newResponseRecorder creates a new responseRecorder.
func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

// Header returns the buffered headers.
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// WriteHeader captures the status code. Only the first call counts.
func (r *responseRecorder) WriteHeader(code int) {
	if r.wrote {
		return
	}
	r.statusCode = code
	r.wrote = true
}

// Write captures the response body.
func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.body.Write(b)
}
