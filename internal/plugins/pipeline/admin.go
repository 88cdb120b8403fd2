package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// HookResult is the JSON form of a ChainResult.
type HookResult struct {
	HookType           string         `json:"hook_type"`
	State              string         `json:"state"`
	ContinueProcessing bool           `json:"continue_processing"`
	ModifiedPayload    any            `json:"modified_payload,omitempty"`
	Violation          *pkg.Violation `json:"violation,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Plugins            []string       `json:"plugins"`
	Error              string         `json:"error,omitempty"`
}

// NewHookResult converts res for JSON output.
func NewHookResult(res *plugins.ChainResult) HookResult {
	out := HookResult{
		HookType:           res.HookType,
		State:              string(res.State),
		ContinueProcessing: res.Result.ContinueProcessing,
		ModifiedPayload:    res.Result.ModifiedPayload,
		Violation:          res.Result.Violation,
		Metadata:           res.Result.Metadata,
		Plugins:            make([]string, 0, len(res.Contexts)),
	}
	for _, c := range res.Contexts {
		out.Plugins = append(out.Plugins, c.PluginName())
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

type healthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RegisterAdminRoutes adds the management endpoints for a Manager to r:
//
//	GET  /health          liveness of the host
//	GET  /plugins         configured plugins and their status
//	GET  /plugins/health  per-plugin health checks
//	POST /hooks/{hook}    invoke a hook with a JSON payload
func RegisterAdminRoutes(r chi.Router, logger hclog.Logger, m *plugins.Manager) {
	logger = logger.Named("admin")

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "healthy"})
	})

	r.Get("/plugins", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Plugins())
	})

	r.Get("/plugins/health", func(w http.ResponseWriter, r *http.Request) {
		results := m.Health(r.Context())
		out := make(map[string]healthStatus, len(results))
		status := http.StatusOK
		for name, err := range results {
			if err != nil {
				out[name] = healthStatus{Status: "unhealthy", Error: err.Error()}
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = healthStatus{Status: "healthy"}
		}
		writeJSON(w, status, out)
	})

	r.Post("/hooks/{hook}", func(w http.ResponseWriter, r *http.Request) {
		hook := chi.URLParam(r, "hook")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(maxBodySize(m))))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		res, err := m.Invoke(r.Context(), hook, json.RawMessage(body), GlobalContextFromRequest(r))
		switch {
		case errors.Is(err, plugins.ErrUnknownHookType):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, plugins.ErrSchema):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, plugins.ErrNotInitialized):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		case err != nil:
			logger.Error("hook invocation failed", "hook", hook, "error", err)
			http.Error(w, "hook invocation failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, NewHookResult(res))
	})
}

func maxBodySize(m *plugins.Manager) int {
	if size := m.Settings().MaxPayloadSize; size > 0 {
		return size
	}
	return 1 << 20
}
