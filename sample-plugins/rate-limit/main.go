package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	pluginv1 "github.com/mozilla-ai/mcpd-plugins-sdk-go/pkg/plugins/v1/plugins"
	"google.golang.org/protobuf/types/known/emptypb"
)

const (
	defaultBudget = 100
	defaultWindow = time.Minute
	codeLimited   = "RATE_LIMITED"
)

// hookRequest is the part of the host's hook envelope the limiter reads.
type hookRequest struct {
	HookType string `json:"hook_type"`
	Global   struct {
		User     string `json:"user"`
		TenantID string `json:"tenant_id"`
	} `json:"global_context"`
}

// hookResponse is the envelope returned to the host.
type hookResponse struct {
	ContinueProcessing bool           `json:"continue_processing"`
	Violation          *violation     `json:"violation,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type violation struct {
	Reason  string         `json:"reason"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// fixedWindow counts calls per caller and forgets every count when the window rolls over.
type fixedWindow struct {
	mu      sync.Mutex
	budget  int
	length  time.Duration
	started time.Time
	counts  map[string]int
	now     func() time.Time
}

func newFixedWindow(budget int, length time.Duration) *fixedWindow {
	w := &fixedWindow{budget: budget, length: length, now: time.Now}
	w.reset(w.now())
	return w
}

func (w *fixedWindow) reset(at time.Time) {
	w.started = at
	w.counts = make(map[string]int)
}

// take spends one unit of the caller's budget. It reports the units left and
// when the window ends, and ok is false once the budget is gone.
func (w *fixedWindow) take(caller string) (left int, resetAt time.Time, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if now := w.now(); now.Sub(w.started) >= w.length {
		w.reset(now)
	}
	resetAt = w.started.Add(w.length)

	if w.counts[caller] >= w.budget {
		return 0, resetAt, false
	}
	w.counts[caller]++

	return w.budget - w.counts[caller], resetAt, true
}

// RateLimitPlugin limits how often each caller may pass through a hook.
type RateLimitPlugin struct {
	pluginv1.BasePlugin

	mu     sync.RWMutex
	window *fixedWindow
}

func newRateLimitPlugin() *RateLimitPlugin {
	return &RateLimitPlugin{}
}

func (p *RateLimitPlugin) GetMetadata(context.Context, *emptypb.Empty) (*pluginv1.Metadata, error) {
	return &pluginv1.Metadata{
		Name:        "rate-limit",
		Version:     "2.1.0",
		Description: "Per-caller fixed-window limits for hook invocations",
	}, nil
}

func (p *RateLimitPlugin) GetCapabilities(context.Context, *emptypb.Empty) (*pluginv1.Capabilities, error) {
	return &pluginv1.Capabilities{
		Flows: []pluginv1.Flow{pluginv1.FlowRequest},
	}, nil
}

// Configure reads "max_requests" (a positive integer) and "window" (a Go
// duration). Unset keys keep their defaults; malformed ones fail.
func (p *RateLimitPlugin) Configure(_ context.Context, cfg *pluginv1.PluginConfig) (*emptypb.Empty, error) {
	budget, length := defaultBudget, defaultWindow

	if raw, ok := cfg.CustomConfig["max_requests"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("max_requests must be a positive integer, got %q", raw)
		}
		budget = n
	}

	if raw, ok := cfg.CustomConfig["window"]; ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("window must be a positive duration, got %q", raw)
		}
		length = d
	}

	p.mu.Lock()
	p.window = newFixedWindow(budget, length)
	p.mu.Unlock()

	log.Printf("rate-limit configured: %d calls per %s", budget, length)

	return &emptypb.Empty{}, nil
}

func (p *RateLimitPlugin) Stop(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	p.mu.Lock()
	p.window = nil
	p.mu.Unlock()

	return &emptypb.Empty{}, nil
}

func (p *RateLimitPlugin) CheckHealth(ctx context.Context, e *emptypb.Empty) (*emptypb.Empty, error) {
	return p.CheckReady(ctx, e)
}

func (p *RateLimitPlugin) CheckReady(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	if p.current() == nil {
		return nil, fmt.Errorf("rate-limit not configured")
	}
	return &emptypb.Empty{}, nil
}

func (p *RateLimitPlugin) current() *fixedWindow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.window
}

// HandleRequest spends one call from the caller's budget, and blocks the
// hook once the budget for the current window is gone.
func (p *RateLimitPlugin) HandleRequest(_ context.Context, req *pluginv1.HTTPRequest) (*pluginv1.HTTPResponse, error) {
	w := p.current()
	if w == nil {
		return nil, fmt.Errorf("rate-limit not configured")
	}

	var in hookRequest
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return nil, fmt.Errorf("decoding hook request: %w", err)
	}

	caller := callerID(in, req.Headers)
	left, resetAt, ok := w.take(caller)

	if !ok {
		log.Printf("rate-limit: %s over budget on %s", caller, in.HookType)
		return encodeResponse(hookResponse{
			Violation: &violation{
				Reason: "rate limit exceeded",
				Code:   codeLimited,
				Details: map[string]any{
					"limit":    w.budget,
					"reset_at": resetAt.Unix(),
				},
			},
		})
	}

	return encodeResponse(hookResponse{
		ContinueProcessing: true,
		Metadata: map[string]any{
			"limit":     w.budget,
			"remaining": left,
			"reset_at":  resetAt.Unix(),
		},
	})
}

func encodeResponse(out hookResponse) (*pluginv1.HTTPResponse, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &pluginv1.HTTPResponse{
		Continue: out.ContinueProcessing,
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     body,
	}, nil
}

// callerID picks the request's user, then its tenant, then the forwarded client address.
func callerID(in hookRequest, headers map[string]string) string {
	switch {
	case in.Global.User != "":
		return "user:" + in.Global.User
	case in.Global.TenantID != "":
		return "tenant:" + in.Global.TenantID
	case headers["X-Forwarded-For"] != "":
		return "addr:" + headers["X-Forwarded-For"]
	default:
		return "anonymous"
	}
}

func main() {
	log.SetFlags(0)

	if err := pluginv1.Serve(newRateLimitPlugin()); err != nil {
		log.Fatal(err)
	}
}
