package plugins

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	pb "github.com/mozilla-ai/mcpd-plugins-sdk-go/pkg/plugins/v1/plugins"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Headers forwarded to remote plugins alongside each hook request.
const (
	HeaderHookType  = "X-Hook-Type"
	HeaderPlugin    = "X-Plugin-Name"
	HeaderRequestID = "X-Request-Id"
	HeaderUser      = "X-User"
	HeaderTenantID  = "X-Tenant-Id"
	HeaderServerID  = "X-Server-Id"
)

const envelopeContentType = "application/vnd.plugin-hooks.v1+json"

// hookRequest is the JSON body sent to a remote plugin.
type hookRequest struct {
	HookType   string            `json:"hook_type"`
	PluginName string            `json:"plugin_name"`
	Payload    json.RawMessage   `json:"payload"`
	Global     pkg.GlobalContext `json:"global_context"`
	State      map[string]any    `json:"state,omitempty"`
	Config     map[string]any    `json:"config,omitempty"`
}

// hookResponse is the JSON body a remote plugin answers with.
// An empty body means "continue unchanged".
type hookResponse struct {
	ContinueProcessing *bool           `json:"continue_processing,omitempty"`
	ModifiedPayload    json.RawMessage `json:"modified_payload,omitempty"`
	Violation          *pkg.Violation  `json:"violation,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	State              map[string]any  `json:"state,omitempty"`
}

// encodeHookRequest builds the wire request for one invocation.
// The payload is serialized through the hook's payload schema.
func encodeHookRequest(
	ht hooks.HookType,
	cfg pkg.PluginConfig,
	payload any,
	pctx *pkg.PluginContext,
	maxPayloadSize int,
) (*pb.HTTPRequest, error) {
	data, err := ht.Payload.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if maxPayloadSize > 0 && len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: encoded payload is %d bytes, limit is %d", ErrInvalidPayload, len(data), maxPayloadSize)
	}

	req := hookRequest{
		HookType:   ht.Name,
		PluginName: cfg.Name,
		Payload:    data,
		Config:     cfg.Config,
	}
	if pctx != nil {
		req.Global = pctx.Global()
		req.State = pctx.State()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	headers := map[string]string{
		"Content-Type":  envelopeContentType,
		HeaderHookType:  ht.Name,
		HeaderPlugin:    cfg.Name,
		HeaderRequestID: req.Global.RequestID,
	}
	setIfNotEmpty(headers, HeaderUser, req.Global.User)
	setIfNotEmpty(headers, HeaderTenantID, req.Global.TenantID)
	setIfNotEmpty(headers, HeaderServerID, req.Global.ServerID)

	return &pb.HTTPRequest{
		Method:     "POST",
		Url:        "hook://" + cfg.Name + "/" + ht.Name,
		Path:       "/hooks/" + ht.Name,
		Headers:    headers,
		Body:       body,
		RequestUri: "/hooks/" + ht.Name,
	}, nil
}

// decodeHookResponse turns the wire response into a Result, restoring any
// state the remote plugin returned into pctx.
func decodeHookResponse(ht hooks.HookType, resp *pb.HTTPResponse, pctx *pkg.PluginContext) (*pkg.Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response from remote plugin", ErrPluginExecution)
	}

	var body hookResponse
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			if !resp.Continue {
				// A plain-text rejection is still a rejection.
				return pkg.Block(rejectionViolation(resp)), nil
			}
			return nil, fmt.Errorf("%w: malformed response: %w", ErrPluginExecution, err)
		}
	}

	res := &pkg.Result{
		ContinueProcessing: resp.Continue,
		Violation:          body.Violation,
		Metadata:           body.Metadata,
	}
	if body.ContinueProcessing != nil {
		res.ContinueProcessing = *body.ContinueProcessing
	}

	if !res.ContinueProcessing && res.Violation == nil {
		res.Violation = rejectionViolation(resp)
	}

	if res.ContinueProcessing && len(body.ModifiedPayload) > 0 && string(body.ModifiedPayload) != "null" {
		modified, err := ht.Result.Decode(body.ModifiedPayload)
		if err != nil {
			return nil, fmt.Errorf("%w: modified payload: %w", ErrPluginExecution, err)
		}
		res.ModifiedPayload = modified
	}

	if body.State != nil && pctx != nil {
		pctx.ReplaceState(body.State)
	}

	return res, nil
}

// rejectionViolation describes a rejection that carried no structured violation.
func rejectionViolation(resp *pb.HTTPResponse) *pkg.Violation {
	v := &pkg.Violation{
		Reason: "rejected by remote plugin",
		Code:   defaultViolationCode,
	}
	if resp.StatusCode > 0 {
		v.Code = "HTTP_" + strconv.Itoa(int(resp.StatusCode))
	}
	if desc := strings.TrimSpace(string(resp.Body)); desc != "" {
		v.Description = desc
	}
	return v
}

// customConfig flattens opaque plugin settings into the string map the
// remote Configure call accepts. Non-string values are JSON encoded.
func customConfig(cfg map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", k, err)
		}
		out[k] = string(data)
	}
	return out, nil
}

func setIfNotEmpty(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
