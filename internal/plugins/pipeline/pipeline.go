package pipeline

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Invoker runs hook chains. *plugins.Manager satisfies it.
type Invoker interface {
	Invoke(
		ctx context.Context,
		hookType string,
		payload any,
		gctx pkg.GlobalContext,
		opts ...plugins.InvokeOption,
	) (*plugins.ChainResult, error)
}

// Ensure the manager can drive a Pipeline.
var _ Invoker = (*plugins.Manager)(nil)

// Pipeline runs the HTTP hook pair for requests passing through the host.
// NOTE: Use NewPipeline to create a new Pipeline.
type Pipeline struct {
	logger  hclog.Logger
	invoker Invoker
}

// NewPipeline constructs a Pipeline.
func NewPipeline(logger hclog.Logger, invoker Invoker) *Pipeline {
	return &Pipeline{
		logger:  logger.Named("pipeline"),
		invoker: invoker,
	}
}

// RunRequest runs the http_pre_request chain.
// The returned request is the last accepted modification, or req itself.
func (p *Pipeline) RunRequest(
	ctx context.Context,
	req *hooks.HTTPRequestPayload,
	gctx pkg.GlobalContext,
) (*hooks.HTTPRequestPayload, *plugins.ChainResult, error) {
	res, err := p.invoker.Invoke(ctx, hooks.HTTPPreRequest, req, gctx)
	if err != nil {
		return nil, nil, err
	}

	out, ok := res.PayloadOr(req).(*hooks.HTTPRequestPayload)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected %s payload type %T", hooks.HTTPPreRequest, res.PayloadOr(req))
	}

	return out, res, nil
}

// RunResponse runs the http_post_response chain, continuing the Plugin
// Contexts of the matching request chain.
func (p *Pipeline) RunResponse(
	ctx context.Context,
	resp *hooks.HTTPResponsePayload,
	gctx pkg.GlobalContext,
	contexts pkg.ContextTable,
) (*hooks.HTTPResponsePayload, *plugins.ChainResult, error) {
	res, err := p.invoker.Invoke(ctx, hooks.HTTPPostResponse, resp, gctx, plugins.WithContexts(contexts))
	if err != nil {
		return nil, nil, err
	}

	out, ok := res.PayloadOr(resp).(*hooks.HTTPResponsePayload)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected %s payload type %T", hooks.HTTPPostResponse, res.PayloadOr(resp))
	}

	return out, res, nil
}
