package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	pb "github.com/mozilla-ai/mcpd-plugins-sdk-go/pkg/plugins/v1/plugins"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// Ensure grpcPluginAdapter implements the plugin contracts.
var (
	_ pkg.Plugin        = (*grpcPluginAdapter)(nil)
	_ pkg.HealthChecker = (*grpcPluginAdapter)(nil)
)

// dialFunc opens a client to a remote plugin.
type dialFunc func(target string, creds credentials.TransportCredentials) (pb.PluginClient, io.Closer, error)

// grpcPluginAdapter proxies hook invocations to an externally hosted plugin.
// One connection is held per adapter and shared by concurrent invocations.
// NOTE: Use NewGRPCPluginAdapter to create a grpcPluginAdapter.
type grpcPluginAdapter struct {
	cfg            pkg.PluginConfig
	hookTypes      *hooks.Registry
	maxPayloadSize int
	logger         hclog.Logger
	dial           dialFunc

	mu       sync.RWMutex
	client   pb.PluginClient
	conn     io.Closer
	process  *pluginProcess
	metadata *pb.Metadata
}

// NewGRPCPluginAdapter creates the remote proxy for a descriptor with a Remote section.
// No connection is made until Start.
func NewGRPCPluginAdapter(
	cfg pkg.PluginConfig,
	hookTypes *hooks.Registry,
	settings Settings,
	logger hclog.Logger,
) (pkg.Plugin, error) {
	if !cfg.IsRemote() {
		return nil, fmt.Errorf("plugin %q has no remote endpoint", cfg.Name)
	}

	return &grpcPluginAdapter{
		cfg:            cfg,
		hookTypes:      hookTypes,
		maxPayloadSize: settings.MaxPayloadSize,
		logger:         logger,
		dial:           dialGRPC,
	}, nil
}

func dialGRPC(target string, creds credentials.TransportCredentials) (pb.PluginClient, io.Closer, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, err
	}
	return pb.NewPluginClient(conn), conn, nil
}

// Start connects to the plugin, configures it and checks that it is ready.
// For the process transport the plugin binary is launched first.
func (g *grpcPluginAdapter) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return nil
	}

	remote := g.cfg.Remote

	creds, err := transportCredentials(remote.TLS)
	if err != nil {
		return fmt.Errorf("configuring TLS: %w", err)
	}

	var target string
	switch remote.Transport {
	case pkg.TransportProcess:
		proc, err := launchPlugin(ctx, g.logger, g.cfg.Name, remote)
		if err != nil {
			return err
		}
		g.process = proc
		target = proc.target()
	case pkg.TransportUnix:
		target = remote.Address
		if !strings.HasPrefix(target, "unix:") {
			target = "unix://" + target
		}
	default:
		target = remote.Address
	}

	client, conn, err := g.dial(target, creds)
	if err != nil {
		g.abortStart()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}
	g.client, g.conn = client, conn

	if err := g.handshake(ctx); err != nil {
		g.abortStart()
		return err
	}

	g.logger.Info("remote plugin started",
		"target", target,
		"remote_name", g.metadata.GetName(),
		"remote_version", g.metadata.GetVersion())

	return nil
}

func (g *grpcPluginAdapter) handshake(ctx context.Context) error {
	md, err := g.client.GetMetadata(ctx, &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}
	g.metadata = md

	custom, err := customConfig(g.cfg.Config)
	if err != nil {
		return fmt.Errorf("encoding plugin config: %w", err)
	}
	if _, err := g.client.Configure(ctx, &pb.PluginConfig{CustomConfig: custom}); err != nil {
		return fmt.Errorf("failed to configure plugin: %w", err)
	}

	if _, err := g.client.CheckReady(ctx, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("plugin not ready: %w", err)
	}

	return nil
}

// abortStart releases whatever a failed Start acquired. Callers hold g.mu.
func (g *grpcPluginAdapter) abortStart() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close connection", "error", err)
		}
	}
	if g.process != nil {
		g.process.kill()
	}
	g.client, g.conn, g.process, g.metadata = nil, nil, nil, nil
}

// Stop asks the plugin to stop, closes the connection and ends any launched process.
func (g *grpcPluginAdapter) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil
	}

	var errs []error

	if _, err := g.client.Stop(ctx, &emptypb.Empty{}); err != nil {
		g.logger.Warn("graceful stop failed", "error", err)
	}

	if err := g.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}

	if g.process != nil {
		if err := g.process.stop(); err != nil {
			errs = append(errs, err)
		}
	}

	g.client, g.conn, g.process, g.metadata = nil, nil, nil, nil

	return errors.Join(errs...)
}

// Health reports the remote plugin's health check.
func (g *grpcPluginAdapter) Health(ctx context.Context) error {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()

	if client == nil {
		return ErrPluginUnavailable
	}

	_, err := client.CheckHealth(ctx, &emptypb.Empty{})
	return err
}

// Invoke sends one hook invocation to the plugin. Cancelling ctx cancels the RPC.
func (g *grpcPluginAdapter) Invoke(ctx context.Context, hookType string, payload any, pctx *pkg.PluginContext) (*pkg.Result, error) {
	g.mu.RLock()
	client := g.client
	g.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("%w: remote plugin not started", ErrPluginExecution)
	}

	ht, err := g.hookTypes.Resolve(hookType)
	if err != nil {
		return nil, err
	}

	req, err := encodeHookRequest(ht, g.cfg, payload, pctx, g.maxPayloadSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPluginExecution, err)
	}

	resp, err := client.HandleRequest(ctx, req)
	if err != nil {
		return nil, normalizeError(err)
	}

	return decodeHookResponse(ht, resp, pctx)
}
