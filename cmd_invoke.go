package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peteski22/plugin-hooks/internal/plugins"
	"github.com/peteski22/plugin-hooks/internal/plugins/pipeline"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// errChainHalted is returned when an invoked chain did not complete.
var errChainHalted = errors.New("hook chain halted")

type invokeOptions struct {
	payloadFile string
	plugin      string
	raise       bool
	requestID   string
	user        string
	tenantID    string
	serverID    string
}

func newInvokeCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &invokeOptions{}

	cmd := &cobra.Command{
		Use:   "invoke <hook> [payload-json]",
		Short: "Run a hook once through the configured plugins and print the result",
		Long: "Run a hook once through the configured plugins and print the result.\n" +
			"The payload is read from the argument, from --file, or from stdin when neither is given.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, rootFlags, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.payloadFile, "file", "f", "", "Read the JSON payload from a file")
	cmd.Flags().StringVar(&opts.plugin, "plugin", "", "Invoke only the named plugin")
	cmd.Flags().BoolVar(&opts.raise, "raise", false, "With --plugin, report a violation as an error")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "Request id (generated when empty)")
	cmd.Flags().StringVar(&opts.user, "user", "", "User for condition matching")
	cmd.Flags().StringVar(&opts.tenantID, "tenant", "", "Tenant id for condition matching")
	cmd.Flags().StringVar(&opts.serverID, "server", "", "Server id for condition matching")

	return cmd
}

func runInvoke(cmd *cobra.Command, rootFlags *rootFlags, opts *invokeOptions, args []string) error {
	hook := args[0]

	payload, err := readPayload(cmd, opts, args)
	if err != nil {
		return err
	}

	a, err := loadApp(rootFlags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	manager, err := a.newManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing plugins: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to stop plugins", "error", err)
		}
	}()

	gctx := pkg.GlobalContext{
		RequestID: opts.requestID,
		User:      opts.user,
		TenantID:  opts.tenantID,
		ServerID:  opts.serverID,
	}
	if gctx.RequestID == "" {
		gctx.RequestID = uuid.NewString()
	}

	var res *plugins.ChainResult
	if opts.plugin != "" {
		res, err = manager.InvokeFor(ctx, opts.plugin, hook, payload, pkg.NewPluginContext(opts.plugin, gctx), opts.raise)
	} else {
		res, err = manager.Invoke(ctx, hook, payload, gctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(pipeline.NewHookResult(res)); err != nil {
		return err
	}

	if res.State != plugins.StateCompleted {
		return fmt.Errorf("%w: %s", errChainHalted, res.State)
	}

	return nil
}

func readPayload(cmd *cobra.Command, opts *invokeOptions, args []string) (json.RawMessage, error) {
	switch {
	case len(args) == 2:
		return json.RawMessage(args[1]), nil
	case opts.payloadFile != "":
		data, err := os.ReadFile(opts.payloadFile)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return data, nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return data, nil
	}
}
