package main

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/peteski22/plugin-hooks/internal/config"
	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	"github.com/peteski22/plugin-hooks/internal/plugins/builtin"
)

const appName = "plugin-hooks"

type rootFlags struct {
	configPath string
	logLevel   string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Host application that dispatches hooks to plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "plugins.yaml", "Path to the configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "Environment files loaded before the configuration")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newPluginsCmd(flags))
	cmd.AddCommand(newInvokeCmd(flags))

	return cmd
}

// app is everything a command needs to talk to plugins.
type app struct {
	cfg       *config.Config
	logger    hclog.Logger
	hookTypes *hooks.Registry
	factories *plugins.Factories
}

// loadApp reads the configuration and prepares hook types and factories.
// Logs go to logOutput.
func loadApp(flags *rootFlags, logOutput io.Writer) (*app, error) {
	if err := config.LoadEnv(flags.envFiles...); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Level()
	if flags.logLevel != "" {
		level = hclog.LevelFromString(flags.logLevel)
		if level == hclog.NoLevel {
			return nil, fmt.Errorf("unknown log level %q", flags.logLevel)
		}
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   appName,
		Level:  level,
		Output: logOutput,
	})

	hookTypes := hooks.NewRegistry()
	if err := cfg.RegisterHooks(hookTypes); err != nil {
		return nil, fmt.Errorf("registering hook types: %w", err)
	}

	factories := plugins.NewFactories()
	if err := builtin.Register(factories); err != nil {
		return nil, fmt.Errorf("registering built-in plugins: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		hookTypes: hookTypes,
		factories: factories,
	}, nil
}

// newManager creates the plugin manager for the loaded configuration.
func (a *app) newManager() (*plugins.Manager, error) {
	return plugins.NewManager(a.logger, a.cfg.Settings, a.cfg.Plugins,
		plugins.WithHookRegistry(a.hookTypes),
		plugins.WithFactories(a.factories),
	)
}
