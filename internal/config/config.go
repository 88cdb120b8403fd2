// Package config loads the host configuration: server options, plugin
// manager settings, custom hook types and plugin descriptors.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	"github.com/peteski22/plugin-hooks/internal/plugins"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	defaultAddress         = ":8080"
	defaultLogLevel        = "info"
	defaultShutdownTimeout = 10 * time.Second
)

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Config is the host configuration file.
type Config struct {
	Server   ServerConfig       `yaml:"server"`
	LogLevel string             `yaml:"log_level"`
	Settings plugins.Settings   `yaml:"plugin_settings"`
	Hooks    []string           `yaml:"hooks"`
	Plugins  []pkg.PluginConfig `yaml:"plugins"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         defaultAddress,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		LogLevel: defaultLogLevel,
		Settings: plugins.DefaultSettings(),
	}
}

// LoadEnv loads .env files into the process environment.
// Missing files are skipped; variables already set are not overridden.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse reads configuration from r, expanding environment variables first.
// Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	expanded := ExpandEnvWithDefaults(string(data))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} with values from
// the environment. An unset or empty variable takes its default.
func ExpandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks everything except the plugin descriptors, which the
// plugin manager validates as a whole.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, fmt.Errorf("server.address is required"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if err := c.Settings.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plugin_settings: %w", err))
	}

	seen := make(map[string]struct{}, len(c.Hooks))
	for i, h := range c.Hooks {
		if h == "" {
			errs = append(errs, fmt.Errorf("hooks[%d]: name is required", i))
			continue
		}
		if _, dup := seen[h]; dup {
			errs = append(errs, fmt.Errorf("hooks[%d]: duplicate hook %q", i, h))
		}
		seen[h] = struct{}{}
	}

	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

// RegisterHooks registers the built-in HTTP hook types and every custom hook
// named in the configuration into r. Custom hooks carry a DataPayload.
func (c *Config) RegisterHooks(r *hooks.Registry) error {
	if err := hooks.RegisterHTTPHooks(r); err != nil {
		return err
	}

	for _, h := range c.Hooks {
		if err := hooks.RegisterDataHook(r, h); err != nil {
			return fmt.Errorf("registering hook %q: %w", h, err)
		}
	}

	return nil
}
