package plugins

import (
	"fmt"
	"time"
)

const (
	defaultPluginTimeout   = 30 * time.Second
	defaultMaxPayloadSize  = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// Settings are the manager-wide options.
// Build them from DefaultSettings: the zero value disables the plugin API.
type Settings struct {
	// EnablePluginAPI is the master switch. When false every hook passes through.
	EnablePluginAPI bool `yaml:"enable_plugin_api" json:"enable_plugin_api"`

	// PluginTimeout is the default per-invocation deadline.
	PluginTimeout time.Duration `yaml:"plugin_timeout" json:"plugin_timeout"`

	// FailOnPluginError aborts a chain when a plugin in enforce mode errors or times out.
	FailOnPluginError bool `yaml:"fail_on_plugin_error" json:"fail_on_plugin_error"`

	// ParallelExecutionWithinBand runs plugins sharing a priority concurrently.
	ParallelExecutionWithinBand bool `yaml:"parallel_execution_within_band" json:"parallel_execution_within_band"`

	// MaxPayloadSize caps the encoded size (bytes) of payloads sent to remote plugins.
	MaxPayloadSize int `yaml:"max_payload_size" json:"max_payload_size"`

	// ShutdownTimeout bounds how long stopping a single plugin may take.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		EnablePluginAPI:             true,
		PluginTimeout:               defaultPluginTimeout,
		FailOnPluginError:           false,
		ParallelExecutionWithinBand: false,
		MaxPayloadSize:              defaultMaxPayloadSize,
		ShutdownTimeout:             defaultShutdownTimeout,
	}
}

// Validate checks the settings for impossible values.
func (s Settings) Validate() error {
	if s.PluginTimeout <= 0 {
		return fmt.Errorf("plugin_timeout must be positive, got %s", s.PluginTimeout)
	}
	if s.MaxPayloadSize < 0 {
		return fmt.Errorf("max_payload_size must not be negative, got %d", s.MaxPayloadSize)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative, got %s", s.ShutdownTimeout)
	}
	return nil
}

func (s Settings) withDefaults() Settings {
	if s.PluginTimeout == 0 {
		s.PluginTimeout = defaultPluginTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = defaultShutdownTimeout
	}
	return s
}
