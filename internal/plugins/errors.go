package plugins

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peteski22/plugin-hooks/internal/hooks"
	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid plugin configuration")

	// ErrUnknownHookType is returned when invoking a hook type that was never registered.
	ErrUnknownHookType = hooks.ErrUnknownHookType

	// ErrSchema is returned when a payload fails its hook's schema at the chain boundary.
	ErrSchema = hooks.ErrSchema

	// ErrNotInitialized is returned when invoking hooks before Initialize or after Shutdown.
	ErrNotInitialized = errors.New("plugin manager not initialized")

	// ErrPluginNotFound is returned when no plugin is registered under a name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginUnavailable is returned when a named plugin is disabled or failed to start.
	ErrPluginUnavailable = errors.New("plugin unavailable")

	// ErrHookMismatch is returned when a plugin is invoked for a hook it is not registered for.
	ErrHookMismatch = errors.New("plugin not registered for hook")

	// ErrPluginExecution is returned when a plugin fails internally or its transport fails.
	ErrPluginExecution = errors.New("plugin execution failed")

	// ErrPluginTimeout is returned when a plugin exceeds its deadline.
	ErrPluginTimeout = errors.New("plugin timed out")

	// ErrPluginInitialization is returned when a plugin fails to construct or start.
	ErrPluginInitialization = errors.New("plugin initialization failed")

	// ErrPluginShutdown is returned when a plugin fails to stop cleanly.
	ErrPluginShutdown = errors.New("plugin shutdown failed")

	// ErrRequiredPluginFailed is returned when a plugin marked required fails to initialize.
	ErrRequiredPluginFailed = errors.New("required plugin failed to initialize")

	// ErrViolation is matched by every *ViolationError.
	ErrViolation = errors.New("plugin violation")

	// ErrInvalidPayload is returned when a payload cannot be encoded for a remote plugin.
	ErrInvalidPayload = errors.New("invalid payload for plugin")

	// ErrContextMismatch is returned when a PluginContext is handed to a plugin it does not belong to.
	ErrContextMismatch = errors.New("plugin context belongs to another plugin")
)

// PluginError attributes an error to a plugin and hook.
type PluginError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *PluginError) Error() string {
	if e.Hook == "" {
		return fmt.Sprintf("plugin %q: %v", e.Plugin, e.Err)
	}
	return fmt.Sprintf("plugin %q (hook %q): %v", e.Plugin, e.Hook, e.Err)
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error was caused by a deadline.
func (e *PluginError) Timeout() bool {
	return errors.Is(e.Err, ErrPluginTimeout)
}

// ConfigError reports every problem found while validating plugin descriptors.
type ConfigError struct {
	Problems []error
}

func (e *ConfigError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, "  - "+p.Error())
	}
	return fmt.Sprintf("%v (%d problems):\n%s", ErrConfig, len(e.Problems), strings.Join(msgs, "\n"))
}

func (e *ConfigError) Unwrap() []error {
	return e.Problems
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// LifecycleError aggregates per-plugin start or stop failures.
type LifecycleError struct {
	// Phase is "initialize" or "shutdown".
	Phase    string
	Failures []*PluginError
}

func (e *LifecycleError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("plugin %s: %s", e.Phase, strings.Join(msgs, "; "))
}

func (e *LifecycleError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// ViolationError surfaces a blocking violation as an error.
type ViolationError struct {
	Violation *pkg.Violation
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrViolation, e.Violation)
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrViolation
}

// normalizeError makes sure a plugin fault wraps ErrPluginExecution or ErrPluginTimeout.
func normalizeError(err error) error {
	switch {
	case errors.Is(err, ErrPluginTimeout), errors.Is(err, ErrPluginExecution):
		return err
	case isDeadline(err):
		return fmt.Errorf("%w: %w", ErrPluginTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrPluginExecution, err)
	}
}
