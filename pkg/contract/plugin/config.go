package plugin

import (
	"maps"
	"slices"
	"time"
)

const (
	// TransportGRPC connects to an already running plugin over TCP.
	TransportGRPC Transport = "grpc"

	// TransportUnix connects to an already running plugin over a unix socket.
	TransportUnix Transport = "unix"

	// TransportProcess launches the plugin binary and connects to it over a socket it creates.
	TransportProcess Transport = "process"
)

// Transport identifies how the host reaches an externally hosted plugin.
type Transport string

// PluginConfig describes one configured plugin.
// It is validated when the registry is built and treated as immutable afterwards.
type PluginConfig struct {
	// Name uniquely identifies the plugin within a registry.
	Name string `yaml:"name" json:"name" validate:"required,plugin_name"`

	// Kind selects the registered factory used to construct an in-process plugin.
	// It is ignored for remote plugins.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty" validate:"required_without=Remote"`

	// Version is informational.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Description is informational.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Hooks lists the hook types the plugin handles.
	Hooks []string `yaml:"hooks" json:"hooks" validate:"required,min=1,unique,dive,required"`

	// Mode is the enforcement policy.
	Mode Mode `yaml:"mode" json:"mode" validate:"required,plugin_mode"`

	// Priority orders plugins for a hook, ascending.
	Priority int `yaml:"priority" json:"priority" validate:"gte=0"`

	// Conditions restrict when the plugin runs. Empty means always.
	Conditions []Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// Config holds plugin-specific settings, opaque to the engine.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Timeout overrides the manager-wide per-invocation deadline when set.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`

	// Required escalates start-up failures of this plugin to the whole engine.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Remote marks the plugin as externally hosted.
	Remote *RemoteConfig `yaml:"remote,omitempty" json:"remote,omitempty"`
}

// IsRemote reports whether the plugin is externally hosted.
func (c PluginConfig) IsRemote() bool {
	return c.Remote != nil
}

// HandlesHook reports whether the plugin is configured for the hook type.
func (c PluginConfig) HandlesHook(hookType string) bool {
	return slices.Contains(c.Hooks, hookType)
}

// Clone returns a deep-enough copy so a registry can own its descriptors.
func (c PluginConfig) Clone() PluginConfig {
	out := c
	out.Hooks = slices.Clone(c.Hooks)
	out.Conditions = make([]Conditions, len(c.Conditions))
	for i, cond := range c.Conditions {
		out.Conditions[i] = cond.Clone()
	}
	if len(c.Conditions) == 0 {
		out.Conditions = nil
	}
	out.Config = maps.Clone(c.Config)
	if c.Remote != nil {
		r := *c.Remote
		r.Args = slices.Clone(c.Remote.Args)
		if c.Remote.TLS != nil {
			t := *c.Remote.TLS
			r.TLS = &t
		}
		out.Remote = &r
	}
	return out
}

// RemoteConfig describes how to reach an externally hosted plugin.
type RemoteConfig struct {
	Transport Transport `yaml:"transport" json:"transport" validate:"required,oneof=grpc unix process"`

	// Address is host:port for grpc, or a socket path for unix.
	Address string `yaml:"address,omitempty" json:"address,omitempty" validate:"required_unless=Transport process"`

	// Command is the plugin binary for the process transport.
	Command string `yaml:"command,omitempty" json:"command,omitempty" validate:"required_if=Transport process"`

	// Args are extra arguments passed to Command.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig is client TLS material applied when connecting to a remote plugin.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file,omitempty" json:"cert_file,omitempty" validate:"required_with=KeyFile"`
	KeyFile    string `yaml:"key_file,omitempty" json:"key_file,omitempty" validate:"required_with=CertFile"`
	CAFile     string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	ServerName string `yaml:"server_name,omitempty" json:"server_name,omitempty"`

	// Verify toggles server certificate verification. Defaults to true.
	Verify *bool `yaml:"verify,omitempty" json:"verify,omitempty"`
}

// VerifyServer reports whether the server certificate should be verified.
func (t TLSConfig) VerifyServer() bool {
	return t.Verify == nil || *t.Verify
}

// Conditions is one condition group. A plugin runs if any of its groups match;
// a group matches if every dimension it specifies matches. Unspecified
// dimensions match anything.
type Conditions struct {
	TenantIDs []string `yaml:"tenant_ids,omitempty" json:"tenant_ids,omitempty"`
	ServerIDs []string `yaml:"server_ids,omitempty" json:"server_ids,omitempty"`
	Users     []string `yaml:"users,omitempty" json:"users,omitempty"`

	// UserPatterns are regular expressions matched against the request user.
	UserPatterns []string `yaml:"user_patterns,omitempty" json:"user_patterns,omitempty"`
}

// Empty reports whether the group specifies no dimension at all.
func (c Conditions) Empty() bool {
	return len(c.TenantIDs) == 0 && len(c.ServerIDs) == 0 && len(c.Users) == 0 && len(c.UserPatterns) == 0
}

// Clone returns a copy of c.
func (c Conditions) Clone() Conditions {
	return Conditions{
		TenantIDs:    slices.Clone(c.TenantIDs),
		ServerIDs:    slices.Clone(c.ServerIDs),
		Users:        slices.Clone(c.Users),
		UserPatterns: slices.Clone(c.UserPatterns),
	}
}
