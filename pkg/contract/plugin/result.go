package plugin

import (
	"fmt"
	"maps"
)

// Result is the outcome of a single plugin invocation, and also the aggregated
// outcome of a whole chain.
type Result struct {
	// ContinueProcessing is false when the plugin wants to block further processing.
	ContinueProcessing bool `json:"continue_processing"`

	// ModifiedPayload, when non-nil, replaces the payload for downstream consumers.
	ModifiedPayload any `json:"modified_payload,omitempty"`

	// Violation describes why processing was blocked.
	Violation *Violation `json:"violation,omitempty"`

	// Metadata is free-form data returned by the plugin.
	// At chain level it is namespaced by plugin name.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Continue returns a Result that lets processing continue unchanged.
func Continue() *Result {
	return &Result{ContinueProcessing: true}
}

// Modify returns a Result that continues with a replacement payload.
func Modify(payload any) *Result {
	return &Result{ContinueProcessing: true, ModifiedPayload: payload}
}

// Block returns a Result that stops processing with the given violation.
func Block(v *Violation) *Result {
	return &Result{ContinueProcessing: false, Violation: v}
}

// Violation is a structured signal that a plugin wants to block processing.
type Violation struct {
	Reason      string         `json:"reason"`
	Description string         `json:"description,omitempty"`
	Code        string         `json:"code"`
	Details     map[string]any `json:"details,omitempty"`

	// PluginName is stamped by the engine with the name of the plugin that raised it.
	PluginName string `json:"plugin_name,omitempty"`
}

func (v *Violation) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s (%s)", v.Code, v.Reason, v.PluginName)
}

// Clone returns a copy of v with its own Details map.
func (v *Violation) Clone() *Violation {
	if v == nil {
		return nil
	}
	c := *v
	c.Details = maps.Clone(v.Details)
	return &c
}
