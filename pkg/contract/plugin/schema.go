package plugin

import "reflect"

// Schema describes and validates the values exchanged at a hook.
type Schema interface {
	// Name is a human readable identifier, e.g. the Go type name.
	Name() string

	// Type is the canonical Go type of validated values.
	Type() reflect.Type

	// Validate normalizes raw into the canonical type and checks it.
	Validate(raw any) (any, error)

	// Encode serializes a value for a remote plugin.
	Encode(v any) ([]byte, error)

	// Decode deserializes and validates a value received from a remote plugin.
	Decode(data []byte) (any, error)
}
