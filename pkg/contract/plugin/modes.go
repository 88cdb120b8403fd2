package plugin

import (
	"fmt"
	"strings"
)

const (
	// ModeEnforce halts the chain on a violation.
	// Execution errors are swallowed unless the host enables fail-on-error.
	ModeEnforce Mode = "enforce"

	// ModeEnforceIgnoreError halts the chain on a violation but always swallows execution errors.
	ModeEnforceIgnoreError Mode = "enforce_ignore_error"

	// ModePermissive records violations without halting the chain.
	ModePermissive Mode = "permissive"

	// ModeDisabled removes the plugin from every hook list.
	ModeDisabled Mode = "disabled"
)

// Mode is the per-plugin enforcement policy.
type Mode string

// Modes returns every recognised mode.
func Modes() []Mode {
	return []Mode{ModeEnforce, ModeEnforceIgnoreError, ModePermissive, ModeDisabled}
}

// ParseMode parses a case-insensitive mode string.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown plugin mode: %q", s)
	}
	return m, nil
}

// Valid reports whether m is a recognised mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeEnforce, ModeEnforceIgnoreError, ModePermissive, ModeDisabled:
		return true
	default:
		return false
	}
}

// HaltsOnViolation reports whether a violation from a plugin in this mode stops the chain.
func (m Mode) HaltsOnViolation() bool {
	return m == ModeEnforce || m == ModeEnforceIgnoreError
}

func (m Mode) String() string {
	return string(m)
}
