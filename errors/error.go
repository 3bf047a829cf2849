package errors

import (
	"fmt"
	"strings"
)

// MissingColumnError occurs when a column name is neither a hard nor a virtual column of a Catalog
type MissingColumnError struct{ Name string }

// Error returns a textual representation of this MissingColumnError
func (e MissingColumnError) Error() string {
	return fmt.Sprintf("Column %s does not exist in catalog", e.Name)
}

// ProtectedColumnError occurs when deletion targets a column backed by a FileStack or a generator
type ProtectedColumnError struct{ Name string }

// Error returns a textual representation of this ProtectedColumnError
func (e ProtectedColumnError) Error() string {
	return fmt.Sprintf("Column %s is a hard column and cannot be deleted", e.Name)
}

// InvalidSelectorError occurs when a selection argument is structurally invalid,
// e.g. a list of floating point values
type InvalidSelectorError struct{ Reason string }

// Error returns a textual representation of this InvalidSelectorError
func (e InvalidSelectorError) Error() string {
	return fmt.Sprintf("Invalid selector: %s", e.Reason)
}

// IncompatibleValueError occurs when a value assigned to a column has the wrong
// length, or is not a lazy array where one is required
type IncompatibleValueError struct {
	Name   string
	Reason string
}

// Error returns a textual representation of this IncompatibleValueError
func (e IncompatibleValueError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("Incompatible value: %s", e.Reason)
	}
	return fmt.Sprintf("Incompatible value for column %s: %s", e.Name, e.Reason)
}

// ConfigurationError occurs when an operation requires configuration (a resolved
// size, a mesh resolution, a box size...) that has not been established
type ConfigurationError struct {
	Missing []string
	Reason  string
}

// Error returns a textual representation of this ConfigurationError
func (e ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("Configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("Configuration error: %s (missing %s)", e.Reason, strings.Join(e.Missing, ", "))
}

// AttributeProbeError occurs when GetHardColumn is asked for a name which is not hard-backed
type AttributeProbeError struct{ Name string }

// Error returns a textual representation of this AttributeProbeError
func (e AttributeProbeError) Error() string {
	return fmt.Sprintf("Column %s is not a hard column", e.Name)
}
