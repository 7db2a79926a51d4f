// Package storage parses and validates the string options that configure
// journal backends.
package storage

import "fmt"

// ConfigError reports an invalid backend option.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	case e.Value == "":
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Field, e.Message)
	default:
		return fmt.Sprintf("%s: %s=%q: %s", e.Backend, e.Field, e.Value, e.Message)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a ConfigError for field.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}

// NewConfigErrorWithCause creates a ConfigError wrapping cause.
func NewConfigErrorWithCause(backend, field, message string, cause error) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message, Cause: cause}
}
