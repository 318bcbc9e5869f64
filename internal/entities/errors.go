package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a malformed rule, period instance or engine setting.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreUnavailable marks a rule store or period data source that could not be read.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTimeout marks an evaluation that exceeded its deadline.
	ErrTimeout = errors.New("evaluation timeout")

	// ErrInvalidRequest marks a request missing the fields evaluation needs.
	ErrInvalidRequest = errors.New("invalid request")
)

// ConfigurationError describes which record is malformed and why.
// It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Source string // e.g. "period_instance:12", "period_rule:7", "timezone"
	Reason string
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(source, reason string) *ConfigurationError {
	return &ConfigurationError{Source: source, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

// Is reports whether target is ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
