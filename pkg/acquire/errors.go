package acquire

import (
	"errors"
	"fmt"
)

// Common errors returned by the pipeline.
var (
	// ErrConfiguration is wrapped by every ConfigError.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCancelled is returned when the run was stopped externally.
	// It is not a failure and never shows up in LastError.
	ErrCancelled = errors.New("acquisition cancelled")

	// ErrAlreadyStarted is returned when Run is called twice on one pipeline.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// ConfigError reports an option rejected before any fetch is issued.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// TransportError reports a failed fetch call.
// Page is 0 for the supplemental fetch.
type TransportError struct {
	Op   string
	Page int
	Err  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s (page %d): %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}
