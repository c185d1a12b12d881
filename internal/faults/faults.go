// Package faults holds the error kinds shared across components.
package faults

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration or malformed input source.
// It is fatal at startup.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config wraps err as a ConfigError attributed to source.
func Config(source string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Source: source, Err: err}
}

// Configf formats a new ConfigError.
func Configf(source, format string, args ...any) error {
	return &ConfigError{Source: source, Err: fmt.Errorf(format, args...)}
}

// IsConfig reports whether err carries a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ErrUnavailable marks an external capability (generation, embedding) that
// could not be reached or did not answer in time.
var ErrUnavailable = errors.New("capability unavailable")
