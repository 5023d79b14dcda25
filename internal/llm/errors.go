package llm

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an unregistered backend type or missing backend
// configuration. It is fatal and never retried.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llm configuration: %s: %q", e.Reason, e.Key)
}

// GenerationError reports a failed generation: provider network, auth or
// parse failures, and streaming callback failures.
type GenerationError struct {
	Backend    BackendType
	Op         string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s: status %d: %v", describe(e.Backend, e.Op), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", describe(e.Backend, e.Op), e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// wrapGeneration wraps err as a GenerationError unless it is already typed.
func wrapGeneration(t BackendType, op string, err error) error {
	if err == nil {
		return nil
	}
	var gen *GenerationError
	var cfg *ConfigurationError
	if errors.As(err, &gen) || errors.As(err, &cfg) {
		return err
	}
	return &GenerationError{Backend: t, Op: op, Err: err}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfg *ConfigurationError
	return errors.As(err, &cfg)
}

// IsGeneration reports whether err is a GenerationError.
func IsGeneration(err error) bool {
	var gen *GenerationError
	return errors.As(err, &gen)
}
