package models

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below unwraps to one of these so callers
// can match with errors.Is.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrTargetExists   = errors.New("target exists")
	ErrAppendMismatch = errors.New("append mismatch")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrVerification   = errors.New("verification failed")
)

// ConfigurationError reports a specifier, option or input set the engine
// cannot run with. It is raised before any output is written.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Configf builds a ConfigurationError.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// TargetExistsError is raised in normal write mode when an output already exists.
type TargetExistsError struct {
	Path string
}

func (e *TargetExistsError) Error() string {
	return fmt.Sprintf("%s: %s (use skip, overwrite or append)", ErrTargetExists, e.Path)
}

func (e *TargetExistsError) Unwrap() error { return ErrTargetExists }

// AppendMismatchError means an existing output cannot take appended records.
type AppendMismatchError struct {
	Path     string
	Variable string
	Reason   string
}

func (e *AppendMismatchError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("%s: %s: %s", ErrAppendMismatch, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s: variable %q: %s", ErrAppendMismatch, e.Path, e.Variable, e.Reason)
}

func (e *AppendMismatchError) Unwrap() error { return ErrAppendMismatch }

// TypeMismatchError means an input slice stores a variable with a different
// element type than the output series.
type TypeMismatchError struct {
	Variable string
	Path     string
	Want     string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: variable %q in %s is %s, expected %s", ErrTypeMismatch, e.Variable, e.Path, e.Got, e.Want)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// ErrorKind classifies err for diagnostic records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrTargetExists):
		return "target_exists"
	case errors.Is(err, ErrAppendMismatch):
		return "append_mismatch"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrVerification):
		return "verification"
	default:
		return "io"
	}
}
