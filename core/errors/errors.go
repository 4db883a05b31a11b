// Package errors provides standardized error types and helpers for parseweb.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrInternal indicates an internal system error
	ErrInternal = errors.New("internal error")
	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = errors.New("timed out")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "script", "catalog entry")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a parsing or deserialization error
type ParseError struct {
	Format  string // Format being parsed (e.g., "JSON", "YAML")
	Path    string // File path, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// ConfigLoadError reports a configuration or catalog file that could not be
// loaded. It is always fatal at startup.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to load configuration %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load configuration %s", e.Path)
}

func (e *ConfigLoadError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// TemplateMalformedError reports an HTML template missing a content marker.
type TemplateMalformedError struct {
	Name   string // Template name or path
	Marker string // The missing or misplaced marker
}

func (e *TemplateMalformedError) Error() string {
	return fmt.Sprintf("template %s is malformed: marker %q missing or out of order", e.Name, e.Marker)
}

func (e *TemplateMalformedError) Unwrap() error {
	return ErrInvalidInput
}

// ParserInvocationError reports a parser script that could not be run.
type ParserInvocationError struct {
	Parser string
	Err    error
}

func (e *ParserInvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parser %s could not be run: %v", e.Parser, e.Err)
	}
	return fmt.Sprintf("parser %s could not be run", e.Parser)
}

func (e *ParserInvocationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInternal
}

// ParserTimeoutError reports a parser script killed after exceeding its timeout.
type ParserTimeoutError struct {
	Parser  string
	Timeout time.Duration
}

func (e *ParserTimeoutError) Error() string {
	return fmt.Sprintf("parser %s timed out after %v", e.Parser, e.Timeout)
}

func (e *ParserTimeoutError) Unwrap() error {
	return ErrTimeout
}

// ParserOutputDecodeError reports parser output that is not valid text in the
// expected encoding.
type ParserOutputDecodeError struct {
	Parser   string
	Encoding string
	Err      error
}

func (e *ParserOutputDecodeError) Error() string {
	msg := fmt.Sprintf("parser %s produced output that is not valid %s", e.Parser, e.Encoding)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParserOutputDecodeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// UnknownSelectionError reports a selection that is not in the catalog.
type UnknownSelectionError struct {
	Name string
}

func (e *UnknownSelectionError) Error() string {
	return fmt.Sprintf("unknown selection: %s", e.Name)
}

func (e *UnknownSelectionError) Unwrap() error {
	return ErrNotFound
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewConfigLoad creates a ConfigLoadError
func NewConfigLoad(path string, err error) *ConfigLoadError {
	return &ConfigLoadError{
		Path: path,
		Err:  err,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
