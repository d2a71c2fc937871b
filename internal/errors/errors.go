// Package errors provides a lightweight structured error type (LauncherError)
// for category-based classification and retry semantics across the update core.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a launcher error for classification.
type ErrorCategory string

const (
	// Game installation discovery errors
	CategoryLocate ErrorCategory = "locate"

	// Network and transfer errors
	CategoryNetwork ErrorCategory = "network"

	// Remote manifest parse/validation errors
	CategoryManifest ErrorCategory = "manifest"

	// Downloaded artifact verification errors
	CategoryIntegrity ErrorCategory = "integrity"

	// Archive extraction and target directory errors
	CategoryFilesystem ErrorCategory = "filesystem"

	// Local state persistence errors
	CategoryState ErrorCategory = "state"

	// Runtime and infrastructure errors
	CategoryRuntime ErrorCategory = "runtime"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Aborts the whole cycle
	SeverityError   ErrorSeverity = "error"   // Fails one package, cycle continues
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// LauncherError is a structured error with category, retryability, and context.
type LauncherError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for LauncherError.
type ContextFields map[string]any

// Error implements the error interface.
func (e *LauncherError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping.
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *LauncherError) WithContext(key string, value any) *LauncherError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable or not.
func (e *LauncherError) WithRetryable(retryable bool) *LauncherError {
	e.Retryable = retryable
	return e
}

// New creates a new LauncherError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *LauncherError {
	return &LauncherError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new LauncherError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *LauncherError {
	return &LauncherError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsRetryable reports whether err (or any error it wraps) is a retryable
// LauncherError. Plain errors are never retryable.
func IsRetryable(err error) bool {
	var le *LauncherError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// CategoryOf returns the category of err, or CategoryRuntime for plain errors.
func CategoryOf(err error) ErrorCategory {
	var le *LauncherError
	if errors.As(err, &le) {
		return le.Category
	}
	return CategoryRuntime
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var le *LauncherError
	if errors.As(err, &le) {
		return le.Category == category
	}
	return false
}
