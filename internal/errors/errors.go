package errors

import (
	stderrors "errors"
	"fmt"
)

// SyncError is the structured error type for reposync.
// It provides rich context for error handling, logging, and user presentation.
type SyncError struct {
	// Code is the unique error code (e.g., "ERR_407_FACET_STATE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SyncError.
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SyncError) WithDetail(key, value string) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *SyncError) WithSuggestion(suggestion string) *SyncError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SyncError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SyncError from an existing error.
// The error's message becomes the SyncError message.
func Wrap(code string, err error) *SyncError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel values for errors.Is comparisons by code.
var (
	ErrConfigInvalid      = &SyncError{Code: ErrCodeConfigInvalid}
	ErrFacetState         = &SyncError{Code: ErrCodeFacetState}
	ErrInvalidInput       = &SyncError{Code: ErrCodeInvalidInput}
	ErrStorageRead        = &SyncError{Code: ErrCodeStorageRead}
	ErrIndexWrite         = &SyncError{Code: ErrCodeIndexWrite}
	ErrIndexMissing       = &SyncError{Code: ErrCodeIndexMissing}
	ErrNoDefaultProducer  = &SyncError{Code: ErrCodeNoDefaultProducer}
	ErrRepositoryNotFound = &SyncError{Code: ErrCodeRepositoryNotFound}
	ErrBucketNotFound     = &SyncError{Code: ErrCodeBucketNotFound}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SyncError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SyncError {
	return New(ErrCodeInvalidInput, message, cause)
}

// StateError reports an operation attempted in a lifecycle state that does not permit it.
func StateError(repository, operation, state string) *SyncError {
	return New(ErrCodeFacetState,
		fmt.Sprintf("cannot %s repository %q in state %s", operation, repository, state), nil).
		WithDetail("repository", repository).
		WithDetail("operation", operation).
		WithDetail("state", state).
		WithSuggestion("Start the repository before synchronizing its index")
}

// StorageError marks a failure while reading components from storage.
func StorageError(message string, cause error) *SyncError {
	return New(ErrCodeStorageRead, message, cause)
}

// IndexError marks a failure reported by the search index.
func IndexError(message string, cause error) *SyncError {
	return New(ErrCodeIndexWrite, message, cause).
		WithSuggestion("Run 'reposync rebuild' to repair the index once the backend is healthy")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SyncError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains a SyncError with Retryable flag set.
func IsRetryable(err error) bool {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first SyncError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from the first SyncError in the chain.
// Returns empty string if there is none.
func GetCategory(err error) Category {
	var se *SyncError
	if stderrors.As(err, &se) {
		return se.Category
	}
	return ""
}
