// Package errors provides the structured error taxonomy for spacecal.
// Every error carries a category, code, message and retryable flag so the
// web and notification boundaries can turn it into a user-visible message
// without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by where they originate.
type ErrorCategory string

const (
	ErrCategoryValidation   ErrorCategory = "VALIDATION"
	ErrCategoryStore        ErrorCategory = "STORE"
	ErrCategorySubscription ErrorCategory = "SUBSCRIPTION"
	ErrCategoryImport       ErrorCategory = "IMPORT"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeEmptyText        = "EMPTY_TEXT"
	CodeMissingDate      = "MISSING_DATE"
	CodeInvalidDate      = "INVALID_DATE"
	CodeInvalidAlarmTime = "INVALID_ALARM_TIME"
	CodeAlarmReset       = "ALARM_RESET"
	CodeNoUser           = "NO_USER"

	// Store codes
	CodeWriteFailed   = "WRITE_FAILED"
	CodeReadFailed    = "READ_FAILED"
	CodeEventNotFound = "EVENT_NOT_FOUND"
	CodeStoreClosed   = "STORE_CLOSED"

	// Subscription codes
	CodeFeedFailed = "FEED_FAILED"

	// Import codes
	CodeFetchFailed = "FETCH_FAILED"
	CodeParseFailed = "PARSE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SpaceError is the structured error type used throughout the service.
type SpaceError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SpaceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SpaceError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SpaceError) Is(target error) bool {
	var t *SpaceError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SpaceError.
func New(category ErrorCategory, code, message string) *SpaceError {
	return &SpaceError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SpaceError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SpaceError {
	return &SpaceError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SpaceError) WithDetails(details map[string]interface{}) *SpaceError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SpaceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SpaceError.
func GetCategory(err error) ErrorCategory {
	var se *SpaceError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SpaceError.
func GetCode(err error) string {
	var se *SpaceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks the failures a later attempt may clear.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStore && code == CodeReadFailed:
		return true
	case category == ErrCategorySubscription && code == CodeFeedFailed:
		return true
	case category == ErrCategoryImport && code == CodeFetchFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SpaceError {
	return New(ErrCategoryValidation, code, message)
}

func NewStoreError(code, message string, cause error) *SpaceError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewSubscriptionError(message string, cause error) *SpaceError {
	return Wrap(ErrCategorySubscription, CodeFeedFailed, message, cause)
}

func NewImportError(code, message string, cause error) *SpaceError {
	return Wrap(ErrCategoryImport, code, message, cause)
}

func NewInternalError(message string, cause error) *SpaceError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// IsNotFound reports whether err signals a missing event.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeEventNotFound
}
