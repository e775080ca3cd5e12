// Package errors provides structured error types for waveform database sessions.
// All errors include a category, code, message, and retryable flag so callers
// can react to a failure without parsing message text.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrorCategory classifies errors by the layer that raised them.
type ErrorCategory string

const (
	ErrCategoryAccess   ErrorCategory = "ACCESS"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryCodec    ErrorCategory = "CODEC"
	ErrCategoryLookup   ErrorCategory = "LOOKUP"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Access codes
	CodeInvalidMode          = "INVALID_MODE"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeExtensionMismatch    = "EXTENSION_MISMATCH"
	CodeReadOnlyViolation    = "READ_ONLY_VIOLATION"
	CodeNotConnected         = "NOT_CONNECTED"

	// Schema codes
	CodeMissingRequiredTable = "MISSING_REQUIRED_TABLE"
	CodeFieldNotFound        = "FIELD_NOT_FOUND"
	CodeNonMonotonicTime     = "NON_MONOTONIC_TIME"

	// Codec codes
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeCorruptBlob        = "CORRUPT_BLOB"
	CodeSampleRateMismatch = "SAMPLERATE_MISMATCH"
	CodeRecordOutOfOrder   = "RECORD_OUT_OF_ORDER"

	// Lookup codes
	CodeParameterNotFound = "PARAMETER_NOT_FOUND"
	CodeTRAINotFound      = "TRAI_NOT_FOUND"

	// Storage codes
	CodeQueryFailed = "QUERY_FAILED"
	CodeFileExists  = "FILE_EXISTS"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StoreError is the structured error type returned by every package of the module.
type StoreError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string. Details are appended in key order.
func (e *StoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StoreError.
func New(category ErrorCategory, code, message string) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code, nil),
	}
}

// Wrap creates a new StoreError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code, cause),
	}
}

// WithDetails returns a copy of the error whose details are replaced by details.
func (e *StoreError) WithDetails(details map[string]interface{}) *StoreError {
	cp := *e
	cp.Details = details
	return &cp
}

// MergeDetails returns a copy of the error with details added. Keys already
// set on e keep their value.
func (e *StoreError) MergeDetails(details map[string]interface{}) *StoreError {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range details {
		merged[k] = v
	}
	for k, v := range e.Details {
		merged[k] = v
	}
	return e.WithDetails(merged)
}

// AddDetails merges details into err when it is a *StoreError. Other
// errors, including wrapped ones, are returned unchanged.
func AddDetails(err error, details map[string]interface{}) error {
	if se, ok := err.(*StoreError); ok {
		return se.MergeDetails(details)
	}
	return err
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCategory(err error) ErrorCategory {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCode(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks storage failures caused by lock contention. A second
// session holding the exclusive write lock makes every other open or query
// fail with SQLITE_BUSY; the caller may try again once it is released.
func isRetryable(category ErrorCategory, code string, cause error) bool {
	if category != ErrCategoryStorage || code != CodeQueryFailed || cause == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(cause, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// Convenience constructors for common errors.

func NewAccessError(code, message string) *StoreError {
	return New(ErrCategoryAccess, code, message)
}

func NewSchemaError(code, message string) *StoreError {
	return New(ErrCategorySchema, code, message)
}

func NewCodecError(code, message string) *StoreError {
	return New(ErrCategoryCodec, code, message)
}

func NewLookupError(code, message string) *StoreError {
	return New(ErrCategoryLookup, code, message)
}

func NewStorageError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *StoreError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
