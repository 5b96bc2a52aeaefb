// Package errors provides structured error types for steroids.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for steroids.
const (
	// Initialization errors
	CodeNotInitialized Code = "STEROIDS_NOT_INITIALIZED"
	CodeNotRegistered  Code = "PROJECT_NOT_REGISTERED"

	// Task errors
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeTaskInvalidState Code = "TASK_INVALID_STATE"
	CodeDependencyCycle  Code = "DEPENDENCY_CYCLE"
	CodeDisputeOpen      Code = "DISPUTE_OPEN"

	// Coordination errors
	CodeSectionLocked    Code = "SECTION_LOCKED"
	CodeTaskLocked       Code = "TASK_LOCKED"
	CodeLockNotFound     Code = "LOCK_NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Provider errors
	CodeProviderTimeout Code = "PROVIDER_TIMEOUT"
	CodeProviderHang    Code = "PROVIDER_HANG"
	CodeCreditExhausted Code = "CREDIT_EXHAUSTED"

	// Store errors
	CodeSchemaOutdated Code = "SCHEMA_OUTDATED"
	CodeStoreCorrupt   Code = "STORE_CORRUPT"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeNotInitialized:   CategoryBadRequest,
	CodeNotRegistered:    CategoryForbidden,
	CodeTaskNotFound:     CategoryNotFound,
	CodeTaskInvalidState: CategoryBadRequest,
	CodeDependencyCycle:  CategoryBadRequest,
	CodeDisputeOpen:      CategoryConflict,
	CodeSectionLocked:    CategoryConflict,
	CodeTaskLocked:       CategoryConflict,
	CodeLockNotFound:     CategoryNotFound,
	CodePermissionDenied: CategoryForbidden,
	CodeProviderTimeout:  CategoryTimeout,
	CodeProviderHang:     CategoryTimeout,
	CodeCreditExhausted:  CategoryUnavailable,
	CodeSchemaOutdated:   CategoryInternal,
	CodeStoreCorrupt:     CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for steroids.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, What: e.What, Why: e.Why, Fix: e.Fix, Cause: err}
}

// New constructs a coded error.
func New(code Code, what string) *Error {
	return &Error{Code: code, What: what}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, What: fmt.Sprintf(format, args...)}
}

// Wrap wraps a generic error into a coded error.
func Wrap(err error, code Code, what string) *Error {
	return &Error{Code: code, What: what, Cause: err}
}

// AsError attempts to convert an error to a *Error; nil when it is not one.
func AsError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}
