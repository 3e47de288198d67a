package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the stable, client-visible kind of a failure.
type ErrorType string

const (
	ErrorTypeMalformedReference   ErrorType = "MALFORMED_REFERENCE"
	ErrorTypeNotFound             ErrorType = "NOT_FOUND"
	ErrorTypeBackingStoreMissing  ErrorType = "BACKING_STORE_MISSING"
	ErrorTypeDuplicateID          ErrorType = "DUPLICATE_ID"
	ErrorTypeBackendUnavailable   ErrorType = "BACKEND_UNAVAILABLE"
	ErrorTypeInvalidQuery         ErrorType = "INVALID_QUERY"
	ErrorTypeInvalidArgument      ErrorType = "INVALID_ARGUMENT"
	ErrorTypeUnknownCommand       ErrorType = "UNKNOWN_COMMAND"
	ErrorTypeUnsupportedTransport ErrorType = "UNSUPPORTED_TRANSPORT"
	ErrorTypeInternal             ErrorType = "INTERNAL"
)

// Sentinel errors, matched by the Is* helpers alongside AppError kinds.
var (
	ErrMalformedReference  = errors.New("malformed reference")
	ErrNotFound            = errors.New("resource not found")
	ErrBackingStoreMissing = errors.New("backing store missing")
	ErrDuplicateID         = errors.New("duplicate document id")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrClosed              = errors.New("closed")
)

// AppError represents a custom application error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	HTTPCode  int                    `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel of this error's kind.
func (e *AppError) Is(target error) bool {
	if sentinel, ok := sentinels[e.Type]; ok {
		return target == sentinel
	}
	return false
}

var sentinels = map[ErrorType]error{
	ErrorTypeMalformedReference:  ErrMalformedReference,
	ErrorTypeNotFound:            ErrNotFound,
	ErrorTypeBackingStoreMissing: ErrBackingStoreMissing,
	ErrorTypeDuplicateID:         ErrDuplicateID,
	ErrorTypeBackendUnavailable:  ErrBackendUnavailable,
	ErrorTypeInvalidQuery:        ErrInvalidQuery,
	ErrorTypeInvalidArgument:     ErrInvalidArgument,
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, httpCode int) *AppError {
	return &AppError{
		Type:     errorType,
		Message:  message,
		Code:     string(errorType),
		HTTPCode: httpCode,
		Details:  make(map[string]interface{}),
	}
}

// WithCode overrides the error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewMalformedReferenceError reports a path that does not match database[/collection[/documentId]].
func NewMalformedReferenceError(path, reason string) *AppError {
	return NewAppError(ErrorTypeMalformedReference, fmt.Sprintf("malformed reference %q: %s", path, reason), http.StatusBadRequest).
		WithDetail("path", path)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewBackingStoreMissingError is returned by drivers when the collection's physical storage is absent.
func NewBackingStoreMissingError(collection string) *AppError {
	return NewAppError(ErrorTypeBackingStoreMissing, fmt.Sprintf("backing store for %s does not exist", collection), http.StatusInternalServerError).
		WithDetail("collection", collection)
}

func NewDuplicateIDError(id string) *AppError {
	return NewAppError(ErrorTypeDuplicateID, fmt.Sprintf("document %s already exists", id), http.StatusConflict).
		WithDetail("id", id)
}

func NewBackendUnavailableError(message string) *AppError {
	return NewAppError(ErrorTypeBackendUnavailable, message, http.StatusServiceUnavailable)
}

func NewInvalidQueryError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidQuery, message, http.StatusBadRequest)
}

func NewInvalidArgumentError(message string) *AppError {
	return NewAppError(ErrorTypeInvalidArgument, message, http.StatusBadRequest)
}

func NewUnknownCommandError(command string) *AppError {
	return NewAppError(ErrorTypeUnknownCommand, fmt.Sprintf("unknown command %q", command), http.StatusNotFound).
		WithDetail("command", command)
}

func NewUnsupportedTransportError(command string) *AppError {
	return NewAppError(ErrorTypeUnsupportedTransport, fmt.Sprintf("%s requires a push channel", command), http.StatusBadRequest).
		WithDetail("command", command)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// WrapError wraps an error with context
func WrapError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}

// KindOf returns the ErrorType carried by err, INTERNAL for foreign errors.
func KindOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ErrorTypeInternal
}

func hasKind(err error, kind ErrorType) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return hasKind(err, ErrorTypeNotFound) }

func IsMalformedReference(err error) bool { return hasKind(err, ErrorTypeMalformedReference) }

func IsBackingStoreMissing(err error) bool { return hasKind(err, ErrorTypeBackingStoreMissing) }

func IsDuplicateID(err error) bool { return hasKind(err, ErrorTypeDuplicateID) }

func IsBackendUnavailable(err error) bool { return hasKind(err, ErrorTypeBackendUnavailable) }

// IsValidation covers every kind caused by bad caller input.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case ErrorTypeMalformedReference, ErrorTypeInvalidQuery, ErrorTypeInvalidArgument:
		return err != nil
	}
	return false
}
