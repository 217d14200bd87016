// Package crucerr defines the error taxonomy shared by every layer.
// Errors carry an enumerated kind so the transport front-end can map
// them to status codes and diagnostic payloads without inspecting
// message strings.
package crucerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy.
type Kind string

// Error kinds.
const (
	KindValidation         Kind = "validation_error"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindInvalidTransition  Kind = "invalid_transition"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindExternalTimeout    Kind = "external_timeout"
	KindDangerousOutput    Kind = "dangerous_output"
	KindInternal           Kind = "internal_error"
)

// FieldError is a field-level validation message surfaced to clients.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the concrete error type for the taxonomy. Fields and
// RetryAfterSeconds are populated only for their respective kinds.
type Error struct {
	Kind              Kind
	Msg               string
	Fields            []FieldError
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation creates a validation error carrying field-level messages.
func Validation(msg string, fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Fields: fields}
}

// RateLimited creates a rate-limit denial with its retry hint.
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Msg:               "rate limit exceeded",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// KindOf extracts the kind from any error; plain errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the HTTP surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindExternalTimeout:
		return http.StatusGatewayTimeout
	case KindDangerousOutput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
