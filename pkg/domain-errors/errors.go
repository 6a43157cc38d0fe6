// Package domerrors defines the typed error taxonomy shared by the revision
// and notification layers. Services create and wrap errors with a stable
// code; transports translate codes into HTTP responses without leaking
// internals.
package domerrors

import (
	"errors"
	"fmt"
)

// Code identifies the class of a domain error. Codes are stable and appear
// verbatim in API error bodies.
type Code string

const (
	// CodeValidation covers bad recipients, oversized content, and malformed
	// input. Never retried.
	CodeValidation Code = "validation_error"
	// CodeConfiguration covers disabled features and missing required
	// settings. Never retried.
	CodeConfiguration Code = "configuration_error"
	// CodeRateLimited means the recipient is over quota. Surfaced as 429.
	CodeRateLimited Code = "rate_limit_exceeded"
	// CodeTemplate covers template rendering failures. Fatal for the
	// attempt, never retried.
	CodeTemplate Code = "template_error"
	// CodeTransientDelivery covers transport and timeout class failures.
	// Retried up to the configured ceiling.
	CodeTransientDelivery Code = "transient_delivery_failure"
	// CodeMaxRetries is terminal after the retry ceiling is exhausted.
	CodeMaxRetries Code = "max_retries_exceeded"
	// CodeNotFound covers unknown revisions, entities, and templates.
	CodeNotFound Code = "not_found"
	// CodeProcessing is the catch-all for recorder and cleanup failures.
	CodeProcessing Code = "processing_error"
	// CodeBadRequest covers malformed transport-level requests.
	CodeBadRequest Code = "bad_request"
	// CodeInternal covers unexpected failures. The message is logged but not
	// returned to callers.
	CodeInternal Code = "internal_error"
)

// Error is a domain error with a stable code, a human message, and an
// optional field-level detail map for validation failures.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithFields attaches a field-level detail map, used by validation errors to
// point at the offending inputs.
func (e *Error) WithFields(fields map[string]string) *Error {
	e.Fields = fields
	return e
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.wrapped
		if err == nil {
			break
		}
	}
	return false
}

// CodeOf returns the outermost domain error code, or CodeInternal when err is
// not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
