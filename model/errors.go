package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrNotFound         = "NOT_FOUND"
	ErrInvalidOperation = "INVALID_OPERATION"
	ErrValidationError  = "VALIDATION_ERROR"
	ErrConflict         = "CONFLICT"
	ErrUnavailable      = "UNAVAILABLE"
	ErrInternalError    = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard structured error returned by the engine.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error. Field carries a
// JSON-pointer-like location when one is available.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error for malformed inputs
// (empty ids, nil collections).
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error. The message states the
// concrete reason (profile status, wallet not linked).
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewInvalidOperationError returns an INVALID_OPERATION error: the request
// names a real entity but is not executable in the instance's current state.
func NewInvalidOperationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidOperation, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(msg string, details []FieldError) *ErrorEnvelope {
	if msg == "" {
		msg = "One or more fields are invalid"
	}
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: msg,
		Details: details,
	}
}

// NewValidationErrorMsg returns a VALIDATION_ERROR with a single message.
func NewValidationErrorMsg(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg}
}

// NewConflictError returns a CONFLICT error (idempotency key reuse with a
// different payload).
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewUnavailableError returns an UNAVAILABLE error for transient
// infrastructure failures; the caller may retry.
func NewUnavailableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnavailable, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "An unexpected error occurred"
	}
	return &ErrorEnvelope{Code: ErrInternalError, Message: msg}
}

// CodeOf returns the envelope code of err, or INTERNAL_ERROR for any other
// error type.
func CodeOf(err error) string {
	if env, ok := err.(*ErrorEnvelope); ok {
		return env.Code
	}
	return ErrInternalError
}
