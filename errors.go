package guard

import (
	"fmt"
	"net/http"
)

// Error codes carried by Error and written as the "code" field of error responses.
const (
	ErrorCodeRateLimited          = "rate_limit_exceeded"
	ErrorCodeInvalidInput         = "invalid_input"
	ErrorCodeMaliciousInput       = "malicious_input"
	ErrorCodeRequestTooLarge      = "request_too_large"
	ErrorCodeUnsupportedMediaType = "unsupported_media_type"
	ErrorCodeForbidden            = "forbidden"
	ErrorCodeServerError          = "server_error"
)

// Error is an HTTP-facing guard failure.
type Error struct {
	Code        string // Machine-readable code (e.g., "invalid_input")
	Description string // Message returned to the client
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new guard error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as constructors
var (
	// ErrRateLimited indicates the client exceeded a rate limit tier
	ErrRateLimited = func(desc string) *Error {
		return NewError(ErrorCodeRateLimited, desc, http.StatusTooManyRequests)
	}

	// ErrInvalidInput indicates the request is malformed or failed schema validation
	ErrInvalidInput = func(desc string) *Error {
		return NewError(ErrorCodeInvalidInput, desc, http.StatusBadRequest)
	}

	// ErrMaliciousInput indicates an attack signature was found in the request
	ErrMaliciousInput = func(desc string) *Error {
		return NewError(ErrorCodeMaliciousInput, desc, http.StatusBadRequest)
	}

	// ErrRequestTooLarge indicates the body exceeds the configured limit
	ErrRequestTooLarge = func(desc string) *Error {
		return NewError(ErrorCodeRequestTooLarge, desc, http.StatusRequestEntityTooLarge)
	}

	// ErrUnsupportedMediaType indicates a Content-Type outside the allowed list
	ErrUnsupportedMediaType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedMediaType, desc, http.StatusUnsupportedMediaType)
	}

	// ErrForbidden indicates the request was refused outright
	ErrForbidden = func(desc string) *Error {
		return NewError(ErrorCodeForbidden, desc, http.StatusForbidden)
	}

	// ErrServerError indicates an internal failure
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
