package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAccessDenied      = errors.New("access denied")
	ErrRangeExhausted    = errors.New("port range exhausted")
	ErrTunnelClosed      = errors.New("tunnel closed")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrNoAPIKeys         = errors.New("no API keys configured")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrBootstrapDisabled = errors.New("bootstrap key disabled - API keys exist")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodeAccessDenied          = "ACCESS_DENIED"
	ErrCodeRangeExhausted        = "RANGE_EXHAUSTED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// AccessDeniedError is returned when tunnel creation is refused by the ACL
// engine. Rule is the matching DENY rule, or nil for the default-deny.
type AccessDeniedError struct {
	Rule *AccessRule
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	if e.Rule == nil {
		return "access denied: no matching rule (default deny)"
	}
	return fmt.Sprintf("access denied by rule %s (priority %d)", e.Rule.ID, e.Rule.Priority)
}

// Unwrap lets errors.Is(err, ErrAccessDenied) match.
func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
