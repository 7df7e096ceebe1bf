// Package core provides the shared types, streaming protocol and error
// taxonomy used by every provider adapter and by the session layer.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeConfiguration indicates missing or invalid provider credentials
	ErrorTypeConfiguration ErrorType = "configuration_error"
	// ErrorTypeUnknownProvider indicates a registry lookup for an unregistered key
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrorTypeUnknownModel indicates a model id the adapter does not know
	ErrorTypeUnknownModel ErrorType = "unknown_model"
	// ErrorTypeEmptyResponse indicates a stream that completed with no content
	ErrorTypeEmptyResponse ErrorType = "empty_response"
	// ErrorTypeTransport indicates a network, auth, rate-limit or vendor failure
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeTurnInProgress indicates a submission while a turn is still running
	ErrorTypeTurnInProgress ErrorType = "turn_in_progress"
	// ErrorTypeInvalidRequest indicates a malformed request from the caller
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// Error is the base error type for all harness errors
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	// Missing lists the configuration fields that were absent (configuration errors only).
	Missing []string `json:"missing,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same type, so sentinel
// comparisons like errors.Is(err, ErrEmptyResponse) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeConfiguration:
		return http.StatusFailedDependency
	case ErrorTypeUnknownProvider, ErrorTypeUnknownModel:
		return http.StatusNotFound
	case ErrorTypeEmptyResponse:
		return http.StatusBadGateway
	case ErrorTypeTurnInProgress:
		return http.StatusConflict
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeTransport:
		if e.StatusCode >= 400 && e.StatusCode < 500 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *Error) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Provider != "" {
		body["provider"] = e.Provider
	}
	if len(e.Missing) > 0 {
		body["missing"] = e.Missing
	}
	return map[string]interface{}{"error": body}
}

// Sentinels for errors.Is checks. They match any *Error of the same type.
var (
	ErrConfiguration   = &Error{Type: ErrorTypeConfiguration}
	ErrUnknownProvider = &Error{Type: ErrorTypeUnknownProvider}
	ErrUnknownModel    = &Error{Type: ErrorTypeUnknownModel}
	ErrEmptyResponse   = &Error{Type: ErrorTypeEmptyResponse}
	ErrTransport       = &Error{Type: ErrorTypeTransport}
	ErrTurnInProgress  = &Error{Type: ErrorTypeTurnInProgress}
)

// NewConfigurationError creates an error naming every missing field.
// group is empty for providers with a single credential set.
func NewConfigurationError(provider, group string, missing ...string) *Error {
	msg := "missing required configuration: " + strings.Join(missing, ", ")
	if group != "" {
		msg = fmt.Sprintf("group %q: %s", group, msg)
	}
	return &Error{
		Type:     ErrorTypeConfiguration,
		Message:  msg,
		Provider: provider,
		Missing:  missing,
	}
}

// NewUnknownProviderError creates an error for an unregistered provider key
func NewUnknownProviderError(key string) *Error {
	return &Error{
		Type:    ErrorTypeUnknownProvider,
		Message: fmt.Sprintf("unknown provider: %s", key),
	}
}

// NewUnknownModelError creates an error for a model id outside the adapter catalog
func NewUnknownModelError(provider, model string) *Error {
	return &Error{
		Type:     ErrorTypeUnknownModel,
		Message:  fmt.Sprintf("unknown model: %s", model),
		Provider: provider,
	}
}

// NewEmptyResponseError creates an error for a completed stream with no content
func NewEmptyResponseError(provider string) *Error {
	return &Error{
		Type:     ErrorTypeEmptyResponse,
		Message:  "no response received from the model",
		Provider: provider,
	}
}

// NewTransportError creates a transport error. The vendor message is kept verbatim.
func NewTransportError(provider string, statusCode int, message string, err error) *Error {
	return &Error{
		Type:       ErrorTypeTransport,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewTurnInProgressError creates an error for a concurrent submission
func NewTurnInProgressError() *Error {
	return &Error{
		Type:    ErrorTypeTurnInProgress,
		Message: "a turn is already in progress",
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
		Err:     err,
	}
}

// ParseProviderError turns a non-2xx vendor response into a transport error,
// preferring the message from the usual {"error":{"message":...}} envelope.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *Error {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return NewTransportError(provider, statusCode, message, originalErr)
}
