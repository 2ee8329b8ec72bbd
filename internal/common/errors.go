package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Error codes for the payment gateway surface. Reconciliation never exposes
// these to the paying client; they classify initiation failures for the API
// response and logs.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInitiationFailed    = "INITIATION_FAILED"
	CodeGatewayMisconfigure = "GATEWAY_MISCONFIGURED"
	CodeInternal            = "INTERNAL"
)

// ValidationError reports a rejected input field.
func ValidationError(message string, err error) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, err)
}

// InitiationError reports a failed checkout-session creation.
func InitiationError(message string, err error) *AppError {
	return NewAppError(CodeInitiationFailed, message, http.StatusBadGateway, err)
}

// MisconfigurationError reports missing or invalid gateway credentials.
func MisconfigurationError(message string) *AppError {
	return NewAppError(CodeGatewayMisconfigure, message, http.StatusInternalServerError, nil)
}

// WriteError renders an error as the canonical JSON error shape. The wrapped
// cause never reaches the response body; only Code, Message and Details do.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
