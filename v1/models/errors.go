package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the workflow operations
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeForbidden      = "FORBIDDEN"
	CodeConflict       = "CONFLICT"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)

// AppError is the error type surfaced by the workflow operations. Code
// classifies the failure; Err carries the underlying cause, if any.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidRequestError reports malformed or contradictory input
func NewInvalidRequestError(message string) *AppError {
	return &AppError{Code: CodeInvalidRequest, Message: message}
}

// NewForbiddenError reports an authorization denial
func NewForbiddenError(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

// NewConflictError reports a uniqueness violation
func NewConflictError(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

// NewNotFoundError reports a missing entity
func NewNotFoundError(resource string, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// NewInternalError reports an operational failure (gateway rejection,
// action-dispatch failure after compensation, store errors)
func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// ErrorCode extracts the AppError code from err, or CodeInternal for
// unclassified errors
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps a workflow error to the HTTP status code the handlers return
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
