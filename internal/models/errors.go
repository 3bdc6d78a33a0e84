package models

import (
	"errors"
	"fmt"
)

// Error codes form the closed taxonomy every API outcome is classified into.
const (
	CodeNoConnectivity    = "NO_CONNECTIVITY"
	CodeTimeout           = "TIMEOUT"
	CodeServerUnavailable = "SERVER_UNAVAILABLE"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeServerError       = "SERVER_ERROR"
	CodeDecodeFailure     = "DECODE_FAILURE"
	CodeBadResponse       = "BAD_RESPONSE"
)

// APIError is the classified outcome of an API call.
type APIError struct {
	Code    string
	Status  int // HTTP status when one was received, zero otherwise
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error is transient and worth retrying
// manually. Only transport-level failures qualify; everything the server
// actually answered is not.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeNoConnectivity, CodeTimeout, CodeServerUnavailable:
		return true
	}
	return false
}

// Predefined error constructors

func NewNoConnectivityError() *APIError {
	return &APIError{Code: CodeNoConnectivity, Message: "no network connectivity"}
}

func NewTimeoutError(err error) *APIError {
	return &APIError{Code: CodeTimeout, Message: "request timed out", Err: err}
}

func NewServerUnavailableError(err error) *APIError {
	return &APIError{Code: CodeServerUnavailable, Message: "server unavailable", Err: err}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{Code: CodeUnauthorized, Status: 401, Message: message}
}

func NewForbiddenError() *APIError {
	return &APIError{Code: CodeForbidden, Status: 403, Message: "forbidden"}
}

func NewNotFoundError(resource string) *APIError {
	return &APIError{Code: CodeNotFound, Status: 404, Message: fmt.Sprintf("%s not found", resource)}
}

func NewServerErrorError(status int) *APIError {
	return &APIError{Code: CodeServerError, Status: status, Message: "server error"}
}

func NewDecodeFailureError(err error) *APIError {
	return &APIError{Code: CodeDecodeFailure, Message: "failed to decode response", Err: err}
}

func NewBadResponseError(status int, body string) *APIError {
	return &APIError{Code: CodeBadResponse, Status: status, Message: body}
}

// ErrorCode extracts the taxonomy code from err, or empty if err is not an
// APIError.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
