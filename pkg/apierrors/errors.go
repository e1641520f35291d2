// Package apierrors defines the coded errors the service surfaces to
// HTTP clients. Services return these to signal how a failure should be
// presented; anything uncoded is treated as internal.
package apierrors

import (
	"errors"
	"net/http"
)

// Code classifies an error for the API response
type Code string

const (
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
)

// Error is an error with an API code and a user-presentable message
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

// Unauthorized creates an UNAUTHORIZED error
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

// Forbidden creates a FORBIDDEN error
func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// NotFound creates a NOT_FOUND error
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// Internal creates an INTERNAL error
func Internal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// CodeOf extracts the code from an error chain. Errors without a code
// classify as INTERNAL.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternal
}

// MessageOf returns the user-presentable message for an error. Uncoded
// errors get a generic message so internal details never leak to
// clients.
func MessageOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error code to its HTTP status
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
