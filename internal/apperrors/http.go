package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// Machine-readable error codes returned in API error bodies.
const (
	CodeValidation = "validation"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeUpstream   = "upstream"
	CodeTimeout    = "timeout"
	CodeInternal   = "internal"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code classifies err. A deadline that expired while waiting on a dependency
// is a timeout unless the error already carries a sentinel.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// Body is the JSON error response of the API.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// ResponseBody renders err for an API response.
func ResponseBody(err error) Body {
	b := Body{Error: err.Error(), Code: Code(err)}
	var appErr *Error
	if errors.As(err, &appErr) {
		b.Field = appErr.Field
	}
	return b
}
