package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

// Failure conditions raised by the upload path and the analysis pipeline.
var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInvalidInput = &Error{
		Code:       "invalid_input",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrUpstreamStorage = &Error{
		Code:       "upstream_storage",
		Message:    "Video storage is unavailable. Please try again later",
		StatusCode: http.StatusBadGateway,
	}

	ErrQueueUnavailable = &Error{
		Code:       "queue_unavailable",
		Message:    "Analysis queue is unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrAnalysisFailure = &Error{
		Code:       "analysis_failure",
		Message:    "Video analysis failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrStaleProcessing = &Error{
		Code:       "stale_processing",
		Message:    "processing lease expired",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

// WithMessage returns a copy of appErr carrying a more specific message.
func WithMessage(appErr *Error, message string) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    message,
		StatusCode: appErr.StatusCode,
	}
}

func WrapWithMessage(err error, appErr *Error, message string) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}
