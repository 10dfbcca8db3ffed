package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target carries the same error code, so copies produced by
// WithInternal or WithMessage still match their sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Actor identity required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// Folder storage errors. Validation errors are raised before any I/O, DestinationExists right
// before the destructive rename, and the physical errors after the filesystem attempt.
var (
	ErrInvalidName = &AppError{
		Code:       "folder.invalid_name",
		Message:    "Folder name is empty after removing unsupported characters",
		StatusCode: http.StatusBadRequest,
	}

	ErrSelfParent = &AppError{
		Code:       "folder.self_parent",
		Message:    "A folder cannot become its own parent",
		StatusCode: http.StatusBadRequest,
	}

	ErrCyclicMove = &AppError{
		Code:       "folder.cyclic_move",
		Message:    "A folder cannot be moved into its own subtree",
		StatusCode: http.StatusBadRequest,
	}

	ErrDestinationExists = &AppError{
		Code:       "folder.destination_exists",
		Message:    "A folder already exists at the destination path",
		StatusCode: http.StatusConflict,
	}

	ErrPhysicalCreateFailed = &AppError{
		Code:       "folder.physical_create_failed",
		Message:    "Failed to create the folder directory on storage",
		StatusCode: http.StatusBadGateway,
	}

	ErrPhysicalRenameFailed = &AppError{
		Code:       "folder.physical_rename_failed",
		Message:    "Failed to rename the folder directory on storage",
		StatusCode: http.StatusBadGateway,
	}

	ErrPartialFailure = &AppError{
		Code:       "folder.partial_failure",
		Message:    "Folder directory changed on storage but the index update failed",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
