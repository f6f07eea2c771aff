package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes used across the conversation core
const (
	CodeConnection         = "CONNECTION_ERROR"
	CodeInvalidState       = "INVALID_STATE"
	CodeMalformedMessage   = "MALFORMED_MESSAGE"
	CodeUnknownParticipant = "UNKNOWN_PARTICIPANT"
	CodeInvalidQuery       = "INVALID_QUERY"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeInternal           = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrConnection         = &AppError{Code: CodeConnection}
	ErrInvalidState       = &AppError{Code: CodeInvalidState}
	ErrMalformedMessage   = &AppError{Code: CodeMalformedMessage}
	ErrUnknownParticipant = &AppError{Code: CodeUnknownParticipant}
	ErrInvalidQuery       = &AppError{Code: CodeInvalidQuery}
	ErrInvalidArgument    = &AppError{Code: CodeInvalidArgument}
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap attaches an underlying cause to the error
func (e *AppError) Wrap(cause error) *AppError {
	e.cause = cause
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewConnectionError reports that the transport could not be reached or rejected a write
func NewConnectionError(message string, cause error) *AppError {
	return NewError(http.StatusServiceUnavailable, CodeConnection, message).Wrap(cause)
}

// NewInvalidStateError reports an operation attempted outside its required session state
func NewInvalidStateError(message string) *AppError {
	return NewError(http.StatusConflict, CodeInvalidState, message)
}

// NewMalformedMessageError reports an inbound event that is missing required fields
func NewMalformedMessageError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeMalformedMessage, message)
}

// NewUnknownParticipantError reports a participant id that cannot be resolved
func NewUnknownParticipantError(participantID string, cause error) *AppError {
	return NewError(http.StatusNotFound, CodeUnknownParticipant,
		fmt.Sprintf("unknown participant %q", participantID)).Wrap(cause)
}

// NewInvalidQueryError reports a search pattern that does not compile
func NewInvalidQueryError(query string, cause error) *AppError {
	return NewError(http.StatusBadRequest, CodeInvalidQuery,
		fmt.Sprintf("invalid search query %q", query)).Wrap(cause)
}

// NewInvalidArgumentError reports a caller-supplied argument that cannot be used
func NewInvalidArgumentError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeInvalidArgument, message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewTooManyRequestsError creates a 429 Too Many Requests error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is checks if err carries an AppError with the same code as target
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}
