package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the stock ledger packages.
var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidOperation        = errors.New("invalid operation")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrConflict                = errors.New("conflict")
	ErrInternal                = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidOperation creates a 422 error for a mutation that would break a
// stock invariant, such as driving on-hand quantity below zero.
func InvalidOperation(message string) *AppError {
	return &AppError{
		Code:    "INVALID_OPERATION",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInvalidOperation,
	}
}

// InsufficientReservation creates a 409 error for a confirmation that exceeds
// the quantity held for an order.
func InsufficientReservation(message string) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_RESERVATION",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrInsufficientReservation,
	}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInsufficientReservation), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
