package chat

import (
	"errors"
	"net/http"
)

// Error taxonomy of the message protocol. Callers wrap these with context
// using fmt.Errorf("%w: ...") and dispatch with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidState           = errors.New("message is deleted")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// Code is the wire representation of an error class.
type Code string

// Wire error codes.
const (
	CodeValidation             Code = "validation"
	CodeNotFound               Code = "not_found"
	CodeForbidden              Code = "forbidden"
	CodeInvalidState           Code = "invalid_state"
	CodePersistenceUnavailable Code = "persistence_unavailable"
	CodeInternal               Code = "internal"
)

// CodeOf classifies err.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrPersistenceUnavailable):
		return CodePersistenceUnavailable
	default:
		return CodeInternal
	}
}

// HTTPStatus maps err to the status code used by the REST endpoints.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeInvalidState:
		return http.StatusConflict
	case CodePersistenceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
