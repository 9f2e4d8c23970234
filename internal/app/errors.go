package app

import (
	"errors"
	"fmt"
	"net/http"

	"kosmarket/api/internal/store"
)

const (
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeInvalidState = "INVALID_STATE"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any DomainError carrying the same code, so callers can write
// errors.Is(err, app.ErrConflict) regardless of message or details.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e != nil && t.Code == e.Code
}

var (
	ErrNotFound     = &DomainError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "Not found"}
	ErrForbidden    = &DomainError{Status: http.StatusForbidden, Code: CodeForbidden, Message: "Forbidden"}
	ErrConflict     = &DomainError{Status: http.StatusConflict, Code: CodeConflict, Message: "Conflict"}
	ErrInvalidState = &DomainError{Status: http.StatusConflict, Code: CodeInvalidState, Message: "Invalid state"}
	ErrValidation   = &DomainError{Status: http.StatusUnprocessableEntity, Code: CodeValidation, Message: "Validation failed"}
)

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(format string, args ...any) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, fmt.Sprintf(format, args...), nil)
}

func forbidden(format string, args ...any) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, fmt.Sprintf(format, args...), nil)
}

func conflict(format string, args ...any) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, fmt.Sprintf(format, args...), nil)
}

func invalidState(format string, args ...any) *DomainError {
	return domainError(http.StatusConflict, CodeInvalidState, fmt.Sprintf(format, args...), nil)
}

func validationError(message string, details map[string]string) *DomainError {
	var d any
	if len(details) > 0 {
		d = details
	}
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, d)
}

// translateStoreError maps store sentinels onto the domain taxonomy. Unknown
// errors pass through and surface as server errors.
func translateStoreError(err error, listingID uint64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound("listing %d not found", listingID)
	case errors.Is(err, store.ErrNotOwner):
		return forbidden("caller does not own listing %d", listingID)
	case errors.Is(err, store.ErrPendingExists):
		return conflict("listing %d already has a pending request of this kind", listingID)
	case errors.Is(err, store.ErrNoPendingRequest):
		return invalidState("listing %d has no pending request of this kind", listingID)
	case errors.Is(err, store.ErrStateChanged):
		return invalidState("listing %d is not pending", listingID)
	default:
		return err
	}
}

// errorCode is the metrics outcome label for err.
func errorCode(err error) string {
	if err == nil {
		return "ok"
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "SERVER_ERROR"
}
