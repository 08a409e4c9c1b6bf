package app

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Match them with errors.Is; the concrete value is a *DomainError.
var (
	ErrValidation   = errors.New("validation")
	ErrNotInstalled = errors.New("not installed")
	ErrUpstream     = errors.New("upstream")
	ErrNotFound     = errors.New("not found")
)

type DomainError struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *DomainError) Is(target error) bool {
	return target == e.Kind
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(kind error, status int, code, message string, cause error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func validationError(message string) *DomainError {
	return domainError(ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func notInstalledError(installPage string) *DomainError {
	return domainError(ErrNotInstalled, http.StatusForbidden, "NOT_INSTALLED",
		fmt.Sprintf("This workspace is not authorized. Goto %s to install the app", installPage), nil)
}

func upstreamError(message string, cause error) *DomainError {
	return domainError(ErrUpstream, http.StatusBadGateway, "UPSTREAM_ERROR", message, cause)
}

func notFoundError(message string, cause error) *DomainError {
	return domainError(ErrNotFound, http.StatusNotFound, "NOT_FOUND", message, cause)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
