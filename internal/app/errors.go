package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"docgate/internal/cache"
	"docgate/internal/crdt"
	"docgate/internal/gateway"
	"docgate/internal/render"
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, gateway.ErrEmptyName):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentName is required", nil
	case errors.Is(err, gateway.ErrNotReady):
		return http.StatusServiceUnavailable, "NOT_READY", "Gateway is not ready", nil
	case errors.Is(err, gateway.ErrStoreFailed):
		return http.StatusServiceUnavailable, "STORE_FAILED", "Snapshot could not be persisted", nil
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Document not cached", nil
	case errors.Is(err, cache.ErrCorrupt), errors.Is(err, crdt.ErrMalformedUpdate):
		return http.StatusUnprocessableEntity, "CORRUPT_SNAPSHOT", "Cached snapshot is corrupt", nil
	case errors.Is(err, render.ErrChromeMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is unavailable", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
