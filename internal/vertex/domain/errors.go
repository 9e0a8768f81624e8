package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("vertex_not_configured")
	ErrUnauthorized  = errors.New("vertex_unauthorized")
)

// APIError is a non-2xx engine answer. Body holds the raw payload, which is
// persisted to the audit trail when present.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vertex %s failed with status %d", e.Operation, e.StatusCode)
}

// ResponseBody returns the raw error payload carried by err, if any.
func ResponseBody(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Body != "" {
		return apiErr.Body, true
	}
	return "", false
}
