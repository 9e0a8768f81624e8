package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/vertextax/internal/billing/domain"
	taxdomain "github.com/smallbiznis/vertextax/internal/tax/domain"
	vertexdomain "github.com/smallbiznis/vertextax/internal/vertex/domain"
	"github.com/smallbiznis/vertextax/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

// ErrorHandlingMiddleware renders the last handler error unless a response
// was already written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

// statusRule maps a class of errors to an HTTP answer. Rules are checked in
// order, so a joined error takes the status of its first matching member.
type statusRule struct {
	match   func(error) bool
	status  int
	kind    string
	message string
}

var statusRules = []statusRule{
	{isNotFound, http.StatusNotFound, "not_found", "not found"},
	{is(ErrConflict), http.StatusConflict, "conflict", "a tax computation is already running for this invoice"},
	{is(ErrTooManyRequests), http.StatusTooManyRequests, "rate_limited", "too many requests"},
	{is(taxdomain.ErrInvalidBatch, taxdomain.ErrInvalidInvoice), http.StatusUnprocessableEntity, "invalid_tax_batch", ""},
	{is(vertexdomain.ErrNotConfigured, ErrServiceUnavailable), http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},
	{isEngineError, http.StatusBadGateway, "tax_engine_error", "tax engine request failed"},
}

func mapError(err error) (int, errorPayload) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{{Field: "page_token", Code: pagination.ErrInvalidPageToken.Error(), Message: "invalid page token"}},
		}
	}

	for _, rule := range statusRules {
		if err == nil || !rule.match(err) {
			continue
		}
		message := rule.message
		if message == "" {
			message = err.Error()
		}
		return rule.status, errorPayload{Type: rule.kind, Message: message}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

func is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

var isNotFound = is(ErrNotFound, billingdomain.ErrAccountNotFound, billingdomain.ErrInvoiceNotFound)

func isEngineError(err error) bool {
	var apiErr *vertexdomain.APIError
	return errors.Is(err, vertexdomain.ErrUnauthorized) || errors.As(err, &apiErr)
}
