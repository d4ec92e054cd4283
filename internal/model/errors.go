package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for collaborator failures.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRejected       = errors.New("rejected by server")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
)

// Sentinel errors raised by the sync engine itself.
var (
	// ErrCartIdentityMissing: an operation needing a cart id ran before any cart exists.
	ErrCartIdentityMissing = errors.New("cart identity missing")
	// ErrReconciliationFailed wraps an add/remove call the server did not accept.
	ErrReconciliationFailed = errors.New("reconciliation failed")
	// ErrMalformedUpdate marks a push or cross-tab line without a resolvable variant.
	ErrMalformedUpdate = errors.New("malformed external update")
	// ErrUnknownLine: a quantity change for a variant that is not in the cart.
	ErrUnknownLine = errors.New("line not in cart")
)

// Error codes carried in APIError.Code.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRejected     = "REJECTED"
	CodeUpstream     = "UPSTREAM_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnknownLine  = "UNKNOWN_LINE"
	CodeNoCart       = "NO_CART"
	CodeUnavailable  = "UNAVAILABLE"
)

// APIError is a failure with a stable code and HTTP status. The cart API
// client produces them from upstream responses and the daemon renders them
// back to its own callers.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func newAPIError(code string, status int, cause error, msg string) *APIError {
	return &APIError{Code: code, Message: msg, StatusCode: status, Err: cause}
}

// NewNotFoundError reports a missing cart, tab or line.
func NewNotFoundError(resource string) *APIError {
	return newAPIError(CodeNotFound, http.StatusNotFound, ErrNotFound, resource+" not found")
}

// NewValidationError reports bad input on field.
func NewValidationError(field, reason string) *APIError {
	return newAPIError(CodeValidation, http.StatusBadRequest, ErrInvalidRequest,
		fmt.Sprintf("invalid %s: %s", field, reason))
}

func NewUnauthorizedError(reason string) *APIError {
	return newAPIError(CodeUnauthorized, http.StatusUnauthorized, ErrUnauthorized, reason)
}

// NewRejectedError reports a business-rule rejection such as exhausted stock.
func NewRejectedError(reason string) *APIError {
	return newAPIError(CodeRejected, http.StatusConflict, ErrRejected, reason)
}

// NewUpstreamError reports a failed call to service. The cause is kept
// reachable through errors.Is alongside ErrUpstreamError.
func NewUpstreamError(service string, err error) *APIError {
	cause := ErrUpstreamError
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrUpstreamError, err)
	}
	return newAPIError(CodeUpstream, http.StatusBadGateway, cause, service+" request failed")
}

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *APIError {
	return newAPIError(CodeInternal, http.StatusInternalServerError, err, "an internal error occurred")
}

func NewRateLimitError(service string) *APIError {
	return newAPIError(CodeRateLimited, http.StatusTooManyRequests, ErrRateLimited,
		service+" rate limit exceeded, please retry later")
}
