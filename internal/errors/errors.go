package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/holder-rounds/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents rejected caller input or a failed precondition
	CategoryValidation ErrorCategory = "validation"
	// CategoryFetch represents chain data that could not be retrieved
	CategoryFetch ErrorCategory = "fetch"
	// CategoryRateLimit represents a throttled upstream or client
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryStore represents persistence failures
	CategoryStore ErrorCategory = "store"
	// CategoryStateConflict represents a write that lost to a concurrent change
	CategoryStateConflict ErrorCategory = "state_conflict"
	// CategoryAuthorization represents authentication and authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates a validation error with a machine readable code
func NewValidationError(code, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       code,
		Message:    message,
	}
}

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	err := NewValidationError("INVALID_ADDRESS", fmt.Sprintf("invalid address format: %s", address))
	err.Details = map[string]interface{}{"address": address}
	return err
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	err := NewValidationError("INVALID_PARAMETER", fmt.Sprintf("invalid parameter '%s': %s", param, reason))
	err.Details = map[string]interface{}{
		"parameter": param,
		"reason":    reason,
	}
	return err
}

// NewFetchError creates a chain read error
func NewFetchError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "FETCH_FAILED",
		Message:    fmt.Sprintf("chain fetch failed during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRateLimitError creates an upstream rate limit error
func NewRateLimitError(source string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("rate limited by %s", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewStoreError creates a persistence error
func NewStoreError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStore,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORE_ERROR",
		Message:    fmt.Sprintf("store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewStateConflictError creates a concurrent modification error
func NewStateConflictError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStateConflict,
		StatusCode: http.StatusConflict,
		Code:       "STATE_CONFLICT",
		Message:    message,
		Cause:      cause,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewTooManyRequestsError creates a client side rate limit error
func NewTooManyRequestsError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

func hasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return hasCategory(err, CategoryValidation) }

// IsFetch reports whether err is a chain fetch error, rate limits included
func IsFetch(err error) bool {
	return hasCategory(err, CategoryFetch) || hasCategory(err, CategoryRateLimit)
}

// IsRateLimit reports whether err is a rate limit error
func IsRateLimit(err error) bool { return hasCategory(err, CategoryRateLimit) }

// IsStore reports whether err is a persistence error
func IsStore(err error) bool { return hasCategory(err, CategoryStore) }

// IsStateConflict reports whether err is a state conflict
func IsStateConflict(err error) bool { return hasCategory(err, CategoryStateConflict) }

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth retrying
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryFetch, CategoryStore:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}
