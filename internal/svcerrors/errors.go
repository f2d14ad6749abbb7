// Package errors provides unified error handling for the matching core and
// webhook delivery subsystem.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (1xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_1001"
	ErrCodeMissingParameter ErrorCode = "VAL_1002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_1003"
	ErrCodeOutOfRange       ErrorCode = "VAL_1004"

	// Resource / state errors (2xxx)
	ErrCodeNotFound     ErrorCode = "RES_2001"
	ErrCodeInvalidState ErrorCode = "RES_2002"
	ErrCodeConflict     ErrorCode = "RES_2003"

	// Compliance / risk errors (3xxx)
	ErrCodeComplianceBlock ErrorCode = "RISK_3001"
	ErrCodeMLUnavailable   ErrorCode = "RISK_3002"

	// Allocation errors (4xxx)
	ErrCodeAllocationConflict ErrorCode = "ALLOC_4001"
	ErrCodeNoQuantity         ErrorCode = "ALLOC_4002"
	ErrCodeInvariantViolation ErrorCode = "ALLOC_4003"

	// Dependency / transport errors (5xxx)
	ErrCodeDependencyUnavailable ErrorCode = "DEP_5001"
	ErrCodeDatabaseError         ErrorCode = "DEP_5002"
	ErrCodeTimeout               ErrorCode = "DEP_5003"
	ErrCodeRateLimitExceeded     ErrorCode = "DEP_5004"

	// Webhook delivery errors (6xxx)
	ErrCodeWebhookSigningFailed      ErrorCode = "WH_6001"
	ErrCodeWebhookVerificationFailed ErrorCode = "WH_6002"
	ErrCodeWebhookDeadLettered       ErrorCode = "WH_6003"

	// Internal (9xxx)
	ErrCodeInternal ErrorCode = "SVC_9001"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource / state errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func InvalidState(resource, id, state string) *ServiceError {
	return New(ErrCodeInvalidState, "resource is not in a matchable state", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id).
		WithDetails("state", state)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Compliance / risk errors

// ComplianceBlock represents a Risk Orchestrator tier-1 FAIL.
func ComplianceBlock(violationType, tier, message string) *ServiceError {
	return New(ErrCodeComplianceBlock, message, http.StatusForbidden).
		WithDetails("violation_type", violationType).
		WithDetails("tier", tier)
}

func MLUnavailable(reason string) *ServiceError {
	return New(ErrCodeMLUnavailable, "ml risk scoring unavailable, rules-only result returned", http.StatusOK).
		WithDetails("reason", reason)
}

// Allocation errors

func AllocationConflict(availabilityID string, attempts int) *ServiceError {
	return New(ErrCodeAllocationConflict, "allocation conflict after retries", http.StatusConflict).
		WithDetails("availability_id", availabilityID).
		WithDetails("attempts", attempts)
}

func NoQuantity(availabilityID string) *ServiceError {
	return New(ErrCodeNoQuantity, "availability has no remaining quantity", http.StatusConflict).
		WithDetails("availability_id", availabilityID)
}

// InvariantViolation represents a fatal (but non-process-terminating) bug:
// the total = available + reserved + sold invariant broke.
func InvariantViolation(availabilityID string, total, available, reserved, sold int64) *ServiceError {
	return New(ErrCodeInvariantViolation, "quantity invariant violated", http.StatusInternalServerError).
		WithDetails("availability_id", availabilityID).
		WithDetails("total", total).
		WithDetails("available", available).
		WithDetails("reserved", reserved).
		WithDetails("sold", sold)
}

// Dependency / transport errors

func DependencyUnavailable(dependency string, err error) *ServiceError {
	return Wrap(ErrCodeDependencyUnavailable, "dependency unavailable", http.StatusServiceUnavailable, err).
		WithDetails("dependency", dependency)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "storage operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Webhook errors

func WebhookSigningFailed(err error) *ServiceError {
	return Wrap(ErrCodeWebhookSigningFailed, "webhook signing failed", http.StatusInternalServerError, err)
}

func WebhookVerificationFailed() *ServiceError {
	return New(ErrCodeWebhookVerificationFailed, "webhook signature verification failed", http.StatusUnauthorized)
}

func WebhookDeadLettered(deliveryID string, attempts int) *ServiceError {
	return New(ErrCodeWebhookDeadLettered, "webhook delivery exhausted retry budget", http.StatusOK).
		WithDetails("delivery_id", deliveryID).
		WithDetails("attempts", attempts)
}

// Internal

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a not-found ServiceError.
func IsNotFound(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == ErrCodeNotFound
}

// IsComplianceBlock reports whether err is a tier-1 compliance block.
func IsComplianceBlock(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == ErrCodeComplianceBlock
}
