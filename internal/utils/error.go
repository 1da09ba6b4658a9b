package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes with HTTP status mapping
const (
	// General errors
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"

	// Query specification errors (caller must fix the spec)
	ErrCodeUnknownTable            = "UNKNOWN_TABLE"
	ErrCodeUnknownField            = "UNKNOWN_FIELD"
	ErrCodeIncompatibleAggregation = "INCOMPATIBLE_AGGREGATION"
	ErrCodeIncompatibleOperator    = "INCOMPATIBLE_OPERATOR"
	ErrCodeInvalidLimit            = "INVALID_LIMIT"
	ErrCodeUnknownOrderField       = "UNKNOWN_ORDER_FIELD"
	ErrCodeInvalidFilterValue      = "INVALID_FILTER_VALUE"
	ErrCodeEmptySelection          = "EMPTY_SELECTION"
	ErrCodeDuplicateField          = "DUPLICATE_FIELD"
	ErrCodeUnsafeStatement         = "UNSAFE_STATEMENT"

	// Engine errors (transient or server side)
	ErrCodeSchemaLookupFailed      = "SCHEMA_LOOKUP_FAILED"
	ErrCodeConnectionPoolExhausted = "CONNECTION_POOL_EXHAUSTED"
	ErrCodeConnectionFailed        = "CONNECTION_FAILED"
	ErrCodeQueryFailed             = "QUERY_FAILED"
	ErrCodeQueryTimeout            = "QUERY_TIMEOUT"
	ErrCodeDatabaseError           = "DATABASE_ERROR"

	// Data source errors
	ErrCodeDataSourceNotFound = "DATASOURCE_NOT_FOUND"
	ErrCodeDataSourceExists   = "DATASOURCE_EXISTS"
	ErrCodeInvalidDataSource  = "INVALID_DATASOURCE"
	ErrCodeDataSourceInactive = "DATASOURCE_INACTIVE"

	// Authentication errors
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeInvalidToken = "INVALID_TOKEN"
)

// HTTPStatus maps error codes to HTTP status codes
var HTTPStatus = map[string]int{
	ErrCodeInvalidRequest:     http.StatusBadRequest,
	ErrCodeValidationFailed:   http.StatusUnprocessableEntity,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeInternalError:      http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeRateLimitExceeded:  http.StatusTooManyRequests,

	ErrCodeUnknownTable:            http.StatusNotFound,
	ErrCodeUnknownField:            http.StatusUnprocessableEntity,
	ErrCodeIncompatibleAggregation: http.StatusUnprocessableEntity,
	ErrCodeIncompatibleOperator:    http.StatusUnprocessableEntity,
	ErrCodeInvalidLimit:            http.StatusUnprocessableEntity,
	ErrCodeUnknownOrderField:       http.StatusUnprocessableEntity,
	ErrCodeInvalidFilterValue:      http.StatusUnprocessableEntity,
	ErrCodeEmptySelection:          http.StatusUnprocessableEntity,
	ErrCodeDuplicateField:          http.StatusUnprocessableEntity,
	ErrCodeUnsafeStatement:         http.StatusForbidden,

	ErrCodeSchemaLookupFailed:      http.StatusServiceUnavailable,
	ErrCodeConnectionPoolExhausted: http.StatusServiceUnavailable,
	ErrCodeConnectionFailed:        http.StatusServiceUnavailable,
	ErrCodeQueryFailed:             http.StatusInternalServerError,
	ErrCodeQueryTimeout:            http.StatusGatewayTimeout,
	ErrCodeDatabaseError:           http.StatusInternalServerError,

	ErrCodeDataSourceNotFound: http.StatusNotFound,
	ErrCodeDataSourceExists:   http.StatusConflict,
	ErrCodeInvalidDataSource:  http.StatusBadRequest,
	ErrCodeDataSourceInactive: http.StatusServiceUnavailable,

	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeInvalidToken: http.StatusUnauthorized,
}

// AppError represents an application error with additional context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for creating errors
type ErrorBuilder struct {
	code    string
	message string
	details string
	cause   error
}

// NewErrorBuilder creates a new error builder
func NewErrorBuilder(code string) *ErrorBuilder {
	return &ErrorBuilder{code: code}
}

// WithMessage sets the error message
func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.message = message
	return eb
}

// WithDetails sets the error details
func (eb *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	eb.details = details
	return eb
}

// WithCause sets the underlying error cause
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.cause = cause
	return eb
}

// Build constructs the final AppError
func (eb *ErrorBuilder) Build() *AppError {
	if eb.message == "" {
		eb.message = getDefaultMessage(eb.code)
	}

	return &AppError{
		Code:    eb.code,
		Message: eb.message,
		Details: eb.details,
		Cause:   eb.cause,
	}
}

// getDefaultMessage returns a default message for error codes
func getDefaultMessage(code string) string {
	messages := map[string]string{
		ErrCodeInvalidRequest:     "The request is invalid",
		ErrCodeValidationFailed:   "Validation failed",
		ErrCodeUnauthorized:       "Unauthorized access",
		ErrCodeForbidden:          "Access forbidden",
		ErrCodeNotFound:           "Resource not found",
		ErrCodeConflict:           "Resource conflict",
		ErrCodeInternalError:      "Internal server error",
		ErrCodeServiceUnavailable: "Service temporarily unavailable",
		ErrCodeRateLimitExceeded:  "Rate limit exceeded",

		ErrCodeUnknownTable:            "Unknown table",
		ErrCodeUnknownField:            "Unknown field",
		ErrCodeIncompatibleAggregation: "Aggregation is not compatible with the column type",
		ErrCodeIncompatibleOperator:    "Operator is not compatible with the column type",
		ErrCodeInvalidLimit:            "Limit must be a positive integer",
		ErrCodeUnknownOrderField:       "Order field must be one of the selected fields",
		ErrCodeInvalidFilterValue:      "Filter value does not match the operator",
		ErrCodeEmptySelection:          "At least one dimension or group is required",
		ErrCodeDuplicateField:          "Selected fields must have distinct output names",
		ErrCodeUnsafeStatement:         "Compiled statement rejected",

		ErrCodeSchemaLookupFailed:      "Schema lookup failed",
		ErrCodeConnectionPoolExhausted: "No database connection available",
		ErrCodeConnectionFailed:        "Database connection failed",
		ErrCodeQueryFailed:             "Query execution failed",
		ErrCodeQueryTimeout:            "Query timeout",
		ErrCodeDatabaseError:           "Database error",

		ErrCodeDataSourceNotFound: "Data source not found",
		ErrCodeDataSourceExists:   "Data source already exists",
		ErrCodeInvalidDataSource:  "Invalid data source configuration",
		ErrCodeDataSourceInactive: "Data source is inactive",

		ErrCodeTokenExpired: "Token expired",
		ErrCodeInvalidToken: "Invalid token",
	}

	if msg, exists := messages[code]; exists {
		return msg
	}
	return "Unknown error"
}

// NewValidationError builds a validation failure with details
func NewValidationError(message string, details string) *AppError {
	return NewErrorBuilder(ErrCodeValidationFailed).
		WithMessage(message).
		WithDetails(details).
		Build()
}

// IsErrorType checks if an error matches a specific error code
func IsErrorType(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if status, exists := HTTPStatus[appErr.Code]; exists {
			return status
		}
	}
	return http.StatusInternalServerError
}
