package response

import (
	"net/http"

	"chart-gateway/internal/utils"
)

// Envelope is the uniform response body: {code, data, message}.
//
// Code is one of 200, 401, 403, 404 or 500. The HTTP status of the response
// may be more specific than Code (422 for a spec the caller must fix, 503
// for a transient failure, 504 for a timeout); see EnvelopeCode.
type Envelope struct {
	Code          int         `json:"code"`
	Data          interface{} `json:"data"`
	Message       string      `json:"message"`
	ErrorCode     string      `json:"errorCode,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// EnvelopeCode folds an HTTP status into the envelope's code set
func EnvelopeCode(status int) int {
	switch {
	case status < http.StatusBadRequest:
		return http.StatusOK
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return status
	default:
		return http.StatusInternalServerError
	}
}

// SuccessResponse creates a successful response
func SuccessResponse(data interface{}, correlationID string) *Envelope {
	return &Envelope{
		Code:          http.StatusOK,
		Data:          data,
		Message:       "success",
		CorrelationID: correlationID,
	}
}

// SuccessMessageResponse creates a successful response with a message and no data
func SuccessMessageResponse(message, correlationID string) *Envelope {
	return &Envelope{
		Code:          http.StatusOK,
		Message:       message,
		CorrelationID: correlationID,
	}
}

// ErrorResponse creates an error response for an error code
func ErrorResponse(code, message, correlationID string) *Envelope {
	status, ok := utils.HTTPStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Envelope{
		Code:          EnvelopeCode(status),
		Message:       message,
		ErrorCode:     code,
		CorrelationID: correlationID,
	}
}

// ErrorResponseFromAppError creates an error response from AppError.
// Details are never included; they may carry server-side diagnostics.
func ErrorResponseFromAppError(appErr *utils.AppError, correlationID string) *Envelope {
	return ErrorResponse(appErr.Code, appErr.Message, correlationID)
}

// UnauthorizedResponse creates an unauthorized error response
func UnauthorizedResponse(message string, correlationID string) *Envelope {
	if message == "" {
		message = "Unauthorized access"
	}
	return ErrorResponse(utils.ErrCodeUnauthorized, message, correlationID)
}

// ForbiddenResponse creates a forbidden error response
func ForbiddenResponse(message string, correlationID string) *Envelope {
	if message == "" {
		message = "Forbidden access"
	}
	return ErrorResponse(utils.ErrCodeForbidden, message, correlationID)
}
