// Package errors provides standardized error handling for the vehicle
// history report service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the report service.
type ErrorCode string

const (
	// Validation errors
	VHR_VALIDATION      ErrorCode = "VHR_VALIDATION"      // Identifier or body validation failed
	VHR_MISSING_FIELD   ErrorCode = "VHR_MISSING_FIELD"   // Rego without state or vice versa
	VHR_CHECKSUM_REJECT ErrorCode = "VHR_CHECKSUM_REJECT" // VIN check digit mismatch under strict mode
	VHR_BAD_REQUEST     ErrorCode = "VHR_BAD_REQUEST"     // Bad request
	VHR_CURSOR_INVALID  ErrorCode = "VHR_CURSOR_INVALID"  // Invalid pagination cursor

	// Authentication/Authorization errors
	VHR_AUTHN         ErrorCode = "VHR_AUTHN"         // Authentication failed
	VHR_AUTHZ         ErrorCode = "VHR_AUTHZ"         // Authorization failed
	VHR_JWT_INVALID   ErrorCode = "VHR_JWT_INVALID"   // Invalid JWT
	VHR_JWT_EXPIRED   ErrorCode = "VHR_JWT_EXPIRED"   // Expired JWT
	VHR_JWT_MALFORMED ErrorCode = "VHR_JWT_MALFORMED" // Malformed JWT

	// Resource errors
	VHR_NOT_FOUND         ErrorCode = "VHR_NOT_FOUND"         // Report or certificate not found
	VHR_CONFLICT          ErrorCode = "VHR_CONFLICT"          // Resource conflict
	VHR_REPORT_NOT_SEALED ErrorCode = "VHR_REPORT_NOT_SEALED" // Draft/generating report requested for export
	VHR_REPORT_SEALED     ErrorCode = "VHR_REPORT_SEALED"     // Mutation attempted on a sealed report
	VHR_REPORT_UNUSABLE   ErrorCode = "VHR_REPORT_UNUSABLE"   // Error-status report requested for rendering
	VHR_CERT_CHECKSUM     ErrorCode = "VHR_CERT_CHECKSUM"     // Certificate checksum mismatch
	VHR_CERT_SIZE         ErrorCode = "VHR_CERT_SIZE"         // Certificate size limit exceeded
	VHR_CERT_TYPE         ErrorCode = "VHR_CERT_TYPE"         // Certificate type not allowed

	// Upstream errors
	VHR_PROVIDER ErrorCode = "VHR_PROVIDER" // Every provider failed

	// Rate limiting
	VHR_RATE_LIMIT ErrorCode = "VHR_RATE_LIMIT" // Rate limit exceeded

	// Server errors
	VHR_INTERNAL    ErrorCode = "VHR_INTERNAL"    // Internal server error
	VHR_UNAVAILABLE ErrorCode = "VHR_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case VHR_VALIDATION, VHR_MISSING_FIELD, VHR_CHECKSUM_REJECT, VHR_BAD_REQUEST, VHR_CURSOR_INVALID:
		return http.StatusBadRequest
	case VHR_AUTHZ:
		return http.StatusForbidden
	case VHR_AUTHN, VHR_JWT_INVALID, VHR_JWT_EXPIRED, VHR_JWT_MALFORMED:
		return http.StatusUnauthorized
	case VHR_NOT_FOUND:
		return http.StatusNotFound
	case VHR_CONFLICT, VHR_REPORT_SEALED, VHR_REPORT_NOT_SEALED, VHR_REPORT_UNUSABLE:
		return http.StatusConflict
	case VHR_CERT_CHECKSUM, VHR_CERT_SIZE, VHR_CERT_TYPE:
		return http.StatusBadRequest
	case VHR_PROVIDER:
		return http.StatusBadGateway
	case VHR_RATE_LIMIT:
		return http.StatusTooManyRequests
	case VHR_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
