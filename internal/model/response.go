package model

import "net/http"

// ErrorCode is the short machine-readable rejection code carried in the
// error envelope. Credential failures deliberately share a single code so
// callers cannot distinguish unknown, revoked, and expired keys.
type ErrorCode string

const (
	CodeInvalidCredential   ErrorCode = "invalid_credential"
	CodeMalformedRequest    ErrorCode = "malformed_request"
	CodePermissionDenied    ErrorCode = "permission_denied"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeNotFound            ErrorCode = "not_found"
	CodeInternal            ErrorCode = "internal"
)

// HTTPStatus maps the code to its transport status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidCredential, CodeMalformedRequest:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the uniform rejection envelope. Every error the API
// returns uses this shape regardless of cause, and never includes the
// received secret, digests, or identifiers of other subjects.
type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorCode `json:"error"`
}

// DataResponse is the uniform success envelope.
type DataResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// NewError builds the rejection envelope for a code.
func NewError(code ErrorCode) ErrorResponse {
	return ErrorResponse{OK: false, Error: code}
}

// NewData wraps a successful payload.
func NewData(v any) DataResponse {
	return DataResponse{OK: true, Data: v}
}
