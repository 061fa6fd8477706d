package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the failure class of a ClientError.
type ErrorKind string

const (
	// KindValidation is a local precondition failure; no request was sent.
	KindValidation ErrorKind = "validation"
	// KindTransport is a failed request, a non-success status or a missing body.
	KindTransport ErrorKind = "transport"
	// KindDecode is a frame with the data prefix whose payload is not valid JSON.
	KindDecode ErrorKind = "decode"
	// KindApplication is an in-band error reported by the server as a message.
	KindApplication ErrorKind = "application"
)

// ErrorCode further categorizes transport failures.
type ErrorCode string

const (
	ErrCodeUnknown        ErrorCode = "unknown"
	ErrCodeAuthentication ErrorCode = "authentication"
	ErrCodeRateLimit      ErrorCode = "rate_limit"
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeNotFound       ErrorCode = "not_found"
	ErrCodeServerError    ErrorCode = "server_error"
	ErrCodeNetwork        ErrorCode = "network"
	ErrCodeNoBody         ErrorCode = "no_body"
)

// ClientError is the error type returned by every Classroom Kit operation.
type ClientError struct {
	Kind        ErrorKind // Failure class
	Code        ErrorCode // Transport sub-category
	Message     string    // Human-readable message
	StatusCode  int       // HTTP status code (0 if not applicable)
	Endpoint    string    // Endpoint path the call targeted
	Fields      []string  // Missing or invalid fields for validation errors
	Frame       string    // Offending frame for decode errors
	RequestID   string    // X-Request-ID sent with the request
	OriginalErr error     // Wrapped original error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " [%s]", e.Endpoint)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status=%d, code=%s)", e.StatusCode, e.Code)
	}
	if e.OriginalErr != nil && !strings.Contains(e.Message, e.OriginalErr.Error()) {
		fmt.Fprintf(&b, ": %v", e.OriginalErr)
	}
	return b.String()
}

// Unwrap returns the original error for errors.Is/As
func (e *ClientError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns true if the error is potentially recoverable with retry
func (e *ClientError) IsRetryable() bool {
	if e.Kind != KindTransport {
		return false
	}
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeNetwork:
		return true
	}
	return false
}

// WithEndpoint sets the endpoint field and returns the error for chaining
func (e *ClientError) WithEndpoint(endpoint string) *ClientError {
	e.Endpoint = endpoint
	return e
}

// WithRequestID sets the request ID field and returns the error for chaining
func (e *ClientError) WithRequestID(requestID string) *ClientError {
	e.RequestID = requestID
	return e
}

// WithOriginalErr sets the original error field and returns the error for chaining
func (e *ClientError) WithOriginalErr(err error) *ClientError {
	e.OriginalErr = err
	return e
}

// NewValidationError reports missing or invalid request fields.
func NewValidationError(fields ...string) *ClientError {
	return &ClientError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidRequest,
		Message: "missing required fields: " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}

// NewTransportError creates a transport error for a failed round trip.
func NewTransportError(code ErrorCode, message string) *ClientError {
	return &ClientError{
		Kind:    KindTransport,
		Code:    code,
		Message: message,
	}
}

// NewStatusError creates a transport error for a non-success HTTP status.
func NewStatusError(statusCode int, message string) *ClientError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &ClientError{
		Kind:       KindTransport,
		Code:       ClassifyHTTPError(statusCode),
		Message:    "request failed: " + message,
		StatusCode: statusCode,
	}
}

// NewDecodeError creates a decode error for a malformed frame.
func NewDecodeError(frame string, err error) *ClientError {
	return &ClientError{
		Kind:        KindDecode,
		Code:        ErrCodeInvalidRequest,
		Message:     "malformed stream frame",
		Frame:       frame,
		OriginalErr: err,
	}
}

// ClassifyHTTPError determines error code from HTTP status
func ClassifyHTTPError(statusCode int) ErrorCode {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeAuthentication
	case http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrCodeInvalidRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	default:
		if statusCode >= 500 {
			return ErrCodeServerError
		}
		return ErrCodeUnknown
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransport
}

// IsDecodeError checks if an error is a decode error
func IsDecodeError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindDecode
}

// IsAuthError checks if an error is a 401/403 transport error
func IsAuthError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == KindTransport && ce.Code == ErrCodeAuthentication
}
