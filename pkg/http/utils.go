package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// maxErrorBody bounds how much of an error body is kept as the message.
const maxErrorBody = 512

// NewJSONRequest creates a JSON HTTP request with proper headers
func NewJSONRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// errorResponse covers the error shapes the backend produces:
// {"error": "..."}, {"error": {"message": "..."}} and {"message": "..."}.
type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// ParseAPIError creates a transport error from a non-success response
func ParseAPIError(statusCode int, body string) *types.ClientError {
	return types.NewStatusError(statusCode, errorMessage(body))
}

func errorMessage(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}

	var resp errorResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil {
		if len(resp.Error) > 0 {
			var s string
			if json.Unmarshal(resp.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(resp.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if resp.Message != "" {
			return resp.Message
		}
	}

	if len(trimmed) > maxErrorBody {
		trimmed = trimmed[:maxErrorBody] + "..."
	}
	return trimmed
}

// ProcessResponse reads and closes the body, converting non-2xx statuses to errors
func ProcessResponse(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // Best effort close

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewTransportError(types.ErrCodeNetwork, "failed to read response body").WithOriginalErr(err)
	}

	if !IsSuccess(resp.StatusCode) {
		return nil, ParseAPIError(resp.StatusCode, string(body))
	}

	return body, nil
}

// ProcessJSONResponse processes an HTTP response and unmarshals JSON into target.
// A nil target or an empty body is accepted.
func ProcessJSONResponse(resp *http.Response, target interface{}) error {
	body, err := ProcessResponse(resp)
	if err != nil {
		return err
	}
	if target == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return nil
}

// IsSuccess reports whether statusCode is in the 2xx range
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// IsRetryableStatus reports whether a response status is worth retrying
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isIdempotent reports whether a request with this method may be replayed
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
