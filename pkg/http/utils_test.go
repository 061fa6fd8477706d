package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

func TestNewJSONRequest(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		url         string
		body        interface{}
		expectError bool
	}{
		{
			name:   "valid POST with body",
			method: http.MethodPost,
			url:    "http://example.com/api",
			body:   map[string]string{"key": "value"},
		},
		{
			name:   "valid GET without body",
			method: http.MethodGet,
			url:    "http://example.com/api",
		},
		{
			name:        "invalid body",
			method:      http.MethodPost,
			url:         "http://example.com/api",
			body:        make(chan int), // Cannot be marshaled to JSON
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewJSONRequest(context.Background(), tt.method, tt.url, tt.body)
			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.url, req.URL.String())
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			if tt.body != nil {
				assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
				require.NotNil(t, req.GetBody, "body must be replayable")
				body, err := io.ReadAll(req.Body)
				require.NoError(t, err)
				assert.JSONEq(t, `{"key":"value"}`, string(body))
			} else {
				assert.Empty(t, req.Header.Get("Content-Type"))
			}
		})
	}
}

func TestParseAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		message  string
		code     types.ErrorCode
		contains string
	}{
		{"error string", 404, `{"error": "课程不存在"}`, "request failed: 课程不存在", types.ErrCodeNotFound, ""},
		{"nested error", 400, `{"error": {"message": "bad query"}}`, "request failed: bad query", types.ErrCodeInvalidRequest, ""},
		{"message field", 401, `{"message": "请先登录"}`, "request failed: 请先登录", types.ErrCodeAuthentication, ""},
		{"plain text", 500, "internal error\n", "request failed: internal error", types.ErrCodeServerError, ""},
		{"empty body", 503, "", "request failed: Service Unavailable", types.ErrCodeServerError, ""},
		{"rate limited", 429, `{}`, "request failed: {}", types.ErrCodeRateLimit, ""},
		{"long body", 502, strings.Repeat("x", 2*maxErrorBody), "", types.ErrCodeServerError, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseAPIError(tt.status, tt.body)
			assert.Equal(t, types.KindTransport, err.Kind)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.code, err.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Message)
			}
			if tt.contains != "" {
				assert.Contains(t, err.Message, tt.contains)
			}
		})
	}
}

func TestProcessJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"id": 7, "username": "alice"}`))
		case "/created":
			w.WriteHeader(http.StatusCreated)
		case "/bad-json":
			_, _ = w.Write([]byte(`{`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error": "forbidden"}`))
		}
	}))
	defer server.Close()

	get := func(path string) *http.Response {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		return resp
	}

	var user types.User
	require.NoError(t, ProcessJSONResponse(get("/ok"), &user))
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "alice", user.Username)

	assert.NoError(t, ProcessJSONResponse(get("/created"), &user))
	assert.NoError(t, ProcessJSONResponse(get("/ok"), nil))

	err := ProcessJSONResponse(get("/bad-json"), &user)
	assert.ErrorContains(t, err, "failed to parse JSON response")

	err = ProcessJSONResponse(get("/denied"), &user)
	assert.True(t, types.IsAuthError(err))
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 501} {
		assert.False(t, IsRetryableStatus(code), code)
	}
}
