package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Script describes how an SSEServer answers each request.
type Script struct {
	Status int           // Response status; 0 means 200
	Body   string        // Written verbatim for non-2xx statuses
	Chunks []string      // Written and flushed one at a time
	Delay  time.Duration // Pause before each chunk
	Hold   bool          // Keep the response open after the chunks until the client leaves
}

// RecordedRequest is a request captured by an SSEServer.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// SSEServer is an httptest server replaying a scripted event stream.
type SSEServer struct {
	*httptest.Server

	mu           sync.Mutex
	script       Script
	requests     []RecordedRequest
	disconnected chan struct{}
	disconnect   sync.Once
	done         chan struct{}
}

// NewSSEServer starts a server for script. It is closed when the test ends.
func NewSSEServer(t *testing.T, script Script) *SSEServer {
	t.Helper()
	s := &SSEServer{
		script:       script,
		disconnected: make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	t.Cleanup(func() { close(s.done) })
	return s
}

// SetScript replaces the script for subsequent requests
func (s *SSEServer) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// Requests returns the requests received so far
func (s *SSEServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Disconnected is closed once a client abandons a response mid-stream.
func (s *SSEServer) Disconnected() <-chan struct{} {
	return s.disconnected
}

func (s *SSEServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})
	script := s.script
	s.mu.Unlock()

	if script.Status != 0 && script.Status != http.StatusOK {
		w.WriteHeader(script.Status)
		_, _ = io.WriteString(w, script.Body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for _, chunk := range script.Chunks {
		if script.Delay > 0 {
			select {
			case <-time.After(script.Delay):
			case <-r.Context().Done():
				s.markDisconnected()
				return
			case <-s.done:
				return
			}
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			s.markDisconnected()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if script.Hold {
		select {
		case <-r.Context().Done():
			s.markDisconnected()
		case <-s.done:
		}
	}
}

func (s *SSEServer) markDisconnected() {
	s.disconnect.Do(func() { close(s.disconnected) })
}
