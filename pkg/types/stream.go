package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventStatus is the discriminant of a StreamEvent.
type EventStatus string

const (
	// StatusChunks carries the retrieval chunks used to ground the answer.
	StatusChunks EventStatus = "chunks"
	// StatusReasoning carries an intermediate "thinking" text fragment.
	StatusReasoning EventStatus = "reasoning"
	// StatusContent carries an answer text fragment.
	StatusContent EventStatus = "content"
	// StatusEnd is the terminal marker of an exchange.
	StatusEnd EventStatus = "end"
	// StatusError is a server-reported application error.
	StatusError EventStatus = "error"
)

// Statuses lists the closed set of statuses in wire order of appearance.
var Statuses = []EventStatus{StatusChunks, StatusReasoning, StatusContent, StatusEnd, StatusError}

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusChunks, StatusReasoning, StatusContent, StatusEnd, StatusError:
		return true
	}
	return false
}

// StreamEvent is one decoded frame of a chat stream.
//
// Content is kept as raw JSON because its shape depends on Status: a string
// fragment for content and reasoning, a chunk listing for chunks, any terminal
// payload for end and an error description for error.
type StreamEvent struct {
	Status  EventStatus     `json:"status"`
	Content json.RawMessage `json:"content,omitempty"`
	Sources *Sources        `json:"sources,omitempty"`

	// Raw is the JSON text of the frame as received.
	Raw string `json:"-"`
}

// Text returns Content as a string. JSON strings are unquoted, null and
// missing content yield "", anything else is returned as JSON text.
func (e StreamEvent) Text() string {
	trimmed := bytes.TrimSpace(e.Content)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// DecodeContent unmarshals Content into v.
func (e StreamEvent) DecodeContent(v interface{}) error {
	if len(e.Content) == 0 {
		return fmt.Errorf("event %q has no content", e.Status)
	}
	if err := json.Unmarshal(e.Content, v); err != nil {
		return fmt.Errorf("failed to decode %q content: %w", e.Status, err)
	}
	return nil
}

// AsError converts an in-band error event into a ClientError of kind
// application. It returns nil for any other status.
func (e StreamEvent) AsError() *ClientError {
	if e.Status != StatusError {
		return nil
	}
	msg := e.Text()
	if msg == "" {
		msg = "server reported an error"
	}
	return &ClientError{
		Kind:    KindApplication,
		Code:    ErrCodeServerError,
		Message: msg,
	}
}

// Sources is the retrieval provenance bundle attached to an exchange.
type Sources struct {
	Message     string   `json:"message"`
	SourceCount int      `json:"source_count,omitempty"`
	Sources     []Source `json:"sources"`
}

// Source groups the chunks that came from one knowledge-base file.
type Source struct {
	KnowledgeBase NamedRef      `json:"knowledge_base"`
	Category      NamedRef      `json:"category"`
	File          NamedRef      `json:"file"`
	Chunks        []SourceChunk `json:"chunks"`
}

// NamedRef is an entity reference whose id may be unknown to the backend.
type NamedRef struct {
	ID   *int64 `json:"id"`
	Name string `json:"name"`
}

// SourceChunk is a retrieved text chunk with its similarity score in [0,1].
type SourceChunk struct {
	Position   int                    `json:"position"`
	Text       string                 `json:"text"`
	Similarity float64                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata"`
}
