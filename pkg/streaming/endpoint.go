package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// BodyBuilder decorates the JSON object of a request body before it is sent.
type BodyBuilder func(body map[string]json.RawMessage) error

// InjectField returns a BodyBuilder that sets key to value, overriding any
// value supplied by the payload.
func InjectField(key string, value interface{}) BodyBuilder {
	return func(body map[string]json.RawMessage) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode field %q: %w", key, err)
		}
		body[key] = raw
		return nil
	}
}

// Endpoint describes one streaming chat route of the backend.
type Endpoint struct {
	Name  string        // Label used in logs and metrics
	Path  string        // Route relative to the backend base URL
	Build []BodyBuilder // Applied in order to the encoded payload
}

// Declared streaming chat endpoints.
var (
	// CourseClassChat answers from the knowledge bases attached to a class.
	CourseClassChat = Endpoint{
		Name: "course_class_chat",
		Path: "/course_class_chat",
	}

	// QuestionChat discusses one question of the question bank. The
	// analysis of the question is always requested.
	QuestionChat = Endpoint{
		Name:  "question_chat",
		Path:  "/question_chat",
		Build: []BodyBuilder{InjectField("include_analysis", true)},
	}

	// ConversationChat continues a free-form conversation with the assistant.
	ConversationChat = Endpoint{
		Name: "conversation_chat",
		Path: "/conversation_chat",
	}
)

// Body encodes payload as the JSON request body of the endpoint.
func (e Endpoint) Body(payload types.Payload) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Name, err)
	}
	if len(e.Build) == 0 {
		return encoded, nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &body); err != nil {
		return nil, fmt.Errorf("%s payload is not a JSON object: %w", e.Name, err)
	}
	if body == nil {
		body = make(map[string]json.RawMessage)
	}
	for _, build := range e.Build {
		if err := build(body); err != nil {
			return nil, err
		}
	}
	return json.Marshal(body)
}
