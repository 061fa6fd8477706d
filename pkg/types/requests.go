package types

import "strings"

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryMessage is one prior turn of a conversation.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Payload is a request body accepted by a streaming chat endpoint.
type Payload interface {
	// Validate checks the endpoint's required-field contract.
	Validate() error
}

// Bool returns a pointer to b, for tri-state request flags.
func Bool(b bool) *bool {
	return &b
}

// ClassChatRequest asks the assistant a question grounded on the knowledge
// bases attached to a course class.
type ClassChatRequest struct {
	ClassID             int64            `json:"class_id"`
	Query               string           `json:"query"`
	ThinkingMode        *bool            `json:"thinking_mode"`
	History             []HistoryMessage `json:"history,omitempty"`
	SimilarityThreshold *float64         `json:"similarity_threshold,omitempty"`
	ChunkCount          int              `json:"chunk_cnt,omitempty"`
	APIKey              string           `json:"api_key,omitempty"`
	DataTypeFilter      *string          `json:"data_type_filter,omitempty"`
}

// Validate implements Payload
func (r *ClassChatRequest) Validate() error {
	if r == nil {
		return NewValidationError("payload")
	}
	var missing []string
	if r.ClassID <= 0 {
		missing = append(missing, "class_id")
	}
	if strings.TrimSpace(r.Query) == "" {
		missing = append(missing, "query")
	}
	if r.ThinkingMode == nil {
		missing = append(missing, "thinking_mode")
	}
	if len(missing) > 0 {
		return NewValidationError(missing...)
	}
	if r.SimilarityThreshold != nil && (*r.SimilarityThreshold < 0 || *r.SimilarityThreshold > 1) {
		e := NewValidationError("similarity_threshold")
		e.Message = "similarity_threshold must be between 0 and 1"
		return e
	}
	if r.ChunkCount < 0 {
		e := NewValidationError("chunk_cnt")
		e.Message = "chunk_cnt must be non-negative"
		return e
	}
	return validateHistory(r.History)
}

// QuestionChatRequest asks the assistant about a single question of the bank.
type QuestionChatRequest struct {
	QuestionID   int64            `json:"question_id"`
	Query        string           `json:"query"`
	ThinkingMode *bool            `json:"thinking_mode"`
	History      []HistoryMessage `json:"history,omitempty"`
}

// Validate implements Payload
func (r *QuestionChatRequest) Validate() error {
	if r == nil {
		return NewValidationError("payload")
	}
	var missing []string
	if r.QuestionID <= 0 {
		missing = append(missing, "question_id")
	}
	if strings.TrimSpace(r.Query) == "" {
		missing = append(missing, "query")
	}
	if r.ThinkingMode == nil {
		missing = append(missing, "thinking_mode")
	}
	if len(missing) > 0 {
		return NewValidationError(missing...)
	}
	return validateHistory(r.History)
}

// ConversationChatRequest continues a free-form assistant conversation.
// ConversationID is zero when starting a new conversation.
type ConversationChatRequest struct {
	ConversationID int64            `json:"conversation_id,omitempty"`
	Query          string           `json:"query"`
	ThinkingMode   *bool            `json:"thinking_mode"`
	History        []HistoryMessage `json:"history,omitempty"`
}

// Validate implements Payload
func (r *ConversationChatRequest) Validate() error {
	if r == nil {
		return NewValidationError("payload")
	}
	var missing []string
	if r.ConversationID < 0 {
		missing = append(missing, "conversation_id")
	}
	if strings.TrimSpace(r.Query) == "" {
		missing = append(missing, "query")
	}
	if r.ThinkingMode == nil {
		missing = append(missing, "thinking_mode")
	}
	if len(missing) > 0 {
		return NewValidationError(missing...)
	}
	return validateHistory(r.History)
}

func validateHistory(history []HistoryMessage) error {
	for _, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			e := NewValidationError("history")
			e.Message = "history role must be user or assistant, got " + string(m.Role)
			return e
		}
	}
	return nil
}
