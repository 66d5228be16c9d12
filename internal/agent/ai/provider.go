// Package ai contains the model-endpoint client: wire types, the
// streaming response decoder, and the retry controller that wraps
// round trips.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ternlabs/tern/internal/conversation"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText     StreamEventType = "text"
	EventTypeToolCall StreamEventType = "tool_call"
	EventTypeError    StreamEventType = "error"
	EventTypeDone     StreamEventType = "done"
)

// StreamEvent represents a streaming response event. Text events carry
// display deltas as they arrive; a ToolCall event is emitted once per
// completed tool-use block; the Done event carries the final ordered
// block list assembled by the decoder.
type StreamEvent struct {
	Type   StreamEventType
	Text   string
	Block  *conversation.ContentBlock
	Blocks []conversation.ContentBlock
	Error  error
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest represents a request to the model endpoint.
type ChatRequest struct {
	Messages  []conversation.Message
	Tools     []ToolDefinition
	System    string
	Model     string
	MaxTokens int
}

// Provider is a model endpoint. Stream drives the chunked event
// protocol; Complete is the non-streaming path used for summarization.
type Provider interface {
	ID() string
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
	Complete(ctx context.Context, req *ChatRequest) ([]conversation.ContentBlock, error)
}

// ProviderError represents an error response from the model endpoint.
type ProviderError struct {
	Status       int    `json:"status,omitempty"`
	Code         string `json:"code,omitempty"`
	Type         string `json:"type,omitempty"`
	Message      string `json:"message"`
	RetryAfterMS int    `json:"retry_after_ms,omitempty"` // From Retry-After hints; 0 = no hint
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IsRateLimit checks if an error is a rate-limit response.
func IsRateLimit(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 429 ||
			pe.Code == "rate_limit_exceeded" ||
			pe.Type == "rate_limit_error"
	}
	return false
}

// IsContextOverflow checks if an error indicates context window overflow.
func IsContextOverflow(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Code == "context_length_exceeded" {
			return true
		}
		if pe.Type == "invalid_request_error" && containsContextError(pe.Message) {
			return true
		}
	}
	return false
}

// containsContextError checks if error message indicates context overflow
func containsContextError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range []string{"context", "token", "too long", "exceed"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
