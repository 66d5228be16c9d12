package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go/packages/ssestream"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// OpenAIProvider talks to any endpoint implementing the OpenAI chat
// completions protocol (OpenAI, Azure, Ollama, vLLM, Groq, ...).
// Streaming responses are decoded by streamDecoder; Complete uses the
// non-streaming form of the same endpoint.
type OpenAIProvider struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
// apiBase is the prefix before /chat/completions.
func NewOpenAIProvider(apiBase, apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		apiBase: apiBase,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return "openai"
}

// Wire format for the chat completions request body.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

// buildMessages converts conversation messages to the wire format:
// assistant block messages become an assistant entry with tool_calls,
// user messages wrapping tool results become one "tool" entry per result.
func buildMessages(req *ChatRequest) []wireMessage {
	var result []wireMessage

	if req.System != "" {
		result = append(result, wireMessage{Role: "system", Content: req.System})
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case conversation.RoleAssistant:
			wm := wireMessage{Role: "assistant", Content: msg.Text()}
			for _, b := range msg.ToolUses() {
				tc := wireToolCall{ID: b.ID, Type: "function"}
				tc.Function.Name = b.Name
				args, err := json.Marshal(b.Input)
				if err != nil {
					args = []byte("{}")
				}
				tc.Function.Arguments = string(args)
				wm.ToolCalls = append(wm.ToolCalls, tc)
			}
			if wm.Content != "" || len(wm.ToolCalls) > 0 {
				result = append(result, wm)
			}

		case conversation.RoleUser:
			emitted := false
			for _, b := range msg.Blocks {
				if b.Type == conversation.BlockToolResult {
					result = append(result, wireMessage{
						Role:       "tool",
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
					emitted = true
				}
			}
			if !emitted {
				result = append(result, wireMessage{Role: "user", Content: msg.Text()})
			}
		}
	}

	return result
}

func buildTools(defs []ToolDefinition) []wireTool {
	tools := make([]wireTool, 0, len(defs))
	for _, def := range defs {
		wt := wireTool{Type: "function"}
		wt.Function.Name = def.Name
		wt.Function.Description = def.Description
		wt.Function.Parameters = def.InputSchema
		tools = append(tools, wt)
	}
	return tools
}

// do sends one chat completions request. Non-200 responses become a
// ProviderError carrying the HTTP status and any Retry-After hint.
func (p *OpenAIProvider) do(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	body := chatCompletionRequest{
		Model:     model,
		Messages:  buildMessages(req),
		Tools:     buildTools(req.Tools),
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeErrorResponse(resp)
	}
	return resp, nil
}

// decodeErrorResponse turns a non-200 response into a ProviderError.
func decodeErrorResponse(resp *http.Response) *ProviderError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))

	pe := &ProviderError{
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("API returned status %d", resp.StatusCode),
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		pe.Message = envelope.Error.Message
		pe.Type = envelope.Error.Type
		pe.Code = envelope.Error.Code
	}

	if hint := resp.Header.Get("Retry-After"); hint != "" {
		if secs, err := strconv.ParseFloat(hint, 64); err == nil && secs > 0 {
			pe.RetryAfterMS = int(secs * 1000)
		}
	}

	return pe
}

// Stream sends a request and returns streaming events. The returned
// channel is closed after a Done or Error event.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 64)
	go p.handleStream(resp, events)
	return events, nil
}

// handleStream drives the SSE decoder over the response body. The
// ssestream decoder handles event framing; streamDecoder owns delta
// accumulation and block assembly.
func (p *OpenAIProvider) handleStream(resp *http.Response, events chan<- StreamEvent) {
	defer close(events)

	sse := ssestream.NewDecoder(resp)
	defer sse.Close()

	dec := newStreamDecoder(func(ev StreamEvent) { events <- ev })

	finished := false
	for sse.Next() {
		data := sse.Event().Data
		if string(bytes.TrimSpace(data)) == "[DONE]" {
			finished = true
			break
		}
		if dec.Feed(data) {
			finished = true
			break
		}
	}

	if err := sse.Err(); err != nil && !finished {
		logging.Errorf("[OpenAI] stream error: %v", err)
		events <- StreamEvent{Type: EventTypeError, Error: fmt.Errorf("stream failed: %w", err)}
		return
	}

	events <- StreamEvent{Type: EventTypeDone, Blocks: dec.Finish()}
}

// Complete sends a non-streaming request and returns the content blocks
// of the first choice. The summarizer uses this path.
func (p *OpenAIProvider) Complete(ctx context.Context, req *ChatRequest) ([]conversation.ContentBlock, error) {
	resp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response (%d bytes): %w", len(raw), err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Message: "API returned no choices"}
	}

	var blocks []conversation.ContentBlock
	msg := parsed.Choices[0].Message
	if msg.Content != "" {
		blocks = append(blocks, conversation.TextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input, ok := parseArguments(tc.Function.Arguments)
		if !ok {
			logging.Warnf("[OpenAI] dropping tool call %s (%s): unparseable arguments", tc.ID, tc.Function.Name)
			continue
		}
		blocks = append(blocks, conversation.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	return blocks, nil
}
