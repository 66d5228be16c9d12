package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternlabs/tern/internal/conversation"
)

func sseHandler(t *testing.T, payloads []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
		}
	}
}

func drain(t *testing.T, events <-chan StreamEvent) (string, []conversation.ContentBlock) {
	t.Helper()
	var text string
	for ev := range events {
		switch ev.Type {
		case EventTypeText:
			text += ev.Text
		case EventTypeError:
			t.Fatalf("unexpected stream error: %v", ev.Error)
		case EventTypeDone:
			return text, ev.Blocks
		}
	}
	t.Fatal("stream closed without a done event")
	return "", nil
}

func TestStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"path\":\"a\"}"}}]}}]}`,
		`[DONE]`,
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key", "test-model")
	events, err := p.Stream(context.Background(), &ChatRequest{
		Messages: []conversation.Message{conversation.UserText("hi")},
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	text, blocks := drain(t, events)
	if text != "Hello" {
		t.Errorf("unexpected streamed text: %q", text)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected text + tool-use blocks, got %+v", blocks)
	}
	if blocks[0].Type != conversation.BlockText || blocks[0].Text != "Hello" {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].Type != conversation.BlockToolUse || blocks[1].Name != "read_file" || blocks[1].Input["path"] != "a" {
		t.Errorf("unexpected tool block: %+v", blocks[1])
	}
}

func TestStreamFinishReasonWithoutSentinel(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"done"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key", "m")
	events, err := p.Stream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	text, blocks := drain(t, events)
	if text != "done" || len(blocks) != 1 {
		t.Errorf("unexpected result: %q / %+v", text, blocks)
	}
}

func TestStreamErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key", "m")
	_, err := p.Stream(context.Background(), &ChatRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if pe.Status != 429 || pe.Message != "slow down" || pe.RetryAfterMS != 2000 {
		t.Errorf("unexpected error fields: %+v", pe)
	}
	if !IsRateLimit(pe) {
		t.Error("expected a rate-limit classification")
	}
}

func TestCompleteParsesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unreadable request body: %v", err)
		}
		if req.Stream {
			t.Error("Complete must not request streaming")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"summary text","tool_calls":[{"id":"c1","function":{"name":"echo","arguments":"{\"x\":1}"}}]}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "test-key", "m")
	blocks, err := p.Complete(context.Background(), &ChatRequest{
		Messages: []conversation.Message{conversation.UserText("summarize")},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Text != "summary text" || blocks[1].Name != "echo" {
		t.Errorf("unexpected blocks: %+v", blocks)
	}
}

func TestBuildMessagesWireMapping(t *testing.T) {
	req := &ChatRequest{
		System: "sys",
		Messages: []conversation.Message{
			conversation.UserText("question"),
			conversation.AssistantBlocks([]conversation.ContentBlock{
				conversation.TextBlock("calling"),
				conversation.ToolUseBlock("c1", "read_file", map[string]any{"path": "a"}),
			}),
			conversation.ToolResults([]conversation.ContentBlock{
				conversation.ToolResultBlock("c1", "contents"),
			}),
		},
	}
	wire := buildMessages(req)

	if len(wire) != 4 {
		t.Fatalf("expected system+user+assistant+tool, got %d: %+v", len(wire), wire)
	}
	if wire[0].Role != "system" || wire[0].Content != "sys" {
		t.Errorf("unexpected system message: %+v", wire[0])
	}
	if wire[1].Role != "user" || wire[1].Content != "question" {
		t.Errorf("unexpected user message: %+v", wire[1])
	}
	asst := wire[2]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "c1" {
		t.Errorf("unexpected assistant message: %+v", asst)
	}
	if asst.ToolCalls[0].Function.Arguments != `{"path":"a"}` {
		t.Errorf("unexpected marshaled arguments: %q", asst.ToolCalls[0].Function.Arguments)
	}
	tool := wire[3]
	if tool.Role != "tool" || tool.ToolCallID != "c1" || tool.Content != "contents" {
		t.Errorf("tool results must map to tool-role wire messages: %+v", tool)
	}
}
