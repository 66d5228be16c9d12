// Package conversation defines the message data model shared by the
// runner, the AI providers, and the session store. A message is either
// plain text or an ordered list of content blocks (text, tool use,
// tool result). Conversation order is load-bearing and never reordered.
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles. The engine only ever appends "user" and "assistant"
// messages; tool results travel inside a user-role message as blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Block types for the ContentBlock tagged union.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is a tagged union over text, tool-use and tool-result
// content. Type selects which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// Text (BlockText)
	Text string `json:"text,omitempty"`

	// Tool use (BlockToolUse)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// Tool result (BlockToolResult)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool-use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// Message is one conversation entry. Content holds plain text for
// simple messages; Blocks holds structured content. A message uses one
// or the other, never both.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantBlocks builds an assistant message from content blocks.
func AssistantBlocks(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ToolResults wraps tool-result blocks in a single user-role message,
// as required between an assistant tool-use turn and the next model call.
func ToolResults(blocks []ContentBlock) Message {
	return Message{Role: RoleUser, Blocks: blocks}
}

// Text returns the textual content of the message: Content for plain
// messages, the concatenation of text blocks otherwise.
func (m *Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool-use blocks of the message in order.
func (m *Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// SerializedLen returns the character length of the message's content:
// plain text length, or the length of the structural serialization for
// block content. Used by the token estimator; adding content never
// decreases the result.
func (m *Message) SerializedLen() int {
	n := len(m.Content)
	for _, b := range m.Blocks {
		switch b.Type {
		case BlockText:
			n += len(b.Text)
		case BlockToolUse:
			n += len(b.ID) + len(b.Name)
			if b.Input != nil {
				if data, err := json.Marshal(b.Input); err == nil {
					n += len(data)
				}
			}
		case BlockToolResult:
			n += len(b.ToolUseID) + len(b.Content)
		}
	}
	return n
}

// ValidateToolCorrelation checks the pairing invariant between an
// assistant tool-use message and the user tool-result message that
// follows it: every tool result must reference a tool use from the
// assistant message, and every tool use must receive exactly one result.
func ValidateToolCorrelation(assistant, results *Message) error {
	if assistant.Role != RoleAssistant {
		return fmt.Errorf("expected assistant message, got %q", assistant.Role)
	}
	wanted := make(map[string]int)
	for _, b := range assistant.Blocks {
		if b.Type == BlockToolUse {
			wanted[b.ID] = 0
		}
	}
	for _, b := range results.Blocks {
		if b.Type != BlockToolResult {
			continue
		}
		count, ok := wanted[b.ToolUseID]
		if !ok {
			return fmt.Errorf("tool result %q has no matching tool use", b.ToolUseID)
		}
		if count > 0 {
			return fmt.Errorf("tool use %q received more than one result", b.ToolUseID)
		}
		wanted[b.ToolUseID] = count + 1
	}
	for id, count := range wanted {
		if count == 0 {
			return fmt.Errorf("tool use %q received no result", id)
		}
	}
	return nil
}
