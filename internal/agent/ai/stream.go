package ai

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// streamChunk is one decoded SSE payload from the chat completions
// stream. Only the fields the engine consumes are declared.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string             `json:"content"`
			ToolCalls []toolCallFragment `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallFragment is a partial tool call keyed by stream slot index.
// id and name arrive on the first fragment for a slot; arguments arrive
// as string fragments to be concatenated.
type toolCallFragment struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAccumulator buffers one stream slot until its arguments form
// parseable JSON. Created lazily on first reference to a slot index,
// destroyed when the call is emitted as a tool-use block.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// streamDecoder folds an incoming SSE payload sequence into a final
// ordered content-block list, emitting text deltas and completed tool
// calls along the way. It is a sequential consumer: one goroutine feeds
// it one ordered stream.
type streamDecoder struct {
	slots     map[int]*toolCallAccumulator
	blocks    []conversation.ContentBlock
	text      strings.Builder
	textIndex int // position of the running text block in blocks; -1 until first delta
	emit      func(StreamEvent)
}

func newStreamDecoder(emit func(StreamEvent)) *streamDecoder {
	return &streamDecoder{
		slots:     make(map[int]*toolCallAccumulator),
		textIndex: -1,
		emit:      emit,
	}
}

// Feed consumes one SSE data payload. Malformed payloads are skipped.
// Returns true when the payload carried a finish signal.
func (d *streamDecoder) Feed(data []byte) bool {
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		logging.Warnf("[Stream] skipping malformed event (%d bytes): %v", len(data), err)
		return false
	}
	if len(chunk.Choices) == 0 {
		return false
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		d.appendText(choice.Delta.Content)
	}
	for _, frag := range choice.Delta.ToolCalls {
		d.applyFragment(frag)
		d.tryEmit(frag.Index)
	}

	return choice.FinishReason != ""
}

// appendText accumulates a text delta into the single running text
// block. The block takes its position in the final list from where text
// first appeared; later deltas only update it by index.
func (d *streamDecoder) appendText(delta string) {
	if d.textIndex < 0 {
		d.textIndex = len(d.blocks)
		d.blocks = append(d.blocks, conversation.TextBlock(""))
	}
	d.text.WriteString(delta)
	d.blocks[d.textIndex].Text = d.text.String()
	d.emit(StreamEvent{Type: EventTypeText, Text: delta})
}

// applyFragment folds one tool-call fragment into its slot accumulator.
// id and name are set on first occurrence and overwritten by later
// non-empty values; arguments are append-only.
func (d *streamDecoder) applyFragment(frag toolCallFragment) {
	slot, ok := d.slots[frag.Index]
	if !ok {
		slot = &toolCallAccumulator{}
		d.slots[frag.Index] = slot
	}
	if frag.ID != "" {
		slot.id = frag.ID
	}
	if frag.Function.Name != "" {
		slot.name = frag.Function.Name
	}
	slot.args.WriteString(frag.Function.Arguments)
}

// tryEmit attempts to finalize a slot as a tool-use block. Emission
// requires id and name and a parseable arguments buffer; an empty
// buffer counts as the empty object. On failure emission is deferred
// until the next fragment (or the finish flush). On success the slot is
// destroyed so later fragments for a reused index start clean.
func (d *streamDecoder) tryEmit(index int) {
	slot, ok := d.slots[index]
	if !ok || slot.id == "" || slot.name == "" {
		return
	}
	input, ok := parseArguments(slot.args.String())
	if !ok {
		return
	}
	block := conversation.ToolUseBlock(slot.id, slot.name, input)
	d.blocks = append(d.blocks, block)
	delete(d.slots, index)
	d.emit(StreamEvent{Type: EventTypeToolCall, Block: &block})
}

// Finish flushes slots that still have id+name but unflushed arguments
// and returns the final ordered block list. Slots whose argument buffer
// never became valid JSON are dropped; the model is treated as not
// having requested that call, but the condition is logged since it can
// mask a model- or transport-side bug.
func (d *streamDecoder) Finish() []conversation.ContentBlock {
	indices := make([]int, 0, len(d.slots))
	for idx := range d.slots {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		slot := d.slots[idx]
		if slot.id == "" || slot.name == "" {
			logging.Warnf("[Stream] dropping incomplete tool-call slot %d (id=%q name=%q, %d buffered arg bytes)",
				idx, slot.id, slot.name, slot.args.Len())
			delete(d.slots, idx)
			continue
		}
		input, ok := parseArguments(slot.args.String())
		if !ok {
			logging.Warnf("[Stream] dropping tool-call slot %d (%s): arguments never parsed (%d bytes)",
				idx, slot.name, slot.args.Len())
			delete(d.slots, idx)
			continue
		}
		block := conversation.ToolUseBlock(slot.id, slot.name, input)
		d.blocks = append(d.blocks, block)
		delete(d.slots, idx)
		d.emit(StreamEvent{Type: EventTypeToolCall, Block: &block})
	}

	if d.textIndex >= 0 {
		d.blocks[d.textIndex].Text = d.text.String()
	}
	return d.blocks
}

// parseArguments parses an accumulated arguments buffer. An empty
// buffer is the empty object; anything else must be a JSON object.
func parseArguments(raw string) (map[string]any, bool) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, true
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, false
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, true
}
