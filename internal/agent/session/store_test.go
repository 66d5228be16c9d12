package session

import (
	"path/filepath"
	"testing"

	"github.com/ternlabs/tern/internal/conversation"
)

func openTestStore(t *testing.T, dir, sessionID string) *Store {
	t.Helper()
	s, err := Open(filepath.Join(dir, "sessions.db"), sessionID)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func sampleHistory() []conversation.Message {
	return []conversation.Message{
		conversation.UserText("read the config"),
		conversation.AssistantBlocks([]conversation.ContentBlock{
			conversation.TextBlock("checking"),
			conversation.ToolUseBlock("call_1", "read_file", map[string]any{"path": "config.yaml"}),
		}),
		conversation.ToolResults([]conversation.ContentBlock{
			conversation.ToolResultBlock("call_1", "model: gpt-4o"),
		}),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "sess-1")
	defer s.Close()

	s.Checkpoint(sampleHistory())
	if err := s.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}
	if loaded[0].Text() != "read the config" {
		t.Errorf("unexpected first message: %+v", loaded[0])
	}
	uses := loaded[1].ToolUses()
	if len(uses) != 1 || uses[0].ID != "call_1" || uses[0].Input["path"] != "config.yaml" {
		t.Errorf("tool-use block did not survive: %+v", loaded[1].Blocks)
	}
	if loaded[2].Blocks[0].ToolUseID != "call_1" {
		t.Errorf("tool-result correlation did not survive: %+v", loaded[2].Blocks)
	}
}

func TestStoreResumeAcrossOpens(t *testing.T) {
	dir := t.TempDir()

	s := openTestStore(t, dir, "sess-2")
	s.Checkpoint(sampleHistory())
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened := openTestStore(t, dir, "sess-2")
	defer reopened.Close()

	loaded, err := reopened.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("expected the close to flush the checkpoint, got %d messages", len(loaded))
	}
}

func TestStoreLatestCheckpointWins(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "sess-3")
	defer s.Close()

	s.Checkpoint([]conversation.Message{conversation.UserText("stale")})
	s.Checkpoint([]conversation.Message{conversation.UserText("fresh"), conversation.UserText("pair")})
	if err := s.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Text() != "fresh" {
		t.Errorf("expected the later checkpoint only, got %+v", loaded)
	}
}

func TestStoreSessionsIsolated(t *testing.T) {
	dir := t.TempDir()

	a := openTestStore(t, dir, "sess-a")
	a.Checkpoint([]conversation.Message{conversation.UserText("for a")})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b := openTestStore(t, dir, "sess-b")
	defer b.Close()
	loaded, err := b.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("session b must not see session a's messages: %+v", loaded)
	}
}

func TestStoreGeneratesSessionID(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir, "")
	defer s.Close()
	if s.SessionID() == "" {
		t.Error("expected a generated session id")
	}
}
