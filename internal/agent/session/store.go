// Package session persists conversation history in a local SQLite
// database so a conversation survives process restarts.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// checkpointDebounce coalesces rapid Checkpoint calls into one write.
const checkpointDebounce = 500 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Store persists one session's messages. Checkpoint is debounced;
// Flush and Close force a write.
type Store struct {
	db        *sql.DB
	sessionID string

	mu      sync.Mutex
	pending []conversation.Message
	timer   *time.Timer
}

// Open opens or creates the database at path. An empty sessionID
// starts a fresh session under a new identifier.
func Open(path, sessionID string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver serializes access; a single connection avoids
	// SQLITE_BUSY under concurrent checkpoints.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Store{db: db, sessionID: sessionID}, nil
}

// SessionID returns the identifier of the session this store persists.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Load returns the session's messages in conversation order.
func (s *Store) Load() ([]conversation.Message, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM messages WHERE session_id = ? ORDER BY seq", s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	defer rows.Close()

	var messages []conversation.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var msg conversation.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Checkpoint schedules the given history for persistence. Calls within
// the debounce window replace the pending snapshot and restart the
// timer; only the latest history is written.
func (s *Store) Checkpoint(messages []conversation.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = make([]conversation.Message, len(messages))
	copy(s.pending, messages)

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(checkpointDebounce, func() {
		if err := s.Flush(); err != nil {
			logging.Errorf("[Session] checkpoint failed: %v", err)
		}
	})
}

// Flush writes any pending checkpoint immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	return s.write(pending)
}

// write replaces the session's stored messages atomically.
func (s *Store) write(messages []conversation.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", s.sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	for i, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)",
			s.sessionID, i, string(payload)); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Close flushes pending state and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		logging.Errorf("[Session] flush on close failed: %v", err)
	}
	return s.db.Close()
}
