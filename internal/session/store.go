package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists chat sessions and their messages in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    updated_at TIMESTAMP NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, sequence);
`

// Open opens (creating if needed) the session database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID           string
	Provider     string
	Model        string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// StoredMessage is one persisted conversation message.
type StoredMessage struct {
	Role      string
	Content   string
	Sequence  int
	CreatedAt time.Time
}

// CreateSession records a new session. Title is typically the first prompt,
// truncated.
func (s *Store) CreateSession(id, provider, model, title string) error {
	if len(title) > 120 {
		title = title[:117] + "..."
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, provider, model, title) VALUES (?, ?, ?, ?)`,
		id, provider, model, title,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendMessage appends one message to a session, assigning the next
// sequence number.
func (s *Store) AppendMessage(sessionID, role, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = ?`,
		sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (session_id, role, content, sequence) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, next,
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = ?`,
		sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

// RecordUsage accumulates token and tool-call counters for a session.
func (s *Store) RecordUsage(sessionID string, toolCalls, inputTokens, outputTokens int) error {
	_, err := s.db.Exec(
		`UPDATE sessions
		 SET tool_calls = tool_calls + ?,
		     input_tokens = input_tokens + ?,
		     output_tokens = output_tokens + ?,
		     updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		 WHERE id = ?`,
		toolCalls, inputTokens, outputTokens, sessionID,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListSessions returns the most recently updated sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, provider, model, COALESCE(title, ''), created_at, updated_at,
		        tool_calls, input_tokens, output_tokens
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.Provider, &info.Model, &info.Title,
			&info.CreatedAt, &info.UpdatedAt,
			&info.ToolCalls, &info.InputTokens, &info.OutputTokens); err != nil {
			return nil, err
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Messages returns a session's messages in sequence order.
func (s *Store) Messages(sessionID string) ([]StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT role, content, sequence, created_at
		 FROM messages WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Sequence, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
