// Package storage provides SQLite storage.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema and migration details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/morph/llm"
)

// SqliteStorage implements Store using SQLite.
// Several processes of one swarm may share the same database file; the
// busy timeout serialises their writers.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Each pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
		ON messages(session_id, message_index);

		CREATE TABLE IF NOT EXISTS state (
			state_key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SqliteStorage) ensureSession(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id) VALUES (?)",
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// Save replaces the conversation history for key.
func (s *SqliteStorage) Save(ctx context.Context, key string, history []llm.ChatMessage) error {
	if err := s.ensureSession(ctx, key); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", key)
	if err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (session_id, message_index, role, content) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range history {
		_, err = stmt.ExecContext(ctx, key, i, msg.Role, msg.Content)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?",
		key)
	if err != nil {
		return fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Load loads conversation history for key.
// Returns empty slice if nothing is stored.
func (s *SqliteStorage) Load(ctx context.Context, key string) ([]llm.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE session_id = ? ORDER BY message_index ASC",
		key)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []llm.ChatMessage{} // Start with empty slice, not nil
	for rows.Next() {
		var msg llm.ChatMessage
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// Delete deletes conversation history for key.
func (s *SqliteStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE session_id = ?",
		key)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions lists all keys with stored history, most recent first.
func (s *SqliteStorage) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM sessions ORDER BY updated_at DESC, session_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// Exists checks if history is stored for key.
func (s *SqliteStorage) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE session_id = ?",
		key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}

	return count > 0, nil
}

// SaveState replaces the structure stored for key.
func (s *SqliteStorage) SaveState(ctx context.Context, key string, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state (state_key, data) VALUES (?, ?)
		ON CONFLICT(state_key) DO UPDATE SET data = excluded.data, updated_at = datetime('now')`,
		key, string(encoded))
	if err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// LoadState loads the structure stored for key, or an empty map.
func (s *SqliteStorage) LoadState(ctx context.Context, key string) (map[string]any, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM state WHERE state_key = ?", key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	data := map[string]any{}
	if err := json.Unmarshal([]byte(encoded), &data); err != nil {
		return nil, fmt.Errorf("invalid state for %q in database: %w", key, err)
	}
	return data, nil
}

// DeleteState removes the structure stored for key.
func (s *SqliteStorage) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM state WHERE state_key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// Verify SqliteStorage implements Store
var _ Store = (*SqliteStorage)(nil)
