// Package history persists per-epic message logs in SQLite. It is a
// collaborator of the streaming core, not part of it: the stdio bridge
// appends turns here and loads recent history for requests that omit it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"epicdesk/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_root TEXT NOT NULL,
	epic_id        TEXT NOT NULL,
	role           TEXT NOT NULL,
	content        TEXT NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(workspace_root, epic_id, id);
`

// Store is a SQLite-backed message log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the message database at dbPath and ensures the
// schema exists.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	// WAL for concurrent readers; SQLite only supports one writer.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append records one message for a conversation.
func (s *Store) Append(ctx context.Context, workspaceRoot, epicID string, msg chat.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (workspace_root, epic_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		workspaceRoot, epicID, string(msg.Role), msg.Content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for a conversation, oldest first,
// ready to pass as history to the streamer. limit <= 0 returns all.
func (s *Store) Recent(ctx context.Context, workspaceRoot, epicID string, limit int) ([]chat.Message, error) {
	query := `SELECT role, content FROM (
		SELECT id, role, content FROM messages
		WHERE workspace_root = ? AND epic_id = ?
		ORDER BY id DESC`
	args := []any{workspaceRoot, epicID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += `) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, chat.Message{Role: chat.MessageRole(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
