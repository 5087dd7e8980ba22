// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive keeps a local SQLite copy of completed chat exchanges.
//
// The backend owns the authoritative history; the archive exists so past
// exchanges stay searchable offline and survive account-side deletions. Only
// completed exchanges are archived: a send that failed mid-stream writes
// nothing here.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    prompt          TEXT NOT NULL,
    reply           TEXT NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchanges_conversation
    ON exchanges(conversation_id, created_at);

CREATE INDEX IF NOT EXISTS idx_exchanges_created
    ON exchanges(created_at);
`

// =============================================================================
// ARCHIVE
// =============================================================================

// Exchange is one archived prompt/reply pair.
type Exchange struct {
	ID             int64
	ConversationID int64
	Prompt         string
	Reply          string
	CreatedAt      time.Time
}

// Archive is the local transcript store. Safe for concurrent use; the
// connection pool is capped at one because SQLite allows one writer.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Archive, error) {
	if path == "" {
		return nil, errors.New("archive path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Save records a completed exchange.
func (a *Archive) Save(ctx context.Context, conversationID int64, prompt, reply string) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO exchanges (conversation_id, prompt, reply, created_at) VALUES (?, ?, ?, ?)",
		conversationID, prompt, reply, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to archive exchange: %w", err)
	}
	return nil
}

// Recent returns the newest exchanges, most recent first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, conversation_id, prompt, reply, created_at FROM exchanges ORDER BY created_at DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	return scanExchanges(rows)
}

// Search returns exchanges whose prompt or reply contains the term, most
// recent first.
func (a *Archive) Search(ctx context.Context, term string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + term + "%"
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, conversation_id, prompt, reply, created_at FROM exchanges
		 WHERE prompt LIKE ? OR reply LIKE ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search archive: %w", err)
	}
	defer rows.Close()

	return scanExchanges(rows)
}

// Conversation returns a conversation's archived exchanges in chronological
// order.
func (a *Archive) Conversation(ctx context.Context, conversationID int64) ([]Exchange, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, conversation_id, prompt, reply, created_at FROM exchanges
		 WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	defer rows.Close()

	return scanExchanges(rows)
}

// Count returns the number of archived exchanges.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exchanges").Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func scanExchanges(rows *sql.Rows) ([]Exchange, error) {
	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var created int64
		if err := rows.Scan(&ex.ID, &ex.ConversationID, &ex.Prompt, &ex.Reply, &created); err != nil {
			return nil, err
		}
		ex.CreatedAt = time.Unix(created, 0)
		out = append(out, ex)
	}
	return out, rows.Err()
}
