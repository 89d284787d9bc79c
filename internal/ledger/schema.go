// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides durable storage for chat sessions and messages.
package ledger

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the session/message ledger.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Sessions table: one row per conversation.
-- total_cost is a decimal string; it is only ever increased, and only
-- inside the same transaction that inserts the messages it accounts for.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,  -- Unix nanoseconds
    total_cost TEXT NOT NULL DEFAULT '0'
);

-- Messages table: immutable after insert.
-- seq is a per-session insertion counter; it tie-breaks messages whose
-- timestamps collide at clock resolution so replay order is stable.
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,           -- "user" or "assistant"
    content TEXT NOT NULL,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    cost TEXT NOT NULL DEFAULT '0',
    timestamp INTEGER NOT NULL,   -- Unix nanoseconds
    seq INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp, seq);
`
