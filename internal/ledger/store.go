// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides durable storage for chat sessions and messages.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole is returned for roles outside {user, assistant}.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrNegativeTokens is returned when a message carries a negative token count.
	ErrNegativeTokens = errors.New("negative token count")

	// ErrNegativeCost is returned when a message or cost delta is negative.
	ErrNegativeCost = errors.New("negative cost")
)

// =============================================================================
// TYPES
// =============================================================================

// Message roles recognized by the store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session represents a persisted chat session.
type Session struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// Message represents a persisted message. Messages are immutable after
// creation.
type Message struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	TokensUsed int             `json:"tokens_used"`
	Cost       decimal.Decimal `json:"cost"`
	Timestamp  time.Time       `json:"timestamp"`
	Seq        int64           `json:"seq"`
}

// NewMessage is a creation request for a message. The store assigns the
// id, timestamp, and sequence number on insert. Only the fields listed
// here are recognized; they are validated before anything is persisted.
type NewMessage struct {
	Role       string
	Content    string
	TokensUsed int
	Cost       decimal.Decimal
}

// Validate checks the creation request against the store's constraints.
func (m NewMessage) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	if m.TokensUsed < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTokens, m.TokensUsed)
	}
	if m.Cost.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCost, m.Cost)
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed ledger of sessions and messages.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent turns.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.writeSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) writeSchemaVersion() error {
	_, err := s.db.Exec(
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", SchemaVersion),
	)
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession creates a fresh session with a zero running total.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		TotalCost: decimal.Zero,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, created_at, total_cost) VALUES(?, ?, ?)`,
		sess.ID, sess.CreatedAt.UnixNano(), sess.TotalCost.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by id.
// Returns ErrSessionNotFound if the session does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, total_cost FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// DeleteSession removes a session and all of its messages in one
// transaction. Returns false if the session did not exist.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Children first so the session row never outlives its foreign keys.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return n > 0, nil
}

// AddSessionCost adds a non-negative delta to the session's running total.
// Most callers should use CommitTurn instead, which couples the increment
// with the messages that justify it.
func (s *Store) AddSessionCost(ctx context.Context, id string, delta decimal.Decimal) error {
	if delta.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCost, delta)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addCostTx(ctx, tx, id, delta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cost update: %w", err)
	}
	return nil
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// ListMessages returns the session's messages in conversation order:
// ascending by timestamp, insertion sequence breaking ties.
// Returns ErrSessionNotFound if the session does not exist.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tokens_used, cost, timestamp, seq
		 FROM messages WHERE session_id = ?
		 ORDER BY timestamp ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage inserts a single message, assigning its id, timestamp, and
// sequence number. The session total is NOT touched; turn commits should go
// through CommitTurn so the total and its messages land together.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, nm NewMessage) (*Message, error) {
	if err := nm.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	msg, err := insertMessageTx(ctx, tx, sessionID, nm)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// CommitTurn records one completed turn: the user message, the assistant
// message, and the cost increment, all in a single transaction. Either
// everything lands or nothing does, so the invariant
// total_cost == sum(message costs) holds at every commit boundary.
func (s *Store) CommitTurn(ctx context.Context, sessionID string, user, assistant NewMessage) (*Message, *Message, error) {
	if err := user.Validate(); err != nil {
		return nil, nil, err
	}
	if err := assistant.Validate(); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	userMsg, err := insertMessageTx(ctx, tx, sessionID, user)
	if err != nil {
		return nil, nil, err
	}
	assistantMsg, err := insertMessageTx(ctx, tx, sessionID, assistant)
	if err != nil {
		return nil, nil, err
	}

	if err := addCostTx(ctx, tx, sessionID, user.Cost.Add(assistant.Cost)); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// insertMessageTx inserts a message inside an open transaction.
func insertMessageTx(ctx context.Context, tx *sql.Tx, sessionID string, nm NewMessage) (*Message, error) {
	// Verify the owning session inside the transaction.
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}

	msg := &Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       nm.Role,
		Content:    nm.Content,
		TokensUsed: nm.TokensUsed,
		Cost:       nm.Cost,
		Timestamp:  time.Now(),
		Seq:        seq,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages(id, session_id, role, content, tokens_used, cost, timestamp, seq)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.TokensUsed,
		msg.Cost.String(), msg.Timestamp.UnixNano(), msg.Seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// addCostTx adds a non-negative delta to the session total inside an open
// transaction. The decimal arithmetic happens in Go; the column is a
// decimal string, never a float.
func addCostTx(ctx context.Context, tx *sql.Tx, sessionID string, delta decimal.Decimal) error {
	if delta.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCost, delta)
	}

	var raw string
	err := tx.QueryRowContext(ctx, `SELECT total_cost FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read session total: %w", err)
	}

	total, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("corrupt session total %q: %w", raw, err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET total_cost = ? WHERE id = ?`,
		total.Add(delta).String(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session total: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess    Session
		created int64
		raw     string
	)
	err := row.Scan(&sess.ID, &created, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	sess.CreatedAt = time.Unix(0, created)
	sess.TotalCost, err = decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt session total %q: %w", raw, err)
	}
	return &sess, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg Message
		ts  int64
		raw string
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
		&msg.TokensUsed, &raw, &ts, &msg.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Timestamp = time.Unix(0, ts)
	msg.Cost, err = decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt message cost %q: %w", raw, err)
	}
	return &msg, nil
}
