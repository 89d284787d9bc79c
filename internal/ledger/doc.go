// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides durable storage for chat sessions and messages.
//
// Sessions own an ordered collection of messages and carry a running total
// cost. The total is maintained by the store itself: a successful turn
// commits its user message, assistant message, and cost increment in a
// single transaction, so readers never observe a session total without the
// messages that produced it.
//
// # Key Types
//
//   - Store: SQLite-backed session and message storage
//   - Session: a conversation with its running total cost
//   - Message: an immutable user or assistant turn
//   - NewMessage: validated creation request for a message
//
// # Usage
//
// Open a store and create a session:
//
//	store, err := ledger.Open(dbPath)
//	sess, err := store.CreateSession(ctx)
//
// Commit a completed turn atomically:
//
//	userMsg, aiMsg, err := store.CommitTurn(ctx, sess.ID, user, assistant)
//
// # Storage
//
// Data lives in a single SQLite database file (pure Go driver, no cgo).
// Monetary values are stored as decimal strings to avoid float drift.
package ledger
