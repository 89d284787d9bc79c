// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for the chat ledger.
//
// Endpoints:
//   - POST   /chats                - Create a chat session
//   - POST   /chats/{id}/messages  - Post a user message, receive the assistant reply
//   - GET    /chats/{id}           - Session with full ordered history
//   - GET    /chats/{id}/tokens    - Session id / created-at / total-cost summary
//   - DELETE /chats/{id}           - Delete a session and its messages
//   - GET    /health               - Health check
//   - GET    /stats                - Usage statistics
//
// Each route maps 1:1 onto a store or orchestrator operation. Missing
// sessions surface as 404; an upstream provider rejection as 502; a
// transport failure reaching the provider as 503; a persistence failure
// as 500.
package server
