// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation assembles prompt payloads and orchestrates turns.
//
// A turn is the unit of work for one incoming user message: load the
// session and its history, replay it to the completion provider with the
// new user content appended, price the reported token usage, and commit
// the user/assistant message pair plus the cost increment as one unit.
//
// Turns against the same session are serialized with a per-session lock so
// two concurrent posts cannot interleave their history reads and commits.
// Turns against different sessions proceed independently.
//
// A failed completion call records nothing: no messages, no cost.
package conversation
