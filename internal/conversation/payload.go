// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation assembles prompt payloads and orchestrates turns.
package conversation

import (
	"github.com/chatledger/chatledger/internal/ledger"
	"github.com/chatledger/chatledger/internal/mistral"
)

// BuildPayload maps stored history, in order, to provider messages and
// appends the new user content as the final entry. It never mutates
// storage; an empty history yields a single-element payload.
func BuildPayload(history []ledger.Message, newUserContent string) []mistral.ChatMessage {
	payload := make([]mistral.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		payload = append(payload, mistral.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return append(payload, mistral.ChatMessage{
		Role:    ledger.RoleUser,
		Content: newUserContent,
	})
}
