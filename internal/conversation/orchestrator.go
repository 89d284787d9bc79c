// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation assembles prompt payloads and orchestrates turns.
package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatledger/chatledger/internal/ledger"
	"github.com/chatledger/chatledger/internal/mistral"
	"github.com/chatledger/chatledger/internal/pricing"
)

// Gateway is the completion provider the orchestrator calls. Implemented
// by *mistral.Client; tests substitute fakes.
type Gateway interface {
	Complete(ctx context.Context, model string, messages []mistral.ChatMessage) (*mistral.Completion, error)
}

// Orchestrator runs one turn per incoming user message against a single
// configured model. All collaborators are injected at construction; there
// is no package-level state.
type Orchestrator struct {
	store   *ledger.Store
	gateway Gateway
	pricing pricing.Table
	model   string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator wires the orchestrator and fails fast if the active
// model has no resolvable pricing. An unknown model is a configuration
// error, never a per-request one.
func NewOrchestrator(store *ledger.Store, gateway Gateway, table pricing.Table, model string) (*Orchestrator, error) {
	if model == "" {
		return nil, fmt.Errorf("no model configured")
	}
	if _, err := table.Resolve(model); err != nil {
		return nil, fmt.Errorf("startup pricing check: %w", err)
	}
	return &Orchestrator{
		store:   store,
		gateway: gateway,
		pricing: table,
		model:   model,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Model returns the active model identifier.
func (o *Orchestrator) Model() string {
	return o.model
}

// sessionLock returns the mutex serializing turns for one session.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

// PostMessage runs one turn: replay history plus the new user content to
// the provider, price the reported usage, and commit the message pair with
// its cost increment in one transaction. The assistant message is the
// turn's result.
//
// On any failure before the commit, nothing is recorded. The session lock
// is held for the whole turn, including the provider call, so concurrent
// posts to the same session cannot interleave; no database transaction is
// open while the call is in flight.
func (o *Orchestrator) PostMessage(ctx context.Context, sessionID, content string) (*ledger.Message, error) {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	history, err := o.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	completion, err := o.gateway.Complete(ctx, o.model, BuildPayload(history, content))
	if err != nil {
		return nil, err
	}

	prices, err := o.pricing.Resolve(o.model)
	if err != nil {
		// Unreachable after the constructor check; kept so a future
		// model-swap path cannot silently price at zero.
		return nil, err
	}

	inputCost := pricing.Cost(completion.PromptTokens, prices.Input)
	outputCost := pricing.Cost(completion.CompletionTokens, prices.Output)

	_, assistantMsg, err := o.store.CommitTurn(ctx, sessionID,
		ledger.NewMessage{
			Role:       ledger.RoleUser,
			Content:    content,
			TokensUsed: completion.PromptTokens,
			Cost:       inputCost,
		},
		ledger.NewMessage{
			Role:       ledger.RoleAssistant,
			Content:    completion.AssistantContent,
			TokensUsed: completion.CompletionTokens,
			Cost:       outputCost,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("turn commit failed: %w", err)
	}
	return assistantMsg, nil
}
