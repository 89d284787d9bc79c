// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for the chat ledger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chatledger/chatledger/internal/conversation"
	"github.com/chatledger/chatledger/internal/ledger"
	"github.com/chatledger/chatledger/internal/mistral"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8000

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxContentLength is the maximum length of one user message.
	MaxContentLength = 100000

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks process-wide usage counters.
type Stats struct {
	mu            sync.Mutex
	totalRequests int64
	totalTurns    int64
	failedTurns   int64
	totalTokens   int64
	totalCost     decimal.Decimal
	startTime     time.Time
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordRequest counts one handled API request.
func (s *Stats) RecordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

// RecordTurn records one completed turn's token and cost totals.
func (s *Stats) RecordTurn(tokens int, cost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTurns++
	s.totalTokens += int64(tokens)
	s.totalCost = s.totalCost.Add(cost)
}

// RecordFailedTurn counts a turn that ended in an error.
func (s *Stats) RecordFailedTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedTurns++
}

// StatsResponse is the JSON shape of GET /stats.
type StatsResponse struct {
	TotalRequests int64   `json:"total_requests"`
	TotalTurns    int64   `json:"total_turns"`
	FailedTurns   int64   `json:"failed_turns"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	UptimeSecs    float64 `json:"uptime_secs"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsResponse{
		TotalRequests: s.totalRequests,
		TotalTurns:    s.totalTurns,
		FailedTurns:   s.failedTurns,
		TotalTokens:   s.totalTokens,
		TotalCost:     s.totalCost.InexactFloat64(),
		UptimeSecs:    time.Since(s.startTime).Seconds(),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the chat ledger.
type Server struct {
	port   int
	router *http.ServeMux
	server *http.Server

	store   *ledger.Store
	orch    *conversation.Orchestrator
	stats   *Stats
	limiter *RateLimiter
}

// NewServer creates a Server on the given port (0 selects the default).
func NewServer(port int, store *ledger.Store, orch *conversation.Orchestrator) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:    port,
		router:  http.NewServeMux(),
		store:   store,
		orch:    orch,
		stats:   NewStats(),
		limiter: DefaultRateLimiter(),
	}
	s.setupRoutes()
	return s
}

// WithRateLimiter sets a custom rate limiter.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.limiter = rl
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the full middleware-wrapped handler. Exposed so tests
// can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// Start runs the server until it fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s model=%s", addr, Version, s.orch.Model())
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /chats", s.handleCreateChat)
	s.router.HandleFunc("POST /chats/{id}/messages", s.handleSendMessage)
	s.router.HandleFunc("GET /chats/{id}", s.handleGetChat)
	s.router.HandleFunc("GET /chats/{id}/tokens", s.handleGetTokens)
	s.router.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// ============================================================================
// RESPONSE TYPES
// ============================================================================

// MessageResponse is the JSON shape of a stored message. Costs cross the
// boundary as plain numbers; internally they stay decimal.
type MessageResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokensUsed int       `json:"tokens_used"`
	Cost       float64   `json:"cost"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionResponse is the JSON shape of a session with its history.
type SessionResponse struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	TotalCost float64           `json:"total_cost"`
	Messages  []MessageResponse `json:"messages"`
}

// SessionSummary is the JSON shape of GET /chats/{id}/tokens.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	TotalCost float64   `json:"total_cost"`
}

// sendMessageRequest is the body of POST /chats/{id}/messages.
type sendMessageRequest struct {
	Content string `json:"content"`
}

func toMessageResponse(m ledger.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		Role:       m.Role,
		Content:    m.Content,
		TokensUsed: m.TokensUsed,
		Cost:       m.Cost.InexactFloat64(),
		Timestamp:  m.Timestamp,
	}
}

func toSessionResponse(sess *ledger.Session, msgs []ledger.Message) SessionResponse {
	resp := SessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		TotalCost: sess.TotalCost.InexactFloat64(),
		Messages:  make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return resp
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleCreateChat handles POST /chats.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	sess, err := s.store.CreateSession(r.Context())
	if err != nil {
		log.Printf("CREATE_CHAT_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create chat session")
		return
	}

	log.Printf("CHAT_CREATED | session=%s", sess.ID)
	s.writeJSON(w, http.StatusCreated, toSessionResponse(sess, nil))
}

// handleSendMessage handles POST /chats/{id}/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	sessionID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "Message content must not be empty")
		return
	}
	if len(req.Content) > MaxContentLength {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Message exceeds maximum length of %d", MaxContentLength))
		return
	}

	start := time.Now()
	aiMsg, err := s.orch.PostMessage(r.Context(), sessionID, req.Content)
	if err != nil {
		s.stats.RecordFailedTurn()
		s.writeTurnError(w, sessionID, err)
		return
	}

	s.stats.RecordTurn(aiMsg.TokensUsed, aiMsg.Cost)
	log.Printf("TURN_COMPLETE | session=%s tokens=%d latency=%dms",
		sessionID, aiMsg.TokensUsed, time.Since(start).Milliseconds())

	s.writeJSON(w, http.StatusOK, toMessageResponse(*aiMsg))
}

// writeTurnError maps orchestrator failures onto response codes: missing
// session 404, upstream rejection 502, unreachable provider 503,
// persistence failure 500.
func (s *Server) writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "Chat session not found")
	case mistral.IsProviderError(err):
		log.Printf("TURN_PROVIDER_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusBadGateway, "Completion provider rejected the request")
	case mistral.IsTransportError(err), errors.Is(err, mistral.ErrNotConfigured):
		log.Printf("TURN_TRANSPORT_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusServiceUnavailable, "Completion provider unavailable")
	default:
		log.Printf("TURN_STORE_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to record turn")
	}
}

// handleGetChat handles GET /chats/{id}.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	sessionID := r.PathValue("id")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, ledger.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "Chat session not found")
		return
	}
	if err != nil {
		log.Printf("GET_CHAT_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load chat session")
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		log.Printf("GET_CHAT_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load chat history")
		return
	}

	s.writeJSON(w, http.StatusOK, toSessionResponse(sess, msgs))
}

// handleGetTokens handles GET /chats/{id}/tokens.
func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	sessionID := r.PathValue("id")

	sess, err := s.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, ledger.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "Chat session not found")
		return
	}
	if err != nil {
		log.Printf("GET_TOKENS_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load chat session")
		return
	}

	s.writeJSON(w, http.StatusOK, SessionSummary{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		TotalCost: sess.TotalCost.InexactFloat64(),
	})
}

// handleDeleteChat handles DELETE /chats/{id}.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	sessionID := r.PathValue("id")

	deleted, err := s.store.DeleteSession(r.Context(), sessionID)
	if err != nil {
		log.Printf("DELETE_CHAT_ERROR | session=%s error=%v", sessionID, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete chat session")
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "Chat session not found")
		return
	}

	log.Printf("CHAT_DELETED | session=%s", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
		"model":   s.orch.Model(),
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
