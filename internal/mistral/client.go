// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mistral provides the HTTP client for Mistral chat completions.
package mistral

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the Mistral API.
const (
	// DefaultBaseURL is the base URL for the Mistral API.
	DefaultBaseURL = "https://api.mistral.ai/v1"

	// DefaultTimeout is the default timeout for API requests. Expiry
	// surfaces as a TransportError.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// ErrNotConfigured indicates the API key is not set.
var ErrNotConfigured = errors.New("Mistral API key not configured")

// sharedTransport pools connections across all clients.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// =============================================================================
// ERROR CLASSES
// =============================================================================

// APIError represents an explicit error returned by the Mistral API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Mistral error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("Mistral error (HTTP %d): %s", e.Status, e.Message)
}

// TransportError represents a failure to reach the provider or to make
// sense of what it sent back: network errors, timeouts, oversized or
// malformed bodies.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("Mistral transport: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is an explicit upstream rejection.
func IsProviderError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsTransportError reports whether err is a network/validation failure.
func IsTransportError(err error) bool {
	var trErr *TransportError
	return errors.As(err, &trErr)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message content
}

// chatRequest is the request body for the chat completions endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// chatResponse is the raw response from the chat completions endpoint.
// Fields are validated before anything is trusted.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// apiErrorResponse represents an error response body from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// Some endpoints return a bare message instead of an error object.
	Message string `json:"message"`
}

// Completion is the validated result of a successful completion call.
type Completion struct {
	AssistantContent string
	PromptTokens     int
	CompletionTokens int
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the Mistral chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Mistral client with the given API key.
//
// If the API key is empty the client is still created, but Complete will
// fail with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: sharedTransport,
		},
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithTimeout sets the request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short hash of the API key for logging.
// The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// Complete performs a single chat completion request.
//
// The call suspends until the provider responds or the timeout expires.
// No retries are attempted; the error class tells the caller what happened.
func (c *Client) Complete(ctx context.Context, model string, messages []ChatMessage) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	return parseCompletion(body)
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// parseErrorResponse converts a non-200 response into an APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = apiErr.Message
		}
		if msg != "" {
			return &APIError{Code: apiErr.Error.Code, Message: msg, Status: statusCode}
		}
	}
	return &APIError{Message: strings.TrimSpace(string(body)), Status: statusCode}
}

// parseCompletion validates a 200 response. A body that does not carry a
// choice and usage block is treated as a transport failure, not trusted.
func parseCompletion(body []byte) (*Completion, error) {
	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &TransportError{Op: "parse response", Err: err}
	}

	if len(chatResp.Choices) == 0 {
		return nil, &TransportError{Op: "validate response", Err: errors.New("no choices in response")}
	}
	if chatResp.Usage == nil {
		return nil, &TransportError{Op: "validate response", Err: errors.New("no usage in response")}
	}
	if chatResp.Usage.PromptTokens < 0 || chatResp.Usage.CompletionTokens < 0 {
		return nil, &TransportError{Op: "validate response", Err: errors.New("negative token counts in usage")}
	}

	return &Completion{
		AssistantContent: chatResp.Choices[0].Message.Content,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}
