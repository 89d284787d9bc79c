// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mistral provides the HTTP client for Mistral chat completions.
package mistral

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key").WithBaseURL(srv.URL)
}

func TestComplete_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "mistral-small-latest" {
			t.Errorf("Model = %q, want mistral-small-latest", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "Hi" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "mistral-small-latest",
			"choices": [{"message": {"role": "assistant", "content": "Hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`))
	})

	resp, err := client.Complete(context.Background(), "mistral-small-latest",
		[]ChatMessage{{Role: "user", Content: "Hi"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.AssistantContent != "Hello" {
		t.Errorf("AssistantContent = %q, want %q", resp.AssistantContent, "Hello")
	}
	if resp.PromptTokens != 5 || resp.CompletionTokens != 3 {
		t.Errorf("Tokens = %d/%d, want 5/3", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestComplete_NotConfigured(t *testing.T) {
	client := NewClient("")

	_, err := client.Complete(context.Background(), "m", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestComplete_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": "invalid_api_key", "message": "Unauthorized"}}`))
	})

	_, err := client.Complete(context.Background(), "m",
		[]ChatMessage{{Role: "user", Content: "Hi"}})
	if err == nil {
		t.Fatal("Expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
	if apiErr.Code != "invalid_api_key" {
		t.Errorf("Code = %q, want invalid_api_key", apiErr.Code)
	}
	if !IsProviderError(err) {
		t.Error("IsProviderError = false, want true")
	}
	if IsTransportError(err) {
		t.Error("IsTransportError = true, want false")
	}
}

func TestComplete_APIErrorUnparseableBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	})

	_, err := client.Complete(context.Background(), "m",
		[]ChatMessage{{Role: "user", Content: "Hi"}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
	if apiErr.Message != "upstream exploded" {
		t.Errorf("Message = %q, want raw body", apiErr.Message)
	}
}

func TestComplete_MalformedSuccessBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `garbage`},
		{"no choices", `{"id": "x", "choices": [], "usage": {"prompt_tokens": 1, "completion_tokens": 1}}`},
		{"no usage", `{"id": "x", "choices": [{"message": {"role": "assistant", "content": "hi"}}]}`},
		{"negative tokens", `{"choices": [{"message": {"content": "hi"}}], "usage": {"prompt_tokens": -1, "completion_tokens": 0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			})

			_, err := client.Complete(context.Background(), "m",
				[]ChatMessage{{Role: "user", Content: "Hi"}})
			if err == nil {
				t.Fatal("Expected error for malformed body")
			}
			if !IsTransportError(err) {
				t.Errorf("Expected transport error class, got %T: %v", err, err)
			}
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}).WithTimeout(20 * time.Millisecond)

	_, err := client.Complete(context.Background(), "m",
		[]ChatMessage{{Role: "user", Content: "Hi"}})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !IsTransportError(err) {
		t.Errorf("Expected transport error class, got %T: %v", err, err)
	}
}

func TestComplete_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, "m", []ChatMessage{{Role: "user", Content: "Hi"}})
	if !IsTransportError(err) {
		t.Errorf("Expected transport error class, got %T: %v", err, err)
	}
}

func TestKeyFingerprint(t *testing.T) {
	if got := NewClient("").KeyFingerprint(); got != "none" {
		t.Errorf("KeyFingerprint = %q, want none", got)
	}

	fp := NewClient("secret").KeyFingerprint()
	if len(fp) != 8 {
		t.Errorf("Fingerprint length = %d, want 8", len(fp))
	}
	if fp == "secret" {
		t.Error("Fingerprint must not expose the key")
	}
}
