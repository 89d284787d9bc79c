// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mistral provides the HTTP client for Mistral chat completions.
//
// The client performs exactly one attempt per call; retry policy belongs to
// the caller (and this service performs none). Failures are normalized into
// two classes so callers can map them to distinct outcomes:
//
//   - APIError: the upstream explicitly rejected or errored the request
//     (a bad-gateway outcome for the HTTP layer)
//   - TransportError: network failure, timeout, or a malformed response
//     body (a service-unavailable outcome)
//
// Token counts and content in a Completion are only populated when the call
// succeeds; a success response missing choices or usage is a TransportError,
// never a partial result.
//
// # Usage
//
//	client := mistral.NewClient(apiKey)
//	resp, err := client.Complete(ctx, "mistral-small-latest", []mistral.ChatMessage{
//	    {Role: "user", Content: "Hello"},
//	})
package mistral
