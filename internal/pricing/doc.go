// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing maps model identifiers and token counts to monetary cost.
//
// Prices are configured per million tokens and scaled to per-token decimals
// at load time. All arithmetic uses decimal values so repeated small costs
// never accumulate float drift; callers convert to float only at the JSON
// boundary.
//
// An unknown model is a configuration error: callers resolve the active
// model once at startup and fail fast, not per request.
package pricing
