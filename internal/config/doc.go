// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation.
//
// Configuration is resolved in three layers, later layers winning:
// built-in defaults, an optional TOML file, then environment variables.
// A .env file is honored when present (loaded by main before Load runs).
//
// Validation happens once at startup and fails fast: a missing API key,
// an out-of-range port, or an active model with no pricing entry stops
// the process before it serves a single request.
package config
