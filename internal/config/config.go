// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/chatledger/chatledger/internal/pricing"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatledger configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `toml:"port"`

	// DatabasePath is where the SQLite ledger lives.
	DatabasePath string `toml:"database_path"`

	// Model is the active completion model. Every turn uses this model;
	// it must have a pricing entry.
	Model string `toml:"model"`

	// Mistral holds provider client settings.
	Mistral MistralConfig `toml:"mistral"`

	// Pricing maps model identifiers to per-million-token prices.
	Pricing map[string]ModelPrice `toml:"pricing"`
}

// MistralConfig contains Mistral API client configuration.
type MistralConfig struct {
	// APIKey authenticates against the Mistral API.
	// Environment: MISTRAL_API_KEY.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the API endpoint (mainly for tests).
	BaseURL string `toml:"base_url"`
	// TimeoutSecs bounds each completion request.
	TimeoutSecs int `toml:"timeout_secs"`
}

// ModelPrice holds a model's prices in currency units per million tokens,
// the unit providers publish. They are scaled to per-token decimals by
// PricingTable.
type ModelPrice struct {
	InputPer1M  float64 `toml:"input_per_1m"`
	OutputPer1M float64 `toml:"output_per_1m"`
}

// Timeout returns the provider request timeout as a duration.
func (m MistralConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSecs) * time.Second
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Port:         8000,
		DatabasePath: "chatledger.db",
		Model:        "mistral-small-latest",
		Mistral: MistralConfig{
			TimeoutSecs: 60,
		},
		Pricing: map[string]ModelPrice{
			"mistral-small-latest": {InputPer1M: 0.2, OutputPer1M: 0.6},
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path, and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CHATLEDGER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHATLEDGER_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CHATLEDGER_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("MISTRAL_API_KEY"); v != "" {
		c.Mistral.APIKey = v
	}
	if v := os.Getenv("MISTRAL_BASE_URL"); v != "" {
		c.Mistral.BaseURL = v
	}

	// Per-million prices for the active model, matching the deployment
	// convention of the original service environment.
	price := c.Pricing[c.Model]
	changed := false
	if v := os.Getenv("INPUT_COST_FOR_1M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid INPUT_COST_FOR_1M %q: %w", v, err)
		}
		price.InputPer1M = f
		changed = true
	}
	if v := os.Getenv("OUTPUT_COST_FOR_1M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid OUTPUT_COST_FOR_1M %q: %w", v, err)
		}
		price.OutputPer1M = f
		changed = true
	}
	if changed {
		if c.Pricing == nil {
			c.Pricing = make(map[string]ModelPrice)
		}
		c.Pricing[c.Model] = price
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration, failing fast on anything that would
// otherwise only blow up mid-request.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.New("database path must not be empty")
	}
	if c.Model == "" {
		return errors.New("no model configured")
	}
	if c.Mistral.APIKey == "" {
		return errors.New("MISTRAL_API_KEY not set")
	}
	if c.Mistral.TimeoutSecs <= 0 {
		return fmt.Errorf("mistral timeout %d must be positive", c.Mistral.TimeoutSecs)
	}

	table, err := c.PricingTable()
	if err != nil {
		return err
	}
	if _, err := table.Resolve(c.Model); err != nil {
		return fmt.Errorf("active model: %w", err)
	}
	return nil
}

// PricingTable scales the configured per-million prices into a per-token
// pricing table.
func (c *Config) PricingTable() (pricing.Table, error) {
	table := make(pricing.Table, len(c.Pricing))
	for model, p := range c.Pricing {
		mp := pricing.PerMillion(
			decimal.NewFromFloat(p.InputPer1M),
			decimal.NewFromFloat(p.OutputPer1M),
		)
		if err := mp.Validate(); err != nil {
			return nil, fmt.Errorf("pricing for %s: %w", model, err)
		}
		table[model] = mp
	}
	return table, nil
}
