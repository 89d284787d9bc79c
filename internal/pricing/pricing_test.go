// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing maps model identifiers and token counts to monetary cost.
package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPerMillionScaling(t *testing.T) {
	// $2 per million input tokens, $6 per million output tokens.
	p := PerMillion(decimal.NewFromInt(2), decimal.NewFromInt(6))

	if want := decimal.RequireFromString("0.000002"); !p.Input.Equal(want) {
		t.Errorf("Input = %s, want %s", p.Input, want)
	}
	if want := decimal.RequireFromString("0.000006"); !p.Output.Equal(want) {
		t.Errorf("Output = %s, want %s", p.Output, want)
	}
}

func TestTableResolve(t *testing.T) {
	table := Table{
		"mistral-small-latest": PerMillion(decimal.NewFromInt(2), decimal.NewFromInt(6)),
	}

	p, err := table.Resolve("mistral-small-latest")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Input.IsZero() || p.Output.IsZero() {
		t.Error("Resolved prices should be non-zero")
	}

	_, err = table.Resolve("mistral-large-latest")
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Expected ErrUnknownModel, got %v", err)
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name     string
		tokens   int
		perToken string
		want     string
	}{
		{"small input", 5, "0.001", "0.005"},
		{"small output", 3, "0.002", "0.006"},
		{"zero tokens", 0, "0.001", "0"},
		{"large count", 1_000_000, "0.0000025", "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.tokens, decimal.RequireFromString(tt.perToken))
			if want := decimal.RequireFromString(tt.want); !got.Equal(want) {
				t.Errorf("Cost(%d, %s) = %s, want %s", tt.tokens, tt.perToken, got, want)
			}
		})
	}
}

func TestCostNoDriftAcrossManyTurns(t *testing.T) {
	// 0.1 is unrepresentable in binary floating point; a thousand
	// accumulations must still sum exactly.
	perToken := decimal.RequireFromString("0.1")

	total := decimal.Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(Cost(1, perToken))
	}

	if want := decimal.NewFromInt(100); !total.Equal(want) {
		t.Errorf("Accumulated total = %s, want %s", total, want)
	}
}

func TestValidate(t *testing.T) {
	good := Table{"m": PerMillion(decimal.NewFromInt(1), decimal.NewFromInt(2))}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate failed on good table: %v", err)
	}

	bad := Table{"m": {Input: decimal.RequireFromString("-0.001"), Output: decimal.Zero}}
	if err := bad.Validate(); err == nil {
		t.Error("Expected validation error for negative price")
	}
}
