// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pricing maps model identifiers and token counts to monetary cost.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownModel is returned when a model has no pricing entry.
// Use errors.Is(err, ErrUnknownModel) to check for this error.
var ErrUnknownModel = errors.New("no pricing for model")

// tokensPerPrice is the scale of configured prices (currency per million tokens).
var tokensPerPrice = decimal.NewFromInt(1_000_000)

// ModelPricing holds per-token prices for one model.
type ModelPricing struct {
	// Input is the price of a single prompt token.
	Input decimal.Decimal
	// Output is the price of a single completion token.
	Output decimal.Decimal
}

// PerMillion builds a ModelPricing from per-million-token prices, the unit
// providers publish their rates in.
func PerMillion(input, output decimal.Decimal) ModelPricing {
	return ModelPricing{
		Input:  input.Div(tokensPerPrice),
		Output: output.Div(tokensPerPrice),
	}
}

// Validate rejects negative prices.
func (p ModelPricing) Validate() error {
	if p.Input.Sign() < 0 {
		return fmt.Errorf("negative input price: %s", p.Input)
	}
	if p.Output.Sign() < 0 {
		return fmt.Errorf("negative output price: %s", p.Output)
	}
	return nil
}

// Table maps model identifiers to their per-token pricing.
type Table map[string]ModelPricing

// Resolve returns the pricing for a model.
// Returns ErrUnknownModel if the model has no entry.
func (t Table) Resolve(model string) (ModelPricing, error) {
	p, ok := t[model]
	if !ok {
		return ModelPricing{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return p, nil
}

// Validate checks every entry in the table.
func (t Table) Validate() error {
	for model, p := range t {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", model, err)
		}
	}
	return nil
}

// Cost returns tokens * perToken.
func Cost(tokens int, perToken decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(tokens)).Mul(perToken)
}
