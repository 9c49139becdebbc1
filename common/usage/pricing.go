// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"fmt"
	"regexp"
)

// Claude model pricing as of June 2025
// Prices stored in cents per 1M tokens to avoid floating point issues
// All prices are USD

// ModelPricing contains pricing for a specific model family
type ModelPricing struct {
	PromptCostPer1M     int // cents per 1M prompt tokens
	CompletionCostPer1M int // cents per 1M completion tokens
}

// modelPricing maps model families to pricing. Keys are undated model
// names; dated ids are reduced to their family before lookup.
var modelPricing = map[string]ModelPricing{
	"claude-opus-4":     {1500, 7500}, // $15.00/$75.00 per 1M tokens
	"claude-sonnet-4":   {300, 1500},  // $3.00/$15.00 per 1M tokens
	"claude-3-7-sonnet": {300, 1500},  // $3.00/$15.00 per 1M tokens
	"claude-3-5-sonnet": {300, 1500},  // $3.00/$15.00 per 1M tokens
	"claude-3-5-haiku":  {80, 400},    // $0.80/$4.00 per 1M tokens
	"claude-3-opus":     {1500, 7500}, // $15.00/$75.00 per 1M tokens
	"claude-3-haiku":    {25, 125},    // $0.25/$1.25 per 1M tokens

	// Default fallback pricing (Sonnet rates)
	"default": {300, 1500},
}

// dateSuffix matches the date part of dated model ids, both the
// Anthropic form (claude-sonnet-4-20250514) and the Vertex form
// (claude-sonnet-4@20250514).
var dateSuffix = regexp.MustCompile(`[-@]\d{8}$`)

// CalculateCost calculates the cost in cents for a completion request
// Returns cost in cents (integer) to avoid floating point precision issues
func CalculateCost(model string, promptTokens, completionTokens int) int {
	pricing, ok := modelPricing[normalizeModel(model)]
	if !ok {
		pricing = modelPricing["default"]
	}

	// Calculate cost in cents
	promptCost := (promptTokens * pricing.PromptCostPer1M) / 1000000
	completionCost := (completionTokens * pricing.CompletionCostPer1M) / 1000000

	return promptCost + completionCost
}

// PricingFor returns the pricing for a model and whether it came from
// the table rather than the default fallback
func PricingFor(model string) (ModelPricing, bool) {
	pricing, ok := modelPricing[normalizeModel(model)]
	if !ok {
		return modelPricing["default"], false
	}
	return pricing, true
}

// FormatCostToDollars converts cents to dollar string (e.g., 135 cents -> "$1.35")
func FormatCostToDollars(cents int) string {
	dollars := float64(cents) / 100.0
	return fmt.Sprintf("$%.2f", dollars)
}

// normalizeModel reduces a model id to its pricing family. Exact table
// hits pass through; dated ids lose their date suffix.
func normalizeModel(model string) string {
	if _, ok := modelPricing[model]; ok {
		return model
	}
	return dateSuffix.ReplaceAllString(model, "")
}
