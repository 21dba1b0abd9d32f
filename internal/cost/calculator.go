// Package cost computes and estimates the dollar cost of model invocations
// from the per-million-token pricing carried on each model descriptor.
package cost

import (
	"math"

	"github.com/modelgate/modelgate/internal/domain"
	"github.com/modelgate/modelgate/internal/registry"
)

// charsPerToken is the rough character-to-token ratio used when a backend
// does not report exact counts.
const charsPerToken = 4

type Calculator struct {
	registry *registry.Registry
}

func NewCalculator(r *registry.Registry) *Calculator {
	return &Calculator{registry: r}
}

// Calculate returns the cost of a completed invocation, rounded to the
// currency's precision. Unknown models cost zero rather than erroring:
// accounting must never fail a request.
func (c *Calculator) Calculate(model string, usage domain.Usage) float64 {
	m, err := c.registry.Get(model)
	if err != nil {
		return 0
	}

	promptCost := float64(usage.PromptTokens) / 1e6 * m.Pricing.PromptPerMillion
	completionCost := float64(usage.CompletionTokens) / 1e6 * m.Pricing.CompletionPerMillion

	return roundCurrency(promptCost + completionCost)
}

// Estimate predicts the worst-case cost of a request before it runs: prompt
// tokens from input length, completion tokens from the requested or model
// maximum. Used by the budget pre-check, so overestimating is preferred to
// underestimating.
func (c *Calculator) Estimate(model string, promptChars int, maxTokens *int) float64 {
	m, err := c.registry.Get(model)
	if err != nil {
		return 0
	}

	promptTokens := EstimateTokens(promptChars)
	completionTokens := m.MaxOutputTokens
	if maxTokens != nil && *maxTokens > 0 {
		completionTokens = *maxTokens
	}

	return c.Calculate(model, domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})
}

// EstimateTokens converts a character count to approximate tokens.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	tokens := chars / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// roundCurrency rounds to 6 decimal places, the precision usage records are
// stored at. Sub-microdollar remainders are noise at per-million pricing.
func roundCurrency(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
