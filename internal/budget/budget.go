// Package budget is the cost and context accountant: per-model pricing,
// USD cost computation, context-window budgeting and cost-limit checks.
package budget

import (
	"fmt"
	"math"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

// ModelRate is USD per million tokens for one model.
type ModelRate struct {
	InputUSDPerMillion  float64
	OutputUSDPerMillion float64
}

// DefaultPricingKey is the fallback row used for unknown models.
const DefaultPricingKey = "default"

// Pricing is the per-model rate table.
var Pricing = map[string]ModelRate{
	"claude-sonnet-4-20250514": {InputUSDPerMillion: 3.0, OutputUSDPerMillion: 15.0},
	"claude-opus-4-20250514":   {InputUSDPerMillion: 15.0, OutputUSDPerMillion: 75.0},
	DefaultPricingKey:          {InputUSDPerMillion: 3.0, OutputUSDPerMillion: 15.0},
}

// ContextWindows maps model id to context window size in tokens.
var ContextWindows = map[string]int{
	"claude-sonnet-4-20250514": 200_000,
	"claude-opus-4-20250514":   200_000,
}

// DefaultContextWindow is assumed for models without a known window.
const DefaultContextWindow = 200_000

// Cost returns the USD cost of an iteration's token usage, rounded to
// four decimals with banker's rounding so repeated computation over the
// same inputs is bit-stable.
func Cost(inputTokens, outputTokens int, model string) float64 {
	rate, ok := Pricing[model]
	if !ok {
		rate = Pricing[DefaultPricingKey]
	}
	raw := float64(inputTokens)/1_000_000*rate.InputUSDPerMillion +
		float64(outputTokens)/1_000_000*rate.OutputUSDPerMillion
	return math.RoundToEven(raw*10_000) / 10_000
}

// ContextWindow returns the context window size for a model.
func ContextWindow(model string) int {
	if w, ok := ContextWindows[model]; ok {
		return w
	}
	return DefaultContextWindow
}

// ContextBudget tracks token usage against a context window, targeting
// the 40-60% "smart zone" and triggering a hand-off at 60%.
type ContextBudget struct {
	TotalCapacity int
	SafetyMargin  float64

	CurrentUsage int
}

// NewContextBudget builds a budget from configuration and model.
func NewContextBudget(cfg *config.Config, model string) *ContextBudget {
	capacity := cfg.Context.TotalCapacity
	if capacity <= 0 {
		capacity = ContextWindow(model)
	}
	return &ContextBudget{
		TotalCapacity: capacity,
		SafetyMargin:  cfg.Context.SafetyMargin,
	}
}

// EffectiveCapacity is the total capacity minus the safety margin.
func (b *ContextBudget) EffectiveCapacity() int {
	return int(float64(b.TotalCapacity) * (1 - b.SafetyMargin))
}

// SmartZoneMax is the upper bound of the smart zone (60% of capacity).
func (b *ContextBudget) SmartZoneMax() int {
	return int(float64(b.TotalCapacity) * 0.60)
}

// AvailableTokens is the headroom left before effective capacity.
func (b *ContextBudget) AvailableTokens() int {
	remaining := b.EffectiveCapacity() - b.CurrentUsage
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercentage is current usage over total capacity, 0-100.
func (b *ContextBudget) UsagePercentage() float64 {
	if b.TotalCapacity <= 0 {
		return 0
	}
	return float64(b.CurrentUsage) / float64(b.TotalCapacity) * 100
}

// AddUsage accrues token usage.
func (b *ContextBudget) AddUsage(tokens int) {
	b.CurrentUsage += tokens
}

// Reset clears usage for a fresh session.
func (b *ContextBudget) Reset() {
	b.CurrentUsage = 0
}

// ShouldHandoff reports whether usage has reached the smart-zone max.
func (b *ContextBudget) ShouldHandoff() bool {
	return b.CurrentUsage >= b.SmartZoneMax()
}

// CheckCostLimits compares cumulative figures against the configured
// budgets after an iteration. The first breach found is returned as a
// typed budget error carrying the limit that was hit.
func CheckCostLimits(limits config.CostLimits, iterationCost, sessionCost, totalCost float64) error {
	if limits.PerIteration > 0 && iterationCost >= limits.PerIteration {
		return fmt.Errorf("%w: $%.4f >= $%.2f", types.ErrIterationBudgetExceeded, iterationCost, limits.PerIteration)
	}
	if limits.PerSession > 0 && sessionCost >= limits.PerSession {
		return fmt.Errorf("%w: $%.4f >= $%.2f", types.ErrSessionBudgetExceeded, sessionCost, limits.PerSession)
	}
	if limits.Total > 0 && totalCost >= limits.Total {
		return fmt.Errorf("%w: $%.4f >= $%.2f", types.ErrTotalBudgetExceeded, totalCost, limits.Total)
	}
	return nil
}
