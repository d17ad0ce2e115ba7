package budget

import (
	"errors"
	"testing"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name         string
		inputTokens  int
		outputTokens int
		model        string
		want         float64
	}{
		{"sonnet one million input", 1_000_000, 0, "claude-sonnet-4-20250514", 3.0},
		{"sonnet mixed", 100_000, 50_000, "claude-sonnet-4-20250514", 1.05},
		{"opus mixed", 100_000, 50_000, "claude-opus-4-20250514", 5.25},
		{"unknown model uses default row", 1_000_000, 0, "some-future-model", 3.0},
		{"zero tokens", 0, 0, "claude-sonnet-4-20250514", 0.0},
		{"rounds to four decimals", 1000, 0, "claude-sonnet-4-20250514", 0.003},
		{"banker's rounding on ties", 50, 0, "claude-sonnet-4-20250514", 0.0002},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.inputTokens, tt.outputTokens, tt.model)
			if got != tt.want {
				t.Errorf("Cost(%d, %d, %s) = %v, want %v",
					tt.inputTokens, tt.outputTokens, tt.model, got, tt.want)
			}
		})
	}
}

func TestCostIsDeterministic(t *testing.T) {
	a := Cost(123_456, 78_901, "claude-sonnet-4-20250514")
	b := Cost(123_456, 78_901, "claude-sonnet-4-20250514")
	if a != b {
		t.Errorf("cost not deterministic: %v != %v", a, b)
	}
}

func TestContextBudgetSmartZone(t *testing.T) {
	cfg := config.DefaultConfig()
	b := NewContextBudget(cfg, "claude-sonnet-4-20250514")

	if b.TotalCapacity != 200_000 {
		t.Fatalf("capacity = %d", b.TotalCapacity)
	}
	if b.SmartZoneMax() != 120_000 {
		t.Errorf("smart zone max = %d, want 120000", b.SmartZoneMax())
	}
	if b.EffectiveCapacity() != 160_000 {
		t.Errorf("effective capacity = %d, want 160000", b.EffectiveCapacity())
	}

	// 59.9%: no hand-off.
	b.CurrentUsage = 119_800
	if b.ShouldHandoff() {
		t.Error("must not hand off below 60%")
	}

	// Exactly 60.0%: hand-off.
	b.CurrentUsage = 120_000
	if !b.ShouldHandoff() {
		t.Error("must hand off at exactly 60%")
	}

	b.Reset()
	if b.CurrentUsage != 0 || b.ShouldHandoff() {
		t.Error("reset must clear usage")
	}
}

func TestContextBudgetAvailable(t *testing.T) {
	cfg := config.DefaultConfig()
	b := NewContextBudget(cfg, "claude-sonnet-4-20250514")
	b.AddUsage(150_000)
	if got := b.AvailableTokens(); got != 10_000 {
		t.Errorf("available = %d, want 10000", got)
	}
	b.AddUsage(50_000)
	if got := b.AvailableTokens(); got != 0 {
		t.Errorf("available = %d, want clamped to 0", got)
	}
}

func TestCheckCostLimits(t *testing.T) {
	limits := config.CostLimits{PerIteration: 2.0, PerSession: 50.0, Total: 200.0}

	tests := []struct {
		name                             string
		iteration, session, total        float64
		wantErr                          error
	}{
		{"all below", 1.0, 10.0, 100.0, nil},
		{"iteration at exactly the limit", 2.0, 10.0, 100.0, types.ErrIterationBudgetExceeded},
		{"session at exactly the limit", 1.0, 50.0, 100.0, types.ErrSessionBudgetExceeded},
		{"total at exactly the limit", 1.0, 10.0, 200.0, types.ErrTotalBudgetExceeded},
		{"just under", 1.9999, 49.9999, 199.9999, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCostLimits(limits, tt.iteration, tt.session, tt.total)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestZeroLimitsDisableChecks(t *testing.T) {
	if err := CheckCostLimits(config.CostLimits{}, 10, 100, 1000); err != nil {
		t.Errorf("zero limits must disable budget checks: %v", err)
	}
}
