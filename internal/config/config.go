// Package config loads the .ralph/config.yaml configuration with
// defaults and RALPH_* environment overrides. The config file is
// read-only input: the core never writes it back.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"

	"github.com/CipherScout/Ralph/internal/types"
)

// CostLimits are the USD budgets checked after every iteration.
type CostLimits struct {
	PerIteration float64 `mapstructure:"per_iteration"`
	PerSession   float64 `mapstructure:"per_session"`
	Total        float64 `mapstructure:"total"`
}

// ContextConfig controls the context-window budget and memory caps.
type ContextConfig struct {
	TotalCapacity        int     `mapstructure:"total_capacity"`
	SafetyMargin         float64 `mapstructure:"safety_margin"`
	MaxActiveMemoryChars int     `mapstructure:"max_active_memory_chars"`
	MaxIterationFiles    int     `mapstructure:"max_iteration_files"`
	MaxSessionFiles      int     `mapstructure:"max_session_files"`
	ArchiveRetentionDays int     `mapstructure:"archive_retention_days"`
}

// SafetyConfig feeds the tool-call validator.
type SafetyConfig struct {
	BlockedCommands      []string `mapstructure:"blocked_commands"`
	GitReadOnly          bool     `mapstructure:"git_read_only"`
	AllowedGitOperations []string `mapstructure:"allowed_git_operations"`
	MaxRetries           int      `mapstructure:"max_retries"`
}

// PhaseConfig carries the per-phase overrides.
type PhaseConfig struct {
	AllowedTools         []string `mapstructure:"allowed_tools"`
	MaxTurns             int      `mapstructure:"max_turns"`
	RequireHumanApproval bool     `mapstructure:"require_human_approval"`
	Backpressure         []string `mapstructure:"backpressure"`
}

// BuildConfig names the verification commands run as backpressure.
type BuildConfig struct {
	TestCommand      string `mapstructure:"test_command"`
	LintCommand      string `mapstructure:"lint_command"`
	TypecheckCommand string `mapstructure:"typecheck_command"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

// Config is the complete Ralph configuration.
type Config struct {
	PrimaryModel  string `mapstructure:"primary_model"`
	PlanningModel string `mapstructure:"planning_model"`
	MaxIterations int    `mapstructure:"max_iterations"`

	CircuitBreakerFailures   int `mapstructure:"circuit_breaker_failures"`
	CircuitBreakerStagnation int `mapstructure:"circuit_breaker_stagnation"`

	CostLimits CostLimits    `mapstructure:"cost_limits"`
	Context    ContextConfig `mapstructure:"context"`
	Safety     SafetyConfig  `mapstructure:"safety"`
	Build      BuildConfig   `mapstructure:"build"`

	Phases map[string]PhaseConfig `mapstructure:"phases"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		PrimaryModel:             "claude-sonnet-4-20250514",
		PlanningModel:            "claude-opus-4-20250514",
		MaxIterations:            100,
		CircuitBreakerFailures:   types.DefaultMaxConsecutiveFailures,
		CircuitBreakerStagnation: types.DefaultMaxStagnationIterations,
		CostLimits: CostLimits{
			PerIteration: 2.0,
			PerSession:   50.0,
			Total:        200.0,
		},
		Context: ContextConfig{
			TotalCapacity:        200_000,
			SafetyMargin:         0.20,
			MaxActiveMemoryChars: 8000,
			MaxIterationFiles:    20,
			MaxSessionFiles:      10,
			ArchiveRetentionDays: 30,
		},
		Safety: SafetyConfig{
			BlockedCommands: []string{},
			GitReadOnly:     true,
			AllowedGitOperations: []string{
				"status", "log", "diff", "show", "ls-files", "blame", "branch",
			},
			MaxRetries: types.MaxTaskRetries,
		},
		Build: BuildConfig{
			TimeoutSeconds: 300,
		},
		Phases: map[string]PhaseConfig{},
	}
}

// Load reads .ralph/config.yaml under the project root, falling back
// to defaults when the file is absent. Environment variables override
// file values.
func Load(projectRoot string) (*Config, error) {
	cfg := DefaultConfig()
	configPath := filepath.Join(projectRoot, ".ralph", "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = defaults.PrimaryModel
	}
	if cfg.PlanningModel == "" {
		cfg.PlanningModel = defaults.PlanningModel
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.CircuitBreakerFailures == 0 {
		cfg.CircuitBreakerFailures = defaults.CircuitBreakerFailures
	}
	if cfg.CircuitBreakerStagnation == 0 {
		cfg.CircuitBreakerStagnation = defaults.CircuitBreakerStagnation
	}
	if cfg.CostLimits.PerIteration == 0 {
		cfg.CostLimits.PerIteration = defaults.CostLimits.PerIteration
	}
	if cfg.CostLimits.PerSession == 0 {
		cfg.CostLimits.PerSession = defaults.CostLimits.PerSession
	}
	if cfg.CostLimits.Total == 0 {
		cfg.CostLimits.Total = defaults.CostLimits.Total
	}
	if cfg.Context.TotalCapacity == 0 {
		cfg.Context.TotalCapacity = defaults.Context.TotalCapacity
	}
	if cfg.Context.SafetyMargin == 0 {
		cfg.Context.SafetyMargin = defaults.Context.SafetyMargin
	}
	if cfg.Context.MaxActiveMemoryChars == 0 {
		cfg.Context.MaxActiveMemoryChars = defaults.Context.MaxActiveMemoryChars
	}
	if cfg.Context.MaxIterationFiles == 0 {
		cfg.Context.MaxIterationFiles = defaults.Context.MaxIterationFiles
	}
	if cfg.Context.MaxSessionFiles == 0 {
		cfg.Context.MaxSessionFiles = defaults.Context.MaxSessionFiles
	}
	if cfg.Context.ArchiveRetentionDays == 0 {
		cfg.Context.ArchiveRetentionDays = defaults.Context.ArchiveRetentionDays
	}
	if len(cfg.Safety.AllowedGitOperations) == 0 {
		cfg.Safety.AllowedGitOperations = defaults.Safety.AllowedGitOperations
	}
	if cfg.Safety.MaxRetries == 0 {
		cfg.Safety.MaxRetries = defaults.Safety.MaxRetries
	}
	if cfg.Build.TimeoutSeconds == 0 {
		cfg.Build.TimeoutSeconds = defaults.Build.TimeoutSeconds
	}
	if cfg.Phases == nil {
		cfg.Phases = map[string]PhaseConfig{}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RALPH_PRIMARY_MODEL"); v != "" {
		cfg.PrimaryModel = v
	}
	if v := os.Getenv("RALPH_PLANNING_MODEL"); v != "" {
		cfg.PlanningModel = v
	}
	if v := os.Getenv("RALPH_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("RALPH_MAX_COST_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.CostLimits.Total = f
		}
	}
	if v := os.Getenv("RALPH_CIRCUIT_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CircuitBreakerFailures = n
		}
	}
	if v := os.Getenv("RALPH_CIRCUIT_BREAKER_STAGNATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CircuitBreakerStagnation = n
		}
	}
}

// PhaseOverride returns the configured overrides for a phase, if any.
func (c *Config) PhaseOverride(phase types.Phase) (PhaseConfig, bool) {
	pc, ok := c.Phases[phase.String()]
	return pc, ok
}

// BackpressureCommands returns the verification commands for a phase,
// falling back to the build commands when the phase has none.
func (c *Config) BackpressureCommands(phase types.Phase) []string {
	if pc, ok := c.PhaseOverride(phase); ok && len(pc.Backpressure) > 0 {
		return pc.Backpressure
	}
	var cmds []string
	for _, cmd := range []string{c.Build.TestCommand, c.Build.LintCommand, c.Build.TypecheckCommand} {
		if cmd != "" {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// ModelForPhase selects the model to use: the planning model for the
// planning phase, the primary model otherwise.
func (c *Config) ModelForPhase(phase types.Phase) string {
	if phase == types.PhasePlanning {
		return c.PlanningModel
	}
	return c.PrimaryModel
}
