package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Circuit breaker defaults.
const (
	DefaultMaxConsecutiveFailures  = 3
	DefaultMaxStagnationIterations = 5
	DefaultMaxCostUSD              = 100.0
)

// CircuitBreakerState tracks consecutive failures, stagnation and
// cumulative cost to decide when the loop must halt. Cost itself is
// tracked on RalphState; the breaker only holds the limit.
type CircuitBreakerState struct {
	State                   CircuitState `json:"state"`
	FailureCount            int          `json:"failure_count"`
	StagnationCount         int          `json:"stagnation_count"`
	MaxConsecutiveFailures  int          `json:"max_consecutive_failures"`
	MaxStagnationIterations int          `json:"max_stagnation_iterations"`
	MaxCostUSD              float64      `json:"max_cost_usd"`
	LastFailureReason       string       `json:"last_failure_reason,omitempty"`
}

// NewCircuitBreaker returns a closed breaker with default thresholds.
func NewCircuitBreaker() CircuitBreakerState {
	return CircuitBreakerState{
		State:                   CircuitClosed,
		MaxConsecutiveFailures:  DefaultMaxConsecutiveFailures,
		MaxStagnationIterations: DefaultMaxStagnationIterations,
		MaxCostUSD:              DefaultMaxCostUSD,
	}
}

// RecordSuccess resets the failure counter. Stagnation advances unless
// a task completed or other meaningful progress was made. A half-open
// breaker closes on one success.
func (cb *CircuitBreakerState) RecordSuccess(tasksCompleted int, progressMade bool) {
	cb.FailureCount = 0
	if tasksCompleted > 0 || progressMade {
		cb.StagnationCount = 0
	} else {
		cb.StagnationCount++
	}
	if cb.State == CircuitHalfOpen {
		cb.State = CircuitClosed
	}
}

// RecordFailure advances both counters and opens the breaker once the
// failure threshold is met. A half-open breaker re-opens on one failure.
func (cb *CircuitBreakerState) RecordFailure(reason string) {
	cb.FailureCount++
	cb.StagnationCount++
	cb.LastFailureReason = reason
	if cb.State == CircuitHalfOpen || cb.FailureCount >= cb.MaxConsecutiveFailures {
		cb.State = CircuitOpen
	}
}

// ShouldHalt reports whether any counter has met its cap, with the
// explicit reason string the orchestrator keys recovery actions on.
func (cb *CircuitBreakerState) ShouldHalt(currentCostUSD float64) (bool, string) {
	if cb.FailureCount >= cb.MaxConsecutiveFailures {
		return true, fmt.Sprintf("consecutive_failures:%d", cb.FailureCount)
	}
	if cb.StagnationCount >= cb.MaxStagnationIterations {
		return true, fmt.Sprintf("stagnation:%d", cb.StagnationCount)
	}
	if currentCostUSD >= cb.MaxCostUSD {
		return true, fmt.Sprintf("cost_limit:$%.2f", currentCostUSD)
	}
	return false, ""
}

// HalfOpen moves an open breaker to half-open. Called on operator
// resume or session hand-off so one probe iteration can run.
func (cb *CircuitBreakerState) HalfOpen() {
	if cb.State == CircuitOpen {
		cb.State = CircuitHalfOpen
		cb.FailureCount = 0
		cb.StagnationCount = 0
	}
}

// Reset returns the breaker to its initial closed state.
func (cb *CircuitBreakerState) Reset() {
	cb.State = CircuitClosed
	cb.FailureCount = 0
	cb.StagnationCount = 0
	cb.LastFailureReason = ""
}

// Validate checks the breaker's fields are within their legal ranges.
func (cb *CircuitBreakerState) Validate() error {
	if cb.State == "" {
		cb.State = CircuitClosed
	}
	if !cb.State.IsValid() {
		return fmt.Errorf("circuit_breaker.state: invalid value %q, must be one of: %v", cb.State, AllCircuitStates())
	}
	if cb.FailureCount < 0 || cb.StagnationCount < 0 {
		return fmt.Errorf("circuit_breaker: counters must be non-negative")
	}
	return nil
}

// CompletionSignal records that the LLM signaled a phase complete via
// the structured tool surface.
type CompletionSignal struct {
	Complete   bool      `json:"complete"`
	Summary    string    `json:"summary,omitempty"`
	SignaledAt Timestamp `json:"signaled_at"`
}

// RalphState is the root orchestrator record persisted to
// .ralph/state.json — the single source of truth surviving context
// window resets.
//
// Unknown keys found in state.json are retained and written back
// verbatim so newer tooling's fields survive a round-trip through an
// older binary.
type RalphState struct {
	ProjectRoot               string
	CurrentPhase              Phase
	IterationCount            int
	SessionIterationCount     int
	SessionID                 string
	TotalCostUSD              float64
	TotalTokensUsed           int
	StartedAt                 Timestamp
	LastActivityAt            Timestamp
	SessionCostUSD            float64
	SessionTokensUsed         int
	TasksCompletedThisSession int
	Paused                    bool
	CircuitBreaker            CircuitBreakerState
	CompletionSignals         map[string]CompletionSignal

	extra map[string]json.RawMessage
}

// NewState creates the initial state for a project rooted at the given
// absolute path.
func NewState(projectRoot string) *RalphState {
	now := Now()
	return &RalphState{
		ProjectRoot:       projectRoot,
		CurrentPhase:      PhaseDiscovery,
		StartedAt:         now,
		LastActivityAt:    now,
		CircuitBreaker:    NewCircuitBreaker(),
		CompletionSignals: map[string]CompletionSignal{},
	}
}

// stateKeys is the canonical key order of state.json. Extra keys are
// appended after these, sorted.
var stateKeys = []string{
	"project_root",
	"current_phase",
	"iteration_count",
	"session_iteration_count",
	"session_id",
	"total_cost_usd",
	"total_tokens_used",
	"started_at",
	"last_activity_at",
	"session_cost_usd",
	"session_tokens_used",
	"tasks_completed_this_session",
	"paused",
	"circuit_breaker",
	"completion_signals",
}

func (s *RalphState) knownFields() map[string]any {
	fields := map[string]any{
		"project_root":                 s.ProjectRoot,
		"current_phase":                s.CurrentPhase,
		"iteration_count":              s.IterationCount,
		"session_iteration_count":      s.SessionIterationCount,
		"total_cost_usd":               s.TotalCostUSD,
		"total_tokens_used":            s.TotalTokensUsed,
		"started_at":                   s.StartedAt,
		"last_activity_at":             s.LastActivityAt,
		"session_cost_usd":             s.SessionCostUSD,
		"session_tokens_used":          s.SessionTokensUsed,
		"tasks_completed_this_session": s.TasksCompletedThisSession,
		"paused":                       s.Paused,
		"circuit_breaker":              s.CircuitBreaker,
	}
	if s.SessionID != "" {
		fields["session_id"] = s.SessionID
	}
	if len(s.CompletionSignals) > 0 {
		fields["completion_signals"] = s.CompletionSignals
	}
	return fields
}

// MarshalJSON writes keys in canonical order so that repeated saves of
// the same state are byte-identical.
func (s *RalphState) MarshalJSON() ([]byte, error) {
	fields := s.knownFields()

	var extraKeys []string
	for k := range s.extra {
		if _, known := fields[k]; !known {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writePair := func(key string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(valueJSON)
		return nil
	}

	for _, key := range stateKeys {
		value, present := fields[key]
		if !present {
			continue
		}
		if err := writePair(key, value); err != nil {
			return nil, err
		}
	}
	for _, key := range extraKeys {
		if err := writePair(key, s.extra[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the canonical fields and stashes any unknown
// keys for the next save.
func (s *RalphState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := map[string]any{
		"project_root":                 &s.ProjectRoot,
		"current_phase":                &s.CurrentPhase,
		"iteration_count":              &s.IterationCount,
		"session_iteration_count":      &s.SessionIterationCount,
		"session_id":                   &s.SessionID,
		"total_cost_usd":               &s.TotalCostUSD,
		"total_tokens_used":            &s.TotalTokensUsed,
		"started_at":                   &s.StartedAt,
		"last_activity_at":             &s.LastActivityAt,
		"session_cost_usd":             &s.SessionCostUSD,
		"session_tokens_used":          &s.SessionTokensUsed,
		"tasks_completed_this_session": &s.TasksCompletedThisSession,
		"paused":                       &s.Paused,
		"circuit_breaker":              &s.CircuitBreaker,
		"completion_signals":           &s.CompletionSignals,
	}

	s.extra = nil
	for key, value := range raw {
		target, ok := known[key]
		if !ok {
			if s.extra == nil {
				s.extra = map[string]json.RawMessage{}
			}
			s.extra[key] = value
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return fmt.Errorf("state.%s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces the cross-field invariants of the root record.
func (s *RalphState) Validate() error {
	if s.ProjectRoot == "" {
		return fmt.Errorf("state.project_root: field is required")
	}
	if s.CurrentPhase == "" {
		s.CurrentPhase = PhaseDiscovery
	}
	if !s.CurrentPhase.IsValid() {
		return fmt.Errorf("state.current_phase: invalid value %q, must be one of: %v", s.CurrentPhase, AllPhases())
	}
	if s.IterationCount < 0 {
		return fmt.Errorf("state.iteration_count: must be non-negative")
	}
	if s.SessionCostUSD > s.TotalCostUSD {
		return fmt.Errorf("state.session_cost_usd: %f exceeds total_cost_usd %f", s.SessionCostUSD, s.TotalCostUSD)
	}
	if s.SessionTokensUsed > s.TotalTokensUsed {
		return fmt.Errorf("state.session_tokens_used: %d exceeds total_tokens_used %d", s.SessionTokensUsed, s.TotalTokensUsed)
	}
	return s.CircuitBreaker.Validate()
}

// StartIteration bumps the monotone iteration counters and refreshes
// the activity timestamp.
func (s *RalphState) StartIteration() {
	s.IterationCount++
	s.SessionIterationCount++
	s.LastActivityAt = Now()
}

// EndIteration accrues cost and token usage at both session and project
// scope and feeds the outcome to the circuit breaker.
func (s *RalphState) EndIteration(costUSD float64, tokensUsed int, taskCompleted, progressMade bool) {
	s.TotalCostUSD += costUSD
	s.TotalTokensUsed += tokensUsed
	s.SessionCostUSD += costUSD
	s.SessionTokensUsed += tokensUsed
	s.LastActivityAt = Now()

	if taskCompleted {
		s.TasksCompletedThisSession++
		s.CircuitBreaker.RecordSuccess(1, true)
	} else {
		s.CircuitBreaker.RecordSuccess(0, progressMade)
	}
}

// StartNewSession resets session-scoped accounting under a fresh
// session id. Project-lifetime totals are untouched.
func (s *RalphState) StartNewSession(sessionID string) {
	s.SessionID = sessionID
	s.SessionCostUSD = 0
	s.SessionTokensUsed = 0
	s.TasksCompletedThisSession = 0
	s.SessionIterationCount = 0
	s.CircuitBreaker.HalfOpen()
}

// AdvancePhase moves the state to a new phase. Legality of the edge is
// the phase machine's concern; this only records the move.
func (s *RalphState) AdvancePhase(phase Phase) {
	s.CurrentPhase = phase
	s.LastActivityAt = Now()
}

// SignalPhaseComplete records that the executor signaled the given
// phase finished.
func (s *RalphState) SignalPhaseComplete(phase Phase, summary string) {
	if s.CompletionSignals == nil {
		s.CompletionSignals = map[string]CompletionSignal{}
	}
	s.CompletionSignals[phase.String()] = CompletionSignal{
		Complete:   true,
		Summary:    summary,
		SignaledAt: Now(),
	}
}

// IsPhaseSignaled reports whether a completion signal is recorded for
// the phase.
func (s *RalphState) IsPhaseSignaled(phase Phase) bool {
	sig, ok := s.CompletionSignals[phase.String()]
	return ok && sig.Complete
}

// ClearPhaseSignal removes a phase's completion signal after the
// transition consumes it.
func (s *RalphState) ClearPhaseSignal(phase Phase) {
	delete(s.CompletionSignals, phase.String())
}

// ShouldHalt checks the circuit breaker against current cumulative cost.
func (s *RalphState) ShouldHalt() (bool, string) {
	return s.CircuitBreaker.ShouldHalt(s.TotalCostUSD)
}
