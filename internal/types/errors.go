package types

import "errors"

// Persistence errors. Surfaced to the CLI with a non-zero exit and
// never silently ignored.
var (
	// ErrStateNotFound indicates .ralph/ state files do not exist yet
	ErrStateNotFound = errors.New("state not found")
	// ErrCorruptedState indicates a state file exists but cannot be decoded
	ErrCorruptedState = errors.New("corrupted state")
	// ErrPermissionDenied indicates the filesystem refused the operation
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDiskFull indicates the write could not complete for lack of space
	ErrDiskFull = errors.New("disk full")
)

// Data-model violations. Returned to the tool surface caller and
// surfaced to the executor as a structured tool failure, never a crash.
var (
	// ErrUnknownTask indicates a task id that does not resolve within the plan
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidTransition indicates a task status change outside the legal graph
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrDuplicateID indicates an insertion that would reuse an existing task id
	ErrDuplicateID = errors.New("duplicate task id")
	// ErrUnknownDependency indicates a dependency on a task id not in the plan
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrCycleIntroduced indicates an insertion that would make the DAG cyclic
	ErrCycleIntroduced = errors.New("cycle introduced")
	// ErrInvalidPlan indicates the persisted plan violates its own invariants
	ErrInvalidPlan = errors.New("invalid plan")
)

// Budget breaches. Routed to the circuit breaker as iteration failures.
var (
	// ErrIterationBudgetExceeded indicates the per-iteration cost limit was hit
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
	// ErrSessionBudgetExceeded indicates the per-session cost limit was hit
	ErrSessionBudgetExceeded = errors.New("session budget exceeded")
	// ErrTotalBudgetExceeded indicates the project cost limit was hit
	ErrTotalBudgetExceeded = errors.New("total budget exceeded")
)

// Operational errors for the CLI and loop layers.
var (
	// ErrNotInitialized indicates the project has no .ralph workspace yet
	ErrNotInitialized = errors.New("project not initialized")
	// ErrAlreadyInitialized indicates init was called without --force on an existing workspace
	ErrAlreadyInitialized = errors.New("project already initialized")
	// ErrCircuitOpen indicates the circuit breaker halted the loop
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrIterationLimit indicates the configured iteration cap was reached
	ErrIterationLimit = errors.New("iteration limit reached")
	// ErrLockHeld indicates another orchestrator owns the project's .ralph directory
	ErrLockHeld = errors.New("lock held by another process")
)
