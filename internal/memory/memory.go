// Package memory captures structured markdown memories at iteration,
// phase-transition and session-handoff boundaries, and assembles the
// bounded "active memory" string injected into the next iteration's
// prompt. Capture is harness-controlled; the executor never writes
// memory directly.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

// Directory layout under the project root.
const (
	phasesDir     = ".ralph/memory/phases"
	iterationsDir = ".ralph/memory/iterations"
	sessionsDir   = ".ralph/memory/sessions"
	archiveDir    = ".ralph/memory/archive"
)

// IterationMemory is captured at the end of every iteration.
type IterationMemory struct {
	Iteration      int
	Phase          types.Phase
	Timestamp      types.Timestamp
	TasksCompleted []string
	TasksBlocked   []string
	ProgressMade   bool
	TokensUsed     int
	CostUSD        float64
	Error          string
}

// PhaseMemory is captured at every phase transition.
type PhaseMemory struct {
	Phase             types.Phase
	CompletedAt       types.Timestamp
	IterationsInPhase int
	Artifacts         map[string]string
	Summary           string
}

// SessionMemory is captured at every session hand-off.
type SessionMemory struct {
	SessionID      string
	Phase          types.Phase
	Iteration      int
	EndedAt        types.Timestamp
	HandoffReason  string
	TasksInProgress []string
	TokensUsed     int
	CostUSD        float64
}

// Stats summarizes the on-disk memory tree.
type Stats struct {
	IterationFiles int
	SessionFiles   int
	PhaseFiles     int
	ArchiveFiles   int
	TotalSizeBytes int64
}

// Manager owns the memory tree for one project.
type Manager struct {
	projectRoot string
	cfg         config.ContextConfig
}

// NewManager creates a memory manager and ensures the directory tree
// exists.
func NewManager(projectRoot string, cfg config.ContextConfig) (*Manager, error) {
	m := &Manager{projectRoot: projectRoot, cfg: cfg}
	for _, dir := range []string{phasesDir, iterationsDir, sessionsDir, archiveDir} {
		if err := os.MkdirAll(m.path(dir), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create memory directory: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) path(rel string) string {
	return filepath.Join(m.projectRoot, filepath.FromSlash(rel))
}

// CaptureIteration writes memory/iterations/iter-NNN.md for the
// iteration that just finished.
func (m *Manager) CaptureIteration(mem IterationMemory) (string, error) {
	name := fmt.Sprintf("iter-%03d.md", mem.Iteration)
	path := filepath.Join(m.path(iterationsDir), name)
	if err := os.WriteFile(path, []byte(formatIterationMemory(mem)), 0o644); err != nil {
		return "", fmt.Errorf("cannot write iteration memory: %w", err)
	}
	return path, nil
}

// CapturePhaseTransition writes memory/phases/<phase>.md, overwriting
// any previous record for the same phase.
func (m *Manager) CapturePhaseTransition(mem PhaseMemory) (string, error) {
	path := filepath.Join(m.path(phasesDir), mem.Phase.String()+".md")
	if err := os.WriteFile(path, []byte(formatPhaseMemory(mem)), 0o644); err != nil {
		return "", fmt.Errorf("cannot write phase memory: %w", err)
	}
	return path, nil
}

// CaptureSessionHandoff writes memory/sessions/session-NNN.md, numbered
// after the existing records.
func (m *Manager) CaptureSessionHandoff(mem SessionMemory) (string, error) {
	existing, err := filepath.Glob(filepath.Join(m.path(sessionsDir), "session-*.md"))
	if err != nil {
		return "", err
	}
	next := 1
	for _, f := range existing {
		var n int
		if _, err := fmt.Sscanf(filepath.Base(f), "session-%d.md", &n); err == nil && n >= next {
			next = n + 1
		}
	}
	name := fmt.Sprintf("session-%03d.md", next)
	path := filepath.Join(m.path(sessionsDir), name)
	if err := os.WriteFile(path, []byte(formatSessionMemory(mem)), 0o644); err != nil {
		return "", fmt.Errorf("cannot write session memory: %w", err)
	}
	return path, nil
}

// LoadPhaseMemory returns the recorded memory for a phase, or "".
func (m *Manager) LoadPhaseMemory(phase types.Phase) string {
	data, err := os.ReadFile(filepath.Join(m.path(phasesDir), phase.String()+".md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// RecentIterationFiles returns the contents of the most recent n
// iteration memories, newest first.
func (m *Manager) RecentIterationFiles(n int) []string {
	files, err := filepath.Glob(filepath.Join(m.path(iterationsDir), "iter-*.md"))
	if err != nil || len(files) == 0 {
		return nil
	}
	sort.Strings(files) // iter-NNN naming sorts chronologically
	if len(files) > n {
		files = files[len(files)-n:]
	}
	var contents []string
	for i := len(files) - 1; i >= 0; i-- {
		data, err := os.ReadFile(files[i])
		if err != nil {
			continue
		}
		contents = append(contents, string(data))
	}
	return contents
}

// ActiveMemoryInput carries the state the assembler summarizes.
type ActiveMemoryInput struct {
	State          *types.RalphState
	Plan           *types.ImplementationPlan
	CrossedPhase   bool
	CurrentTask    *types.Task
	RunnableCount  int
}

// BuildActiveMemory composes the bounded markdown string injected into
// the next prompt: previous phase memory (when the last iteration
// crossed a phase boundary), the last three iteration memories, the
// current task and runnable set, then session metrics. A result over the
// configured cap is cut from the tail and marked "...(truncated)";
// section headers past the cut are dropped along with their content.
func (m *Manager) BuildActiveMemory(input ActiveMemoryInput) string {
	var sections []string

	if input.CrossedPhase {
		if prev := previousPhase(input.State.CurrentPhase); prev != "" {
			if content := m.LoadPhaseMemory(prev); content != "" {
				sections = append(sections,
					fmt.Sprintf("## From %s Phase\n%s", titleCase(prev.String()), strings.TrimSpace(content)))
			}
		}
	}

	if recent := m.RecentIterationFiles(3); len(recent) > 0 {
		var summaries []string
		for _, content := range recent {
			summaries = append(summaries, strings.TrimSpace(content))
		}
		sections = append(sections, "## Recent Progress\n"+strings.Join(summaries, "\n\n"))
	}

	sections = append(sections, "## Task State\n"+formatTaskState(input))
	sections = append(sections, "## Session Metrics\n"+formatSessionMetrics(input.State))

	combined := strings.Join(sections, "\n\n")
	if max := m.cfg.MaxActiveMemoryChars; max > 50 && len(combined) > max {
		combined = combined[:max-50] + "\n\n...(truncated)"
	}
	return combined
}

// Rotate moves iteration and session files beyond their caps into the
// archive and deletes archive entries past the retention window.
// Returns (rotated, deleted).
func (m *Manager) Rotate() (int, int, error) {
	rotated := 0

	rotateDir := func(dir, pattern string, keep int) error {
		files, err := filepath.Glob(filepath.Join(m.path(dir), pattern))
		if err != nil {
			return err
		}
		sort.Strings(files)
		if len(files) <= keep {
			return nil
		}
		for _, f := range files[:len(files)-keep] {
			target := filepath.Join(m.path(archiveDir), filepath.Base(f))
			if err := os.Rename(f, target); err != nil {
				return fmt.Errorf("cannot archive %s: %w", f, err)
			}
			rotated++
		}
		return nil
	}

	if err := rotateDir(iterationsDir, "iter-*.md", m.cfg.MaxIterationFiles); err != nil {
		return rotated, 0, err
	}
	if err := rotateDir(sessionsDir, "session-*.md", m.cfg.MaxSessionFiles); err != nil {
		return rotated, 0, err
	}

	deleted, err := m.cleanupArchive()
	return rotated, deleted, err
}

// cleanupArchive deletes archived files older than the retention
// window.
func (m *Manager) cleanupArchive() (int, error) {
	entries, err := os.ReadDir(m.path(archiveDir))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -m.cfg.ArchiveRetentionDays)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(m.path(archiveDir), entry.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// GetStats counts the files in each memory directory.
func (m *Manager) GetStats() Stats {
	stats := Stats{}
	count := func(dir, pattern string) (int, int64) {
		files, err := filepath.Glob(filepath.Join(m.path(dir), pattern))
		if err != nil {
			return 0, 0
		}
		var size int64
		for _, f := range files {
			if info, err := os.Stat(f); err == nil {
				size += info.Size()
			}
		}
		return len(files), size
	}

	var size int64
	stats.IterationFiles, size = count(iterationsDir, "iter-*.md")
	stats.TotalSizeBytes += size
	stats.SessionFiles, size = count(sessionsDir, "session-*.md")
	stats.TotalSizeBytes += size
	stats.PhaseFiles, size = count(phasesDir, "*.md")
	stats.TotalSizeBytes += size
	stats.ArchiveFiles, size = count(archiveDir, "*")
	stats.TotalSizeBytes += size
	return stats
}

// --- formatting ---

func formatIterationMemory(mem IterationMemory) string {
	completed := "- None"
	if len(mem.TasksCompleted) > 0 {
		completed = "- " + strings.Join(mem.TasksCompleted, "\n- ")
	}
	blocked := "- None"
	if len(mem.TasksBlocked) > 0 {
		blocked = "- " + strings.Join(mem.TasksBlocked, "\n- ")
	}
	progress := "No"
	if mem.ProgressMade {
		progress = "Yes"
	}
	errSection := ""
	if mem.Error != "" {
		errSection = "\n### Error\n" + mem.Error + "\n"
	}

	return fmt.Sprintf(`## Iteration %d (%s)

**Time**: %s
**Progress**: %s | Tokens: %d | Cost: $%.4f

### Tasks Completed
%s

### Tasks Blocked
%s
%s`, mem.Iteration, mem.Phase, mem.Timestamp.Format("2006-01-02 15:04"),
		progress, mem.TokensUsed, mem.CostUSD, completed, blocked, errSection)
}

func formatPhaseMemory(mem PhaseMemory) string {
	artifacts := "- None"
	if len(mem.Artifacts) > 0 {
		keys := make([]string, 0, len(mem.Artifacts))
		for k := range mem.Artifacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", k, mem.Artifacts[k]))
		}
		artifacts = strings.Join(lines, "\n")
	}
	summary := mem.Summary
	if summary == "" {
		summary = "No artifacts recorded"
	}

	return fmt.Sprintf(`# %s Phase Memory

**Completed**: %s
**Iterations**: %d

## Summary
%s

## Artifacts
%s
`, titleCase(mem.Phase.String()), mem.CompletedAt.Format("2006-01-02 15:04"),
		mem.IterationsInPhase, summary, artifacts)
}

func formatSessionMemory(mem SessionMemory) string {
	inProgress := "None"
	if len(mem.TasksInProgress) > 0 {
		inProgress = strings.Join(mem.TasksInProgress, ", ")
	}

	return fmt.Sprintf(`# Session Handoff Memory

**Session ID**: %s
**Phase**: %s
**Iteration**: %d
**Ended**: %s
**Handoff Reason**: %s

## Tasks In Progress
%s

## Session Metrics
- Tokens used: %d
- Cost: $%.4f
`, mem.SessionID, mem.Phase, mem.Iteration, mem.EndedAt.Format("2006-01-02 15:04"),
		mem.HandoffReason, inProgress, mem.TokensUsed, mem.CostUSD)
}

func formatTaskState(input ActiveMemoryInput) string {
	plan := input.Plan
	if len(plan.Tasks) == 0 {
		return "No tasks defined"
	}
	var lines []string
	lines = append(lines, fmt.Sprintf("- Total: %d tasks", len(plan.Tasks)))
	lines = append(lines, fmt.Sprintf("- Complete: %d (%.0f%%)", plan.CompleteCount(), plan.CompletionPercentage()*100))
	if input.CurrentTask != nil {
		lines = append(lines, fmt.Sprintf("- Current: %s (%s)", input.CurrentTask.ID, input.CurrentTask.Description))
	}
	lines = append(lines, fmt.Sprintf("- Runnable: %d", input.RunnableCount))
	if blocked := plan.BlockedCount(); blocked > 0 {
		lines = append(lines, fmt.Sprintf("- Blocked: %d", blocked))
	}
	return strings.Join(lines, "\n")
}

func formatSessionMetrics(st *types.RalphState) string {
	return fmt.Sprintf(`- Iteration: %d
- Session iterations: %d
- Session cost: $%.4f
- Session tokens: %d
- Tasks this session: %d`,
		st.IterationCount, st.SessionIterationCount, st.SessionCostUSD,
		st.SessionTokensUsed, st.TasksCompletedThisSession)
}

func previousPhase(current types.Phase) types.Phase {
	order := types.AllPhases()
	for i, p := range order {
		if p == current && i > 0 {
			return order[i-1]
		}
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
