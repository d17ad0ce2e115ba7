package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CipherScout/Ralph/internal/config"
	"github.com/CipherScout/Ralph/internal/types"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	mgr, err := NewManager(root, config.DefaultConfig().Context)
	require.NoError(t, err)
	return mgr, root
}

func TestCaptureIterationNaming(t *testing.T) {
	mgr, root := newTestManager(t)

	path, err := mgr.CaptureIteration(IterationMemory{
		Iteration: 7,
		Phase:     types.PhaseBuilding,
		Timestamp: types.Now(),
		TokensUsed: 12_000,
		CostUSD:   0.12,
	})
	require.NoError(t, err)
	require.Equal(t, "iter-007.md", filepath.Base(path))

	data, err := os.ReadFile(filepath.Join(root, ".ralph/memory/iterations/iter-007.md"))
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "## Iteration 7 (building)")
	require.Contains(t, content, "Tokens: 12000")
}

func TestCapturePhaseOverwrites(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.CapturePhaseTransition(PhaseMemory{
		Phase:       types.PhasePlanning,
		CompletedAt: types.Now(),
		Summary:     "first version",
	})
	require.NoError(t, err)

	_, err = mgr.CapturePhaseTransition(PhaseMemory{
		Phase:       types.PhasePlanning,
		CompletedAt: types.Now(),
		Summary:     "second version",
	})
	require.NoError(t, err)

	content := mgr.LoadPhaseMemory(types.PhasePlanning)
	require.Contains(t, content, "second version")
	require.NotContains(t, content, "first version")
}

func TestCaptureSessionNumbering(t *testing.T) {
	mgr, _ := newTestManager(t)

	first, err := mgr.CaptureSessionHandoff(SessionMemory{SessionID: "a", Phase: types.PhaseBuilding, EndedAt: types.Now()})
	require.NoError(t, err)
	require.Equal(t, "session-001.md", filepath.Base(first))

	second, err := mgr.CaptureSessionHandoff(SessionMemory{SessionID: "b", Phase: types.PhaseBuilding, EndedAt: types.Now()})
	require.NoError(t, err)
	require.Equal(t, "session-002.md", filepath.Base(second))
}

func TestRotationCaps(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Context
	mgr, err := NewManager(root, cfg)
	require.NoError(t, err)

	for i := 1; i <= 23; i++ {
		_, err := mgr.CaptureIteration(IterationMemory{
			Iteration: i, Phase: types.PhaseBuilding, Timestamp: types.Now(),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 12; i++ {
		_, err := mgr.CaptureSessionHandoff(SessionMemory{SessionID: fmt.Sprintf("s%d", i), Phase: types.PhaseBuilding, EndedAt: types.Now()})
		require.NoError(t, err)
	}

	rotated, _, err := mgr.Rotate()
	require.NoError(t, err)
	require.Equal(t, 5, rotated) // 3 iteration files + 2 session files

	stats := mgr.GetStats()
	require.Equal(t, cfg.MaxIterationFiles, stats.IterationFiles)
	require.Equal(t, cfg.MaxSessionFiles, stats.SessionFiles)
	require.Equal(t, 5, stats.ArchiveFiles)

	// The most recent files are the ones kept.
	kept := mgr.RecentIterationFiles(1)
	require.Len(t, kept, 1)
	require.Contains(t, kept[0], "Iteration 23")
}

func TestArchiveRetention(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Context
	mgr, err := NewManager(root, cfg)
	require.NoError(t, err)

	// An archived file past the retention window.
	old := filepath.Join(root, ".ralph/memory/archive/iter-001.md")
	require.NoError(t, os.WriteFile(old, []byte("ancient"), 0o644))
	past := time.Now().AddDate(0, 0, -(cfg.ArchiveRetentionDays + 1))
	require.NoError(t, os.Chtimes(old, past, past))

	// A fresh archived file.
	fresh := filepath.Join(root, ".ralph/memory/archive/iter-002.md")
	require.NoError(t, os.WriteFile(fresh, []byte("recent"), 0o644))

	_, deleted, err := mgr.Rotate()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = os.Stat(old)
	require.True(t, os.IsNotExist(err), "expired archive entry must be deleted")
	_, err = os.Stat(fresh)
	require.NoError(t, err, "fresh archive entry must survive")
}

func TestBuildActiveMemorySections(t *testing.T) {
	mgr, _ := newTestManager(t)

	st := types.NewState("/tmp/demo")
	st.CurrentPhase = types.PhaseBuilding
	st.IterationCount = 4
	plan := types.NewPlan()
	require.NoError(t, plan.AddTask(types.NewTask("a", "build feature", 1)))

	_, err := mgr.CapturePhaseTransition(PhaseMemory{
		Phase: types.PhasePlanning, CompletedAt: types.Now(), Summary: "5 tasks planned",
	})
	require.NoError(t, err)
	_, err = mgr.CaptureIteration(IterationMemory{Iteration: 3, Phase: types.PhaseBuilding, Timestamp: types.Now()})
	require.NoError(t, err)

	task := &plan.Tasks[0]
	active := mgr.BuildActiveMemory(ActiveMemoryInput{
		State:         st,
		Plan:          plan,
		CrossedPhase:  true,
		CurrentTask:   task,
		RunnableCount: 1,
	})

	require.Contains(t, active, "## From Planning Phase")
	require.Contains(t, active, "5 tasks planned")
	require.Contains(t, active, "## Recent Progress")
	require.Contains(t, active, "## Task State")
	require.Contains(t, active, "build feature")
	require.Contains(t, active, "## Session Metrics")

	// Section order per the composition rules.
	require.Less(t, strings.Index(active, "## From Planning Phase"), strings.Index(active, "## Recent Progress"))
	require.Less(t, strings.Index(active, "## Recent Progress"), strings.Index(active, "## Task State"))
	require.Less(t, strings.Index(active, "## Task State"), strings.Index(active, "## Session Metrics"))
}

func TestActiveMemoryTruncation(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Context
	cfg.MaxActiveMemoryChars = 500
	mgr, err := NewManager(root, cfg)
	require.NoError(t, err)

	st := types.NewState("/tmp/demo")
	plan := types.NewPlan()
	for i := 0; i < 40; i++ {
		require.NoError(t, plan.AddTask(types.NewTask(
			fmt.Sprintf("task-%02d", i),
			strings.Repeat("long description ", 10), 1)))
	}
	for i := 1; i <= 3; i++ {
		_, err := mgr.CaptureIteration(IterationMemory{
			Iteration: i, Phase: types.PhaseBuilding, Timestamp: types.Now(),
			TasksCompleted: []string{strings.Repeat("x", 200)},
		})
		require.NoError(t, err)
	}

	active := mgr.BuildActiveMemory(ActiveMemoryInput{State: st, Plan: plan})
	require.LessOrEqual(t, len(active), 500)
	require.Contains(t, active, "(truncated)")
}

func TestPhaseMemoryMissing(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.Empty(t, mgr.LoadPhaseMemory(types.PhaseDiscovery))
}
