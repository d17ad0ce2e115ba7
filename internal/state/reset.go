package state

import (
	"os"
	"path/filepath"
)

// MemoryDir is the structured memory tree under .ralph/.
const MemoryDir = ".ralph/memory"

// Reset zeroes out orchestrator state. The plan survives when keepPlan
// is set; config.yaml is always preserved.
func (s *Store) Reset(keepPlan bool) error {
	targets := []string{StateFile, InjectionFile, ProgressFile, MemoryFile}
	if !keepPlan {
		targets = append(targets, PlanFile)
	}
	for _, rel := range targets {
		if err := os.Remove(s.path(rel)); err != nil && !os.IsNotExist(err) {
			return mapFSError(err)
		}
	}
	if _, err := s.InitializeState(); err != nil {
		return err
	}
	if !keepPlan {
		if _, err := s.InitializePlan(); err != nil {
			return err
		}
	}
	return nil
}

// CleanTargets lists the files Clean would remove, for --dry-run.
func (s *Store) CleanTargets(includeMemory bool) []string {
	targets := []string{StateFile, PlanFile, InjectionFile, ProgressFile, LockFile, SessionsFile}
	if includeMemory {
		targets = append(targets, MemoryFile, MemoryDir)
	}
	var existing []string
	for _, rel := range targets {
		if _, err := os.Stat(s.path(rel)); err == nil {
			existing = append(existing, rel)
		}
	}
	return existing
}

// Clean deletes state files. With includeMemory the memory tree and
// MEMORY.md go too. config.yaml is never touched.
func (s *Store) Clean(includeMemory bool) error {
	for _, rel := range []string{StateFile, PlanFile, InjectionFile, ProgressFile, LockFile, SessionsFile} {
		if err := os.Remove(s.path(rel)); err != nil && !os.IsNotExist(err) {
			return mapFSError(err)
		}
	}
	if includeMemory {
		if err := os.Remove(s.path(MemoryFile)); err != nil && !os.IsNotExist(err) {
			return mapFSError(err)
		}
		if err := os.RemoveAll(filepath.Join(s.projectRoot, filepath.FromSlash(MemoryDir))); err != nil {
			return mapFSError(err)
		}
	}
	return nil
}
