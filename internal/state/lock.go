package state

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/CipherScout/Ralph/internal/types"
)

// lockRecord is the advisory lock content: who owns .ralph/ and since
// when. Running two orchestrators on one project root is undefined
// behavior; the lock turns it into an explicit error.
type lockRecord struct {
	PID       int             `json:"pid"`
	StartedAt types.Timestamp `json:"started_at"`
}

// AcquireLock takes the advisory lock for this process. A live lock
// held by another running process fails with ErrLockHeld; a lock left
// behind by a dead process is replaced.
func (s *Store) AcquireLock() error {
	if err := s.EnsureRalphDir(); err != nil {
		return err
	}
	lockPath := s.path(LockFile)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing lockRecord
		if json.Unmarshal(data, &existing) == nil && existing.PID > 0 && existing.PID != os.Getpid() {
			if processAlive(existing.PID) {
				return fmt.Errorf("%w: pid %d since %s", types.ErrLockHeld,
					existing.PID, existing.StartedAt.Format(types.TimeLayout))
			}
		}
	}

	record := lockRecord{PID: os.Getpid(), StartedAt: types.Now()}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return atomicWrite(lockPath, data)
}

// ReleaseLock removes the advisory lock if this process owns it.
func (s *Store) ReleaseLock() error {
	lockPath := s.path(LockFile)
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return mapFSError(err)
	}
	var record lockRecord
	if json.Unmarshal(data, &record) == nil && record.PID != os.Getpid() {
		return nil // not ours to remove
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return mapFSError(err)
	}
	return nil
}

// processAlive reports whether a PID refers to a running process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
