package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/CipherScout/Ralph/internal/types"
)

// AppendSessionArchive records a completed session as one line of
// session_history/sessions.jsonl.
func (s *Store) AppendSessionArchive(archive types.SessionArchive) error {
	if err := s.EnsureRalphDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(SessionsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return mapFSError(err)
	}
	defer f.Close()

	line, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("cannot marshal session archive: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return mapFSError(err)
	}
	return nil
}

// LoadSessionArchive returns up to limit archived sessions, most
// recent first. limit <= 0 means no limit.
func (s *Store) LoadSessionArchive(limit int) ([]types.SessionArchive, error) {
	f, err := os.Open(s.path(SessionsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mapFSError(err)
	}
	defer f.Close()

	var sessions []types.SessionArchive
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var archive types.SessionArchive
		if err := json.Unmarshal(line, &archive); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrCorruptedState, SessionsFile, err)
		}
		sessions = append(sessions, archive)
	}
	if err := scanner.Err(); err != nil {
		return nil, mapFSError(err)
	}

	// Most recent first
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
