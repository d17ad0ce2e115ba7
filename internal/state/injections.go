package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/CipherScout/Ralph/internal/types"
)

// AddInjection appends a context injection for the next iteration.
// The queue is newline-delimited JSON so appends never rewrite
// previously queued entries.
func (s *Store) AddInjection(content string, source types.InjectionSource, priority int) error {
	injection := types.Injection{
		Timestamp: types.Now(),
		Content:   content,
		Source:    source,
		Priority:  priority,
	}
	if err := injection.Validate(); err != nil {
		return err
	}
	if err := s.EnsureRalphDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(InjectionFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return mapFSError(err)
	}
	defer f.Close()

	line, err := json.Marshal(injection)
	if err != nil {
		return fmt.Errorf("cannot marshal injection: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return mapFSError(err)
	}
	return nil
}

// LoadInjections returns all queued injections sorted by priority
// descending, then timestamp ascending. Missing file means an empty
// queue, not an error.
func (s *Store) LoadInjections() ([]types.Injection, error) {
	f, err := os.Open(s.path(InjectionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, mapFSError(err)
	}
	defer f.Close()

	var injections []types.Injection
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var injection types.Injection
		if err := json.Unmarshal(line, &injection); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrCorruptedState, InjectionFile, err)
		}
		injections = append(injections, injection)
	}
	if err := scanner.Err(); err != nil {
		return nil, mapFSError(err)
	}

	sort.SliceStable(injections, func(i, j int) bool {
		if injections[i].Priority != injections[j].Priority {
			return injections[i].Priority > injections[j].Priority
		}
		return injections[i].Timestamp.Before(injections[j].Timestamp.Time)
	})
	return injections, nil
}

// ClearInjections deletes the queue after one iteration consumed it.
func (s *Store) ClearInjections() error {
	err := os.Remove(s.path(InjectionFile))
	if err != nil && !os.IsNotExist(err) {
		return mapFSError(err)
	}
	return nil
}
