package verify

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunAllPass(t *testing.T) {
	r := NewRunner(t.TempDir(), 0)
	results, err := r.Run(context.Background(), []string{"true", "echo ok"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, result := range results {
		if !result.Passed {
			t.Errorf("%s failed: %s", result.Command, result.Output)
		}
	}
	if !strings.Contains(results[1].Output, "ok") {
		t.Errorf("output not captured: %q", results[1].Output)
	}
}

// A failing command stops the sequence; later commands never run.
func TestRunStopsAtFirstFailure(t *testing.T) {
	r := NewRunner(t.TempDir(), 0)
	results, err := r.Run(context.Background(), []string{"true", "false", "echo never"})
	if err == nil {
		t.Fatal("expected failure error")
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (third must not run)", len(results))
	}
	if results[1].Passed {
		t.Error("false must fail")
	}
}

func TestRunSkipsBlankCommands(t *testing.T) {
	r := NewRunner(t.TempDir(), 0)
	results, err := r.Run(context.Background(), []string{"", "  ", "true"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestCommandTimeout(t *testing.T) {
	r := NewRunner(t.TempDir(), 100*time.Millisecond)
	results, err := r.Run(context.Background(), []string{"sleep 5"})
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if len(results) != 1 || !results[0].TimedOut {
		t.Errorf("results = %+v, want timed out", results)
	}
}

func TestFailureSummary(t *testing.T) {
	results := []CommandResult{
		{Command: "go test ./...", Passed: true, Output: "ok"},
		{Command: "go vet ./...", Passed: false, Output: "vet: suspicious call"},
	}
	summary := FailureSummary(results)
	if !strings.Contains(summary, "go vet ./...") || !strings.Contains(summary, "suspicious call") {
		t.Errorf("summary = %q", summary)
	}
	if strings.Contains(summary, "go test") {
		t.Error("passing commands must not appear in the summary")
	}
}

func TestFailureSummaryTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("e", 5000)
	summary := FailureSummary([]CommandResult{{Command: "x", Passed: false, Output: long}})
	if len(summary) > 2200 {
		t.Errorf("summary too long: %d chars", len(summary))
	}
}
