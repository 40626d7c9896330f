package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryStore_AuditAndRuns(t *testing.T) {
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore failed: %v", err)
	}
	defer h.Close()

	now := time.Now()
	if err := h.RecordAudit(AuditEntry{Operation: "shell_exec", Detail: "ls", Outcome: "allowed", Timestamp: now}); err != nil {
		t.Fatalf("RecordAudit failed: %v", err)
	}
	if err := h.RecordAudit(AuditEntry{Operation: "shell_exec", Detail: "rm -rf /", Outcome: "denied", Timestamp: now}); err != nil {
		t.Fatalf("RecordAudit failed: %v", err)
	}

	entries, err := h.RecentAudit(10)
	if err != nil {
		t.Fatalf("RecentAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Outcome != "denied" {
		t.Errorf("Expected newest entry first, got %s", entries[0].Outcome)
	}

	st := &ExecutionState{
		RunID:                "run-1",
		Goal:                 "g",
		Plan:                 threeStepPlan(),
		CompletedStepIndices: []int{0, 1, 2},
		Status:               StatusCompleted,
		StartedAt:            now,
		LastUpdated:          now,
	}
	if err := h.ArchiveRun(st); err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	runs, err := h.ListRuns(5)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" || runs[0].CompletedSteps != 3 || runs[0].TotalSteps != 3 {
		t.Errorf("Unexpected run archive: %+v", runs)
	}
}
