package domain

import (
	"strings"
	"testing"
)

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("demo", "Add parser", "Implement the config parser", TypeCode)

	if len(task.ID) != 12 {
		t.Errorf("ID length = %d, want 12", len(task.ID))
	}
	if task.Status != StatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.Branch != "orch/"+task.ID {
		t.Errorf("Branch = %q, want orch/%s", task.Branch, task.ID)
	}
	if !strings.Contains(task.Prompt, "Add parser") {
		t.Errorf("Prompt missing title: %q", task.Prompt)
	}
	if task.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", task.MaxRetries, DefaultMaxRetries)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		prefix string
		id     string
		want   string
	}{
		{"orch", "abc123", "orch/abc123"},
		{"bot", "abc123", "bot/abc123"},
		{"", "abc123", "orch/abc123"},
	}
	for _, tt := range tests {
		if got := BranchName(tt.prefix, tt.id); got != tt.want {
			t.Errorf("BranchName(%q, %q) = %q, want %q", tt.prefix, tt.id, got, tt.want)
		}
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusInProgress, false},
		{StatusDone, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTask_RetriesLeft(t *testing.T) {
	task := NewTask("demo", "t", "d", TypeFix)
	if !task.RetriesLeft() {
		t.Error("fresh task should have retries left")
	}
	task.RetryCount = task.MaxRetries
	if task.RetriesLeft() {
		t.Error("exhausted task should not have retries left")
	}
}
