package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is the retry budget a task starts with
const DefaultMaxRetries = 2

// DefaultBranchPrefix namespaces orchestrator-owned branches
const DefaultBranchPrefix = "orch"

// NewID returns a short unique task/cycle identifier
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Task is one unit of dispatchable work with a lifecycle status
type Task struct {
	ID          string
	Project     string
	Title       string
	Description string
	Type        TaskType
	Status      TaskStatus
	Branch      string
	Prompt      string
	Priority    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CycleID     string
	RetryCount  int
	MaxRetries  int
}

// NewTask creates a pending task with a fresh ID, a branch derived from the
// ID, and a default work prompt. Branch and Prompt may be overridden before
// the task is persisted.
func NewTask(project, title, description string, taskType TaskType) *Task {
	id := NewID()
	return &Task{
		ID:          id,
		Project:     project,
		Title:       title,
		Description: description,
		Type:        taskType,
		Status:      StatusPending,
		Branch:      BranchName(DefaultBranchPrefix, id),
		Prompt:      fmt.Sprintf("# Task: %s\n\n%s", title, description),
		CreatedAt:   time.Now().UTC(),
		MaxRetries:  DefaultMaxRetries,
	}
}

// BranchName derives the isolation branch for a task ID
func BranchName(prefix, id string) string {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return prefix + "/" + id
}

// RetriesLeft returns true if the task may be re-queued after a failure
func (t *Task) RetriesLeft() bool {
	return t.RetryCount < t.MaxRetries
}
