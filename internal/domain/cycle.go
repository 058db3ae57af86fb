package domain

import "time"

// Cycle is one planning-and-execution pass for a project
type Cycle struct {
	ID             string
	Project        string
	Status         CycleStatus
	StartedAt      time.Time
	CompletedAt    *time.Time
	TasksCreated   int
	TasksCompleted int
	TasksFailed    int
	TotalCostUSD   float64
	Error          string
}

// NewCycle creates a running cycle for a project
func NewCycle(project string) *Cycle {
	return &Cycle{
		ID:        NewID(),
		Project:   project,
		Status:    CycleRunning,
		StartedAt: time.Now().UTC(),
	}
}

// ExecutionResult captures the outcome of one executor attempt for a task.
// Re-attempts overwrite the previous row (keyed by TaskID).
type ExecutionResult struct {
	TaskID          string
	Success         bool
	Output          string
	Error           string
	DiffStat        string
	FilesChanged    int
	CostUSD         float64
	DurationSeconds float64
	MessagesCount   int
}

// Verdict is the pass/fail outcome of evaluating one execution result
type Verdict struct {
	TaskID      string
	Passed      bool
	TestsPassed int
	TestsFailed int
	LintOK      bool
	Notes       string
	CostUSD     float64
}

// ProjectState is the per-project aggregate, upserted after every cycle
type ProjectState struct {
	Name                string
	Enabled             bool
	Paused              bool
	LastCycleAt         *time.Time
	TotalCycles         int
	TotalTasksCompleted int
	TotalCostUSD        float64
}
