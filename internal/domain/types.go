package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
	StatusSkipped    TaskStatus = "skipped"
)

// Terminal returns true if the status closes the task's lifecycle
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// TaskType categorizes the kind of work a task represents
type TaskType string

const (
	TypeCode   TaskType = "code"
	TypeTest   TaskType = "test"
	TypeFix    TaskType = "fix"
	TypeReview TaskType = "review"
)

// ValidTaskType reports whether s names a known task type
func ValidTaskType(s string) bool {
	switch TaskType(s) {
	case TypeCode, TypeTest, TypeFix, TypeReview:
		return true
	}
	return false
}

// CycleStatus represents the state of a planning cycle
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)
