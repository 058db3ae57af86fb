// Package statestore provides SQLite-backed durable state for tasks, cycles,
// execution results, verdicts, and per-project aggregates. One store instance
// owns one database file; all mutations are serialized through a store-wide
// mutex so concurrent callers never interleave partial writes.
package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that lexicographic order of stored timestamps
// matches chronological order (list queries sort on the raw column).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides SQLite-backed orchestrator state persistence
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a Store backed by the database at dbPath, creating the schema
// if needed. WAL journaling keeps readers unblocked during cycle writes.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task row
func (s *Store) CreateTask(task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project, title, description, task_type, status, branch,
			prompt, priority, created_at, started_at, completed_at, cycle_id, retry_count, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.Project,
		task.Title,
		task.Description,
		string(task.Type),
		string(task.Status),
		task.Branch,
		task.Prompt,
		task.Priority,
		formatTime(task.CreatedAt),
		formatTimePtr(task.StartedAt),
		formatTimePtr(task.CompletedAt),
		task.CycleID,
		task.RetryCount,
		task.MaxRetries,
	)
	return err
}

// GetTask retrieves a task by ID. Returns (nil, nil) if no such task exists.
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project, title, description, task_type, status, branch,
			prompt, priority, created_at, started_at, completed_at, cycle_id, retry_count, max_retries
		FROM tasks WHERE id = ?
	`, id)

	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	Project string
	Status  domain.TaskStatus
	CycleID string
}

// ListTasks returns tasks matching the given options, ordered by priority
// descending then creation time ascending (stable FIFO within a priority tier).
func (s *Store) ListTasks(opts ListOptions) ([]*domain.Task, error) {
	query := `SELECT id, project, title, description, task_type, status, branch,
		prompt, priority, created_at, started_at, completed_at, cycle_id, retry_count, max_retries
		FROM tasks WHERE 1=1`
	var args []interface{}

	if opts.Project != "" {
		query += " AND project = ?"
		args = append(args, opts.Project)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.CycleID != "" {
		query += " AND cycle_id = ?"
		args = append(args, opts.CycleID)
	}

	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// UpdateTaskStatus sets a task's status. Moving to in_progress stamps
// started_at; moving to a terminal status stamps completed_at.
func (s *Store) UpdateTaskStatus(id string, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now().UTC())
	var err error
	switch {
	case status == domain.StatusInProgress:
		_, err = s.db.Exec(`UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
			string(status), now, id)
	case status.Terminal():
		_, err = s.db.Exec(`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
			string(status), now, id)
	default:
		_, err = s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	}
	return err
}

// TryClaimTask atomically transitions a task from pending to in_progress.
// Exactly one concurrent caller wins; everyone else gets false. This is the
// sole admission point for dispatch, implemented as a single conditional
// UPDATE so there is no read-then-write window.
func (s *Store) TryClaimTask(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusInProgress), formatTime(time.Now().UTC()), id, string(domain.StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementRetry atomically bumps the retry count and re-queues the task.
// Returns the new retry count.
func (s *Store) IncrementRetry(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE tasks SET retry_count = retry_count + 1, status = ? WHERE id = ?`,
		string(domain.StatusPending), id)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRow(`SELECT retry_count FROM tasks WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// PendingCount returns the number of pending tasks for a project
func (s *Store) PendingCount(project string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE project = ? AND status = ?`,
		project, string(domain.StatusPending)).Scan(&count)
	return count, err
}

// CreateCycle inserts a new cycle row
func (s *Store) CreateCycle(cycle *domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO cycles (id, project, status, started_at, completed_at,
			tasks_created, tasks_completed, tasks_failed, total_cost_usd, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cycle.ID,
		cycle.Project,
		string(cycle.Status),
		formatTime(cycle.StartedAt),
		formatTimePtr(cycle.CompletedAt),
		cycle.TasksCreated,
		cycle.TasksCompleted,
		cycle.TasksFailed,
		cycle.TotalCostUSD,
		cycle.Error,
	)
	return err
}

// CompleteCycle closes a cycle exactly once with its aggregated counts
func (s *Store) CompleteCycle(id string, status domain.CycleStatus, created, completed, failed int, totalCost float64, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE cycles SET status = ?, completed_at = ?, tasks_created = ?,
			tasks_completed = ?, tasks_failed = ?, total_cost_usd = ?, error = ?
		WHERE id = ?
	`, string(status), formatTime(time.Now().UTC()), created, completed, failed, totalCost, errText, id)
	return err
}

// RecentCycles returns up to limit cycles for a project, newest first
func (s *Store) RecentCycles(project string, limit int) ([]*domain.Cycle, error) {
	rows, err := s.db.Query(`
		SELECT id, project, status, started_at, completed_at,
			tasks_created, tasks_completed, tasks_failed, total_cost_usd, error
		FROM cycles WHERE project = ? ORDER BY started_at DESC LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*domain.Cycle
	for rows.Next() {
		var c domain.Cycle
		var status, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.Project, &status, &startedAt, &completedAt,
			&c.TasksCreated, &c.TasksCompleted, &c.TasksFailed, &c.TotalCostUSD, &c.Error); err != nil {
			return nil, err
		}
		c.Status = domain.CycleStatus(status)
		if c.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if c.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		cycles = append(cycles, &c)
	}
	return cycles, rows.Err()
}

// SaveResult upserts the execution result for a task (one row per task ID)
func (s *Store) SaveResult(r *domain.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO execution_results
			(task_id, success, output, error, diff_stat, files_changed, cost_usd, duration_seconds, messages_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TaskID, boolToInt(r.Success), r.Output, r.Error, r.DiffStat, r.FilesChanged,
		r.CostUSD, r.DurationSeconds, r.MessagesCount)
	return err
}

// GetResult retrieves the execution result for a task, or (nil, nil)
func (s *Store) GetResult(taskID string) (*domain.ExecutionResult, error) {
	var r domain.ExecutionResult
	var success int
	err := s.db.QueryRow(`
		SELECT task_id, success, output, error, diff_stat, files_changed, cost_usd, duration_seconds, messages_count
		FROM execution_results WHERE task_id = ?
	`, taskID).Scan(&r.TaskID, &success, &r.Output, &r.Error, &r.DiffStat,
		&r.FilesChanged, &r.CostUSD, &r.DurationSeconds, &r.MessagesCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Success = success != 0
	return &r, nil
}

// SaveVerdict upserts the verdict for a task (one row per task ID)
func (s *Store) SaveVerdict(v *domain.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO verdicts
			(task_id, passed, tests_passed, tests_failed, lint_ok, notes, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.TaskID, boolToInt(v.Passed), v.TestsPassed, v.TestsFailed, boolToInt(v.LintOK), v.Notes, v.CostUSD)
	return err
}

// GetVerdict retrieves the verdict for a task, or (nil, nil)
func (s *Store) GetVerdict(taskID string) (*domain.Verdict, error) {
	var v domain.Verdict
	var passed, lintOK int
	err := s.db.QueryRow(`
		SELECT task_id, passed, tests_passed, tests_failed, lint_ok, notes, cost_usd
		FROM verdicts WHERE task_id = ?
	`, taskID).Scan(&v.TaskID, &passed, &v.TestsPassed, &v.TestsFailed, &lintOK, &v.Notes, &v.CostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.Passed = passed != 0
	v.LintOK = lintOK != 0
	return &v, nil
}

// ProjectState returns the stored state for a project, or a fresh default
// row if the project has never been seen (created lazily on first upsert).
func (s *Store) ProjectState(name string) (*domain.ProjectState, error) {
	var st domain.ProjectState
	var enabled, paused int
	var lastCycleAt sql.NullString
	err := s.db.QueryRow(`
		SELECT name, enabled, paused, last_cycle_at, total_cycles, total_tasks_completed, total_cost_usd
		FROM project_state WHERE name = ?
	`, name).Scan(&st.Name, &enabled, &paused, &lastCycleAt,
		&st.TotalCycles, &st.TotalTasksCompleted, &st.TotalCostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProjectState{Name: name, Enabled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	st.Enabled = enabled != 0
	st.Paused = paused != 0
	if st.LastCycleAt, err = parseTimePtr(lastCycleAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertProjectState writes the full project state row
func (s *Store) UpsertProjectState(st *domain.ProjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO project_state
			(name, enabled, paused, last_cycle_at, total_cycles, total_tasks_completed, total_cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.Name, boolToInt(st.Enabled), boolToInt(st.Paused), formatTimePtr(st.LastCycleAt),
		st.TotalCycles, st.TotalTasksCompleted, st.TotalCostUSD)
	return err
}

// SetPaused flips the paused flag, creating the state row if the project has
// never been recorded.
func (s *Store) SetPaused(project string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE project_state SET paused = ? WHERE name = ?`, boolToInt(paused), project)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = s.db.Exec(`INSERT INTO project_state (name, paused) VALUES (?, ?)`, project, boolToInt(paused))
	}
	return err
}

func scanTask(scan func(dest ...interface{}) error) (*domain.Task, error) {
	var task domain.Task
	var taskType, status, createdAt string
	var startedAt, completedAt sql.NullString

	err := scan(&task.ID, &task.Project, &task.Title, &task.Description, &taskType, &status,
		&task.Branch, &task.Prompt, &task.Priority, &createdAt, &startedAt, &completedAt,
		&task.CycleID, &task.RetryCount, &task.MaxRetries)
	if err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(taskType)
	task.Status = domain.TaskStatus(status)
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
