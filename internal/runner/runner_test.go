package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testProject() config.ProjectConfig {
	return config.ProjectConfig{Name: "demo", MaxWorkers: 2, WorkerTimeoutSeconds: 300}
}

type fakePlanner struct {
	tasks []*domain.Task
	cost  float64
	calls int
}

func (p *fakePlanner) Plan(ctx context.Context, cycleID string) ([]*domain.Task, float64, error) {
	p.calls++
	for _, t := range p.tasks {
		t.CycleID = cycleID
	}
	return p.tasks, p.cost, nil
}

// fakeExecutor succeeds unless the task ID is listed in fail
type fakeExecutor struct {
	fail map[string]bool
	cost float64
}

func (e *fakeExecutor) Run(ctx context.Context, task *domain.Task) *domain.ExecutionResult {
	res := &domain.ExecutionResult{TaskID: task.ID, CostUSD: e.cost}
	if e.fail[task.ID] {
		res.Error = "agent crashed"
		return res
	}
	res.Success = true
	res.Output = "done"
	return res
}

// fakeVerdicts fails tasks listed in reject
type fakeVerdicts struct {
	reject map[string]bool
	calls  int
}

func (v *fakeVerdicts) Evaluate(ctx context.Context, task *domain.Task, result *domain.ExecutionResult) *domain.Verdict {
	v.calls++
	return &domain.Verdict{TaskID: task.ID, Passed: !v.reject[task.ID], CostUSD: 0.01}
}

func TestRunCycle_PausedProjectDoesNoWork(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetPaused("demo", true); err != nil {
		t.Fatal(err)
	}

	planner := &fakePlanner{}
	r := New(testProject(), store, planner, &fakeExecutor{}, &fakeVerdicts{})

	cycle, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cycle.Status != domain.CycleCompleted {
		t.Errorf("Status = %q, want completed", cycle.Status)
	}
	if planner.calls != 0 {
		t.Error("planner must not run while paused")
	}
	cycles, err := store.RecentCycles("demo", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 0 {
		t.Errorf("paused cycle should not be persisted, got %d rows", len(cycles))
	}
}

func TestRunCycle_PlansWhenBacklogLow(t *testing.T) {
	store := newTestStore(t)
	planned := []*domain.Task{
		domain.NewTask("demo", "a", "d", domain.TypeCode),
		domain.NewTask("demo", "b", "d", domain.TypeCode),
	}
	planner := &fakePlanner{tasks: planned, cost: 0.05}
	r := New(testProject(), store, planner, &fakeExecutor{cost: 0.10}, &fakeVerdicts{})

	cycle, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if planner.calls != 1 {
		t.Fatalf("planner calls = %d, want 1", planner.calls)
	}
	if cycle.TasksCreated != 2 {
		t.Errorf("TasksCreated = %d, want 2", cycle.TasksCreated)
	}
	if cycle.TasksCompleted != 2 {
		t.Errorf("TasksCompleted = %d, want 2", cycle.TasksCompleted)
	}

	// Planning + execution + verdict costs all land on the cycle.
	want := 0.05 + 2*0.10 + 2*0.01
	if diff := cycle.TotalCostUSD - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCostUSD = %v, want %v", cycle.TotalCostUSD, want)
	}

	for _, task := range planned {
		got, err := store.GetTask(task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.Status != domain.StatusDone {
			t.Errorf("task %s not done: %+v", task.ID, got)
		}
	}
}

func TestRunCycle_SkipsPlanningWithFullBacklog(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 2; i++ {
		if err := store.CreateTask(domain.NewTask("demo", "t", "d", domain.TypeCode)); err != nil {
			t.Fatal(err)
		}
	}

	planner := &fakePlanner{}
	r := New(testProject(), store, planner, &fakeExecutor{}, &fakeVerdicts{})

	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if planner.calls != 0 {
		t.Error("planner should not run when the backlog fills all slots")
	}
}

func TestRunCycle_ExecutionFailureSkipsVerdict(t *testing.T) {
	store := newTestStore(t)
	task := domain.NewTask("demo", "t", "d", domain.TypeCode)
	task.RetryCount = task.MaxRetries
	if err := store.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	verdicts := &fakeVerdicts{}
	r := New(testProject(), store, &fakePlanner{}, &fakeExecutor{fail: map[string]bool{task.ID: true}}, verdicts)

	cycle, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if verdicts.calls != 0 {
		t.Error("failed executions must not be judged")
	}
	if cycle.TasksFailed != 1 {
		t.Errorf("TasksFailed = %d, want 1", cycle.TasksFailed)
	}
	got, _ := store.GetTask(task.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
}

func TestRunCycle_RejectedTaskIsRequeuedThenFailed(t *testing.T) {
	store := newTestStore(t)
	pass := domain.NewTask("demo", "good", "d", domain.TypeCode)
	flaky := domain.NewTask("demo", "bad", "d", domain.TypeCode)
	for _, task := range []*domain.Task{pass, flaky} {
		if err := store.CreateTask(task); err != nil {
			t.Fatal(err)
		}
	}

	verdicts := &fakeVerdicts{reject: map[string]bool{flaky.ID: true}}
	r := New(testProject(), store, &fakePlanner{}, &fakeExecutor{}, verdicts)

	cycle, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cycle.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", cycle.TasksCompleted)
	}
	if cycle.TasksFailed != 0 {
		t.Errorf("TasksFailed = %d, want 0 while retries remain", cycle.TasksFailed)
	}

	got, _ := store.GetTask(flaky.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("rejected task Status = %q, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}

	// Exhaust the retries: every further cycle rejects the task again.
	for i := 0; i < flaky.MaxRetries; i++ {
		if _, err := r.RunCycle(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	got, _ = store.GetTask(flaky.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q after exhausting retries, want failed", got.Status)
	}

	// Project aggregates moved.
	state, err := store.ProjectState("demo")
	if err != nil {
		t.Fatal(err)
	}
	if state.TotalTasksCompleted != 1 {
		t.Errorf("TotalTasksCompleted = %d, want 1", state.TotalTasksCompleted)
	}
	if state.TotalCycles != 1+flaky.MaxRetries {
		t.Errorf("TotalCycles = %d, want %d", state.TotalCycles, 1+flaky.MaxRetries)
	}
	if state.LastCycleAt == nil {
		t.Error("LastCycleAt not set")
	}
}

func TestRunCycle_NothingClaimedCompletesEmpty(t *testing.T) {
	store := newTestStore(t)
	verdicts := &fakeVerdicts{}
	r := New(testProject(), store, &fakePlanner{}, &fakeExecutor{}, verdicts)

	cycle, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cycle.Status != domain.CycleCompleted {
		t.Errorf("Status = %q, want completed", cycle.Status)
	}
	if verdicts.calls != 0 {
		t.Error("no tasks, no verdicts")
	}
	cycles, err := store.RecentCycles("demo", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(cycles))
	}
	if cycles[0].Status != domain.CycleCompleted {
		t.Errorf("persisted status = %q, want completed", cycles[0].Status)
	}
}
